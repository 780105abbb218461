// Package downstream calls the application services behind the gateway.
//
// Every call is bounded by its service's timeout and is retried exactly
// once on any failure. Call never returns an error: the caller gets a
// Result and decides what the user sees.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// FailureKind classifies a failed call.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureNetwork
	FailureBadResponse
	FailureUnknownService
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureNetwork:
		return "network"
	case FailureBadResponse:
		return "bad_response"
	case FailureUnknownService:
		return "unknown_service"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Result is the outcome of Call. Response is set iff Failure is
// FailureNone.
type Result struct {
	Response *Response
	Failure  FailureKind
	Attempts int
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Failure == FailureNone && r.Response != nil }

const maxAttempts = 2

// Options tune a Client.
type Options struct {
	// RetryJitter is the upper bound of a random pause before the retry.
	// Zero retries immediately.
	RetryJitter time.Duration
	UserAgent   string
	HTTPClient  *http.Client
}

// Client calls downstream services. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	services  map[Service]ServiceConfig
	jitter    time.Duration
	userAgent string
	logger    *slog.Logger
}

// New creates a Client for the given services.
func New(services map[Service]ServiceConfig, opts Options, logger *slog.Logger) (*Client, error) {
	cfg := make(map[Service]ServiceConfig, len(services))
	for name, sc := range services {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		if sc.Timeout == 0 {
			sc.Timeout = DefaultTimeoutFor(name)
		}
		sc.BaseURL = strings.TrimRight(sc.BaseURL, "/")
		cfg[name] = sc
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		http:      hc,
		services:  cfg,
		jitter:    opts.RetryJitter,
		userAgent: opts.UserAgent,
		logger:    logger,
	}, nil
}

// Call posts req to service, retrying once on failure.
func (c *Client) Call(ctx context.Context, service Service, req Request) Result {
	sc, ok := c.services[service]
	if !ok {
		c.logger.Error("unknown downstream service", "service", service, "request_id", req.RequestID)
		return Result{Failure: FailureUnknownService}
	}

	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("encode downstream request", "service", service, "request_id", req.RequestID, "error", err)
		return Result{Failure: FailureBadResponse}
	}
	url := sc.BaseURL + req.Path

	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && !c.pause(ctx) {
			break
		}
		res.Attempts = attempt

		start := time.Now()
		resp, status, kind, err := c.attempt(ctx, sc.Timeout, url, req.RequestID, body)
		attrs := []any{
			"service", service,
			"path", req.Path,
			"request_id", req.RequestID,
			"sender_id", req.SenderID,
			"internal_id", req.InternalID,
			"attempt", attempt,
			"latency_ms", time.Since(start).Milliseconds(),
			"outcome", kind.String(),
			"status", status,
		}
		if kind == FailureNone {
			c.logger.Info("downstream call", attrs...)
			res.Response, res.Failure = resp, FailureNone
			return res
		}
		c.logger.Warn("downstream call failed", append(attrs, "error", err)...)
		res.Failure = kind
	}
	return res
}

// pause waits a random fraction of the retry jitter. It reports false if
// ctx ended first.
func (c *Client) pause(ctx context.Context) bool {
	if c.jitter <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(time.Duration(rand.Int63n(int64(c.jitter))))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) attempt(ctx context.Context, timeout time.Duration, url, requestID string, body []byte) (*Response, int, FailureKind, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, FailureNetwork, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, classify(err), err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, classify(err), fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, FailureBadResponse, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(data) > MaxBodyBytes {
		return nil, resp.StatusCode, FailureBadResponse, fmt.Errorf("response exceeds %d bytes", MaxBodyBytes)
	}

	decoded, err := decodeResponse(data)
	if err != nil {
		return nil, resp.StatusCode, FailureBadResponse, err
	}
	return decoded, resp.StatusCode, FailureNone, nil
}

func classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureNetwork
}
