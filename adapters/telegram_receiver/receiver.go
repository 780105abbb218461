// Package telegram_receiver long-polls getUpdates for local development,
// where Telegram cannot reach a webhook. Each raw update is handed to the
// same pipeline the webhook feeds.
package telegram_receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.telegram.org"
	longPollTimeout = 30
	httpTimeout     = 35 * time.Second
	errorBackoff    = 5 * time.Second
)

// Handler processes one raw update as Telegram would have posted it.
type Handler func(ctx context.Context, update []byte)

type apiResponse struct {
	OK          bool              `json:"ok"`
	Description string            `json:"description"`
	Result      []json.RawMessage `json:"result"`
}

type updateID struct {
	UpdateID int64 `json:"update_id"`
}

// Receiver long-polls Telegram for updates.
type Receiver struct {
	botToken string
	handler  Handler
	logger   *slog.Logger
	client   *http.Client
	baseURL  string
	backoff  time.Duration
	allowed  []string
	offset   int64
}

// New creates a Telegram receiver.
func New(botToken string, handler Handler, logger *slog.Logger) *Receiver {
	return &Receiver{
		botToken: botToken,
		handler:  handler,
		logger:   logger,
		client:   &http.Client{Timeout: httpTimeout},
		baseURL:  defaultBaseURL,
		backoff:  errorBackoff,
	}
}

// WithBaseURL overrides the Telegram API base URL (for testing).
func (r *Receiver) WithBaseURL(url string) *Receiver {
	r.baseURL = strings.TrimRight(url, "/")
	return r
}

// WithErrorBackoff overrides the pause after a failed poll.
func (r *Receiver) WithErrorBackoff(d time.Duration) *Receiver {
	r.backoff = d
	return r
}

// WithAllowedUpdates restricts the update kinds Telegram delivers.
func (r *Receiver) WithAllowedUpdates(kinds []string) *Receiver {
	r.allowed = kinds
	return r
}

// Start begins the long-poll loop. Blocks until ctx is cancelled, or
// returns an error when the last update of a batch has no readable id.
func (r *Receiver) Start(ctx context.Context) error {
	r.logger.Info("telegram receiver started")
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("telegram receiver stopped")
			return nil
		}

		updates, err := r.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("telegram receiver stopped")
				return nil
			}
			r.logger.Error("poll error", "error", err)
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// An update without a readable id can only be skipped when a later
		// one moves the offset past it. Otherwise getUpdates would return
		// it immediately, forever.
		stuck := false
		for _, raw := range updates {
			var id updateID
			if err := json.Unmarshal(raw, &id); err != nil {
				r.logger.Warn("skipping undecodable update", "offset", r.offset, "error", err)
				stuck = true
				continue
			}
			r.handler(ctx, raw)
			r.offset = id.UpdateID + 1
			stuck = false
		}
		if stuck {
			r.logger.Error("telegram receiver stopped on undecodable update", "offset", r.offset)
			return fmt.Errorf("undecodable update at offset %d", r.offset)
		}
	}
}

func (r *Receiver) poll(ctx context.Context) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(r.offset, 10))
	q.Set("timeout", strconv.Itoa(longPollTimeout))
	if len(r.allowed) > 0 {
		allowed, err := json.Marshal(r.allowed)
		if err != nil {
			return nil, fmt.Errorf("encode allowed updates: %w", err)
		}
		q.Set("allowed_updates", string(allowed))
	}
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", r.baseURL, r.botToken, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok {
			err = uerr.Err
		}
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api status: %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !apiResp.OK {
		return nil, fmt.Errorf("api returned ok=false: %s", apiResp.Description)
	}
	return apiResp.Result, nil
}
