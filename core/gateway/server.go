package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdelaire/tgate/core"
	"github.com/jdelaire/tgate/core/auth"
)

// DefaultWebhookPath is where Telegram posts updates.
const DefaultWebhookPath = "/webhook/telegram"

var ack = []byte(`{"ok":true}`)

// ServerOptions configure the HTTP endpoint.
type ServerOptions struct {
	Addr        string
	WebhookPath string
	Service     string
	Version     string
}

// Server is the webhook HTTP endpoint.
type Server struct {
	opts     ServerOptions
	gateway  *Gateway
	secret   *auth.SecretToken
	logger   *slog.Logger
	newID    func() string
	http     *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a webhook server.
func NewServer(opts ServerOptions, gw *Gateway, secret *auth.SecretToken, logger *slog.Logger) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = DefaultWebhookPath
	}
	s := &Server{
		opts:    opts,
		gateway: gw,
		secret:  secret,
		logger:  logger,
		newID:   uuid.NewString,
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.opts.WebhookPath, s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("listening", "addr", ln.Addr().String(), "webhook_path", s.opts.WebhookPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting updates and waits for in-flight pipelines.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleWebhook always acknowledges with 200 so Telegram never redelivers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := s.newID()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("pipeline panicked", "request_id", requestID, "panic", rec)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(ack)
	}()

	if !s.secret.Verify(r.Header.Get(auth.HeaderName)) {
		s.logger.Warn("webhook secret mismatch", "request_id", requestID, "remote_addr", r.RemoteAddr)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, core.MaxPayloadBytes+1))
	if err != nil {
		s.logger.Warn("read webhook body", "request_id", requestID, "error", err)
		return
	}
	if len(data) > core.MaxPayloadBytes {
		s.logger.Warn("webhook body too large", "request_id", requestID, "limit", core.MaxPayloadBytes)
		return
	}

	s.gateway.Receive(r.Context(), requestID, data)
}

type health struct {
	Status   string           `json:"status"`
	Service  string           `json:"service"`
	Version  string           `json:"version"`
	Degraded map[string]int64 `json:"degraded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health{
		Status:   "healthy",
		Service:  s.opts.Service,
		Version:  s.opts.Version,
		Degraded: s.gateway.Degraded(),
	})
}
