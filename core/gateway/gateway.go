// Package gateway runs the per-update pipeline: throttle, resolve the
// session, dispatch, format, send, touch the session.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jdelaire/tgate/core"
	"github.com/jdelaire/tgate/core/format"
	"github.com/jdelaire/tgate/core/ratelimit"
	"github.com/jdelaire/tgate/core/router"
	"github.com/jdelaire/tgate/core/session"
)

const sendAttempts = 2

// Gateway processes inbound updates. It is safe for concurrent use.
type Gateway struct {
	limiter  *ratelimit.Limiter
	sessions *session.Store
	routes   *router.Table
	sender   core.Sender
	logger   *slog.Logger
}

// New creates a Gateway.
func New(limiter *ratelimit.Limiter, sessions *session.Store, routes *router.Table, sender core.Sender, logger *slog.Logger) *Gateway {
	return &Gateway{
		limiter:  limiter,
		sessions: sessions,
		routes:   routes,
		sender:   sender,
		logger:   logger,
	}
}

// Receive parses a raw update and processes it. Malformed and unsupported
// updates are logged and dropped. A panic in the pipeline is logged and
// swallowed, and cancelling ctx does not stop a pipeline already running.
func (g *Gateway) Receive(ctx context.Context, requestID string, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("pipeline panicked", "request_id", requestID, "panic", rec)
		}
	}()
	ctx = context.WithoutCancel(ctx)

	ev, err := core.ParseUpdate(data)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedUpdate) {
			g.logger.Debug("ignoring update", "request_id", requestID, "reason", err)
			return
		}
		g.logger.Warn("malformed update", "request_id", requestID, "error", err)
		return
	}
	g.Process(ctx, requestID, ev)
}

// Process runs the pipeline for one event. It does not return an error:
// every failure is logged and the user gets at most one reply.
func (g *Gateway) Process(ctx context.Context, requestID string, ev core.InboundEvent) {
	sender := ev.Sender()
	logger := g.logger.With("request_id", requestID, "sender_id", sender, "kind", core.Kind(ev))

	origin := format.Origin{ChatID: ev.Chat()}
	if cb, ok := ev.(core.CallbackEvent); ok {
		origin.MessageID = cb.MessageID
		g.answerCallback(ctx, logger, cb.CallbackID)
	}

	if g.limiter.CheckAndConsume(ctx, sender) == ratelimit.Limited {
		logger.Info("rate limited")
		g.send(ctx, logger, format.Format(core.ErrorReply{Kind: core.ErrorRateLimited}, origin))
		return
	}

	sess := g.sessions.Resolve(ctx, sender)
	res := g.routes.Dispatch(ctx, router.Request{
		RequestID:  requestID,
		Event:      ev,
		InternalID: sess.InternalID,
		State:      sess.ConversationState,
	})

	g.send(ctx, logger, format.Format(res.Reply, origin))

	if res.ResetSession {
		if err := g.sessions.Reset(ctx, sender); err != nil {
			logger.Warn("session reset failed", "error", err)
		}
		return
	}
	g.sessions.Touch(ctx, sender, res.State)
}

// send delivers msg, resending once on failure.
func (g *Gateway) send(ctx context.Context, logger *slog.Logger, msg core.OutboundMessage) {
	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = g.sender.Send(ctx, msg); err == nil {
			logger.Debug("reply sent", "method", msg.Method, "attempt", attempt)
			return
		}
		logger.Warn("send failed", "method", msg.Method, "attempt", attempt, "error", err)
	}
	logger.Error("reply dropped", "method", msg.Method, "error", err)
}

func (g *Gateway) answerCallback(ctx context.Context, logger *slog.Logger, callbackID string) {
	if callbackID == "" {
		return
	}
	if err := g.sender.AnswerCallback(ctx, callbackID); err != nil {
		logger.Debug("answer callback failed", "error", err)
	}
}

// Degraded reports how often each store-backed component fell back.
func (g *Gateway) Degraded() map[string]int64 {
	return map[string]int64{
		"rate_limiter":  g.limiter.Degraded(),
		"session_store": g.sessions.Degraded(),
	}
}
