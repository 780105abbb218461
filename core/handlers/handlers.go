// Package handlers is the gateway's route table: which event goes to which
// downstream service, and the few replies answered locally.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jdelaire/tgate/core"
	"github.com/jdelaire/tgate/core/downstream"
	"github.com/jdelaire/tgate/core/router"
)

// Caller is the downstream client as seen by handlers.
type Caller interface {
	Call(ctx context.Context, service downstream.Service, req downstream.Request) downstream.Result
}

// Downstream paths.
const (
	PathChat          = "/chat"
	PathGenerate      = "/generate"
	PathProfile       = "/profile/command"
	PathMatching      = "/matching/action"
	PathNotifications = "/notifications"
)

// Local replies.
const (
	GenerateUsage = "Please provide a prompt. Example: /generate a story about a cat."
	ClearedText   = "🧹 Conversation cleared. Let's start fresh!"
	ConfirmedText = "✅ Confirmed!"
	CancelledText = "❌ Cancelled"
)

var profileCommands = []string{"/start", "/help", "/profile", "/matches"}

var matchingActions = []string{"CONNECT", "ACCEPT", "REJECT", "SKIP"}

// Routes builds the route table.
func Routes(caller Caller, logger *slog.Logger) (*router.Table, error) {
	h := &handlers{caller: caller, logger: logger}

	b := router.NewBuilder(logger)
	for _, cmd := range profileCommands {
		b.Command(cmd, h.profile)
	}
	b.Command("/connect", h.connect).
		Command("/generate", h.generate).
		Command("/notifications", h.notifications).
		Command("/clear", h.clear)

	for _, action := range matchingActions {
		b.Callback(action, h.matchingAction)
	}
	b.Callback("CONFIRM", static(ConfirmedText)).
		Callback("CANCEL", static(CancelledText)).
		Text(h.chat)

	return b.Build()
}

type handlers struct {
	caller Caller
	logger *slog.Logger
}

// call performs one downstream call and turns the outcome into a result.
func (h *handlers) call(ctx context.Context, req router.Request, service downstream.Service, path string, fields map[string]any) (core.HandlerResult, *downstream.Response) {
	res := h.caller.Call(ctx, service, downstream.Request{
		RequestID:  req.RequestID,
		SenderID:   req.Event.Sender(),
		InternalID: req.InternalID,
		Path:       path,
		Fields:     fields,
	})
	if !res.OK() {
		h.logger.Warn("downstream unavailable",
			"request_id", req.RequestID,
			"service", service,
			"failure", res.Failure.String(),
			"attempts", res.Attempts,
		)
		return core.HandlerResult{Reply: core.ErrorReply{Kind: core.ErrorGeneric}}, nil
	}
	return core.HandlerResult{Reply: res.Response.ToReply()}, res.Response
}

func (h *handlers) profile(ctx context.Context, req router.Request) core.HandlerResult {
	cmd := req.Event.(core.CommandMessage)
	res, _ := h.call(ctx, req, downstream.Profile, PathProfile, map[string]any{
		"command":  cmd.Command,
		"argument": cmd.Argument,
	})
	return res
}

func (h *handlers) connect(ctx context.Context, req router.Request) core.HandlerResult {
	cmd := req.Event.(core.CommandMessage)
	res, _ := h.call(ctx, req, downstream.Matching, PathMatching, map[string]any{
		"action":    "CONNECT",
		"target_id": cmd.Argument,
	})
	return res
}

func (h *handlers) generate(ctx context.Context, req router.Request) core.HandlerResult {
	cmd := req.Event.(core.CommandMessage)
	if cmd.Argument == "" {
		return core.HandlerResult{Reply: core.TextReply{Content: GenerateUsage}}
	}
	res, _ := h.call(ctx, req, downstream.Conversation, PathGenerate, map[string]any{
		"prompt": cmd.Argument,
	})
	return res
}

func (h *handlers) notifications(ctx context.Context, req router.Request) core.HandlerResult {
	res, _ := h.call(ctx, req, downstream.Notification, PathNotifications, map[string]any{
		"action": "status",
	})
	return res
}

func (h *handlers) clear(context.Context, router.Request) core.HandlerResult {
	return core.HandlerResult{
		Reply:        core.TextReply{Content: ClearedText},
		ResetSession: true,
	}
}

func (h *handlers) matchingAction(ctx context.Context, req router.Request) core.HandlerResult {
	ev := req.Event.(core.CallbackEvent)
	res, _ := h.call(ctx, req, downstream.Matching, PathMatching, map[string]any{
		"action":    ev.Action,
		"target_id": ev.Param,
	})
	return res
}

func (h *handlers) chat(ctx context.Context, req router.Request) core.HandlerResult {
	msg := req.Event.(core.PlainMessage)
	fields := map[string]any{
		"message": msg.Text,
		"chat_id": req.InternalID,
	}
	if len(req.State) > 0 && json.Valid(req.State) {
		fields["conversation_state"] = json.RawMessage(req.State)
	}

	res, resp := h.call(ctx, req, downstream.Conversation, PathChat, fields)
	if resp != nil {
		res.State = resp.ConversationState()
	}
	return res
}

func static(text string) router.Handler {
	return func(context.Context, router.Request) core.HandlerResult {
		return core.HandlerResult{Reply: core.TextReply{Content: text}}
	}
}
