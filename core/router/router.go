// Package router maps inbound events to handlers through tables that are
// fixed at startup.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jdelaire/tgate/core"
)

// Request is everything a handler gets to see.
type Request struct {
	RequestID  string
	Event      core.InboundEvent
	InternalID string
	State      []byte
}

// Handler answers one routed event.
type Handler func(ctx context.Context, req Request) core.HandlerResult

// Builder collects routes. It is not safe for concurrent use; build once at
// startup.
type Builder struct {
	logger    *slog.Logger
	commands  map[string]Handler
	callbacks map[string]Handler
	text      Handler
	errs      []error
}

// NewBuilder creates an empty Builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		logger:    logger,
		commands:  make(map[string]Handler),
		callbacks: make(map[string]Handler),
	}
}

// Command routes a command such as "/start".
func (b *Builder) Command(name string, h Handler) *Builder {
	switch {
	case len(name) < 2 || name[0] != '/':
		b.errs = append(b.errs, fmt.Errorf("invalid command %q", name))
	case h == nil:
		b.errs = append(b.errs, fmt.Errorf("command %s: nil handler", name))
	default:
		if _, exists := b.commands[name]; exists {
			b.errs = append(b.errs, fmt.Errorf("command already registered: %s", name))
			break
		}
		b.commands[name] = h
	}
	return b
}

// Callback routes a callback action such as "ACCEPT".
func (b *Builder) Callback(action string, h Handler) *Builder {
	switch {
	case action == "":
		b.errs = append(b.errs, errors.New("empty callback action"))
	case h == nil:
		b.errs = append(b.errs, fmt.Errorf("callback %s: nil handler", action))
	default:
		if _, exists := b.callbacks[action]; exists {
			b.errs = append(b.errs, fmt.Errorf("callback already registered: %s", action))
			break
		}
		b.callbacks[action] = h
	}
	return b
}

// Text sets the handler for plain messages.
func (b *Builder) Text(h Handler) *Builder {
	if b.text != nil {
		b.errs = append(b.errs, errors.New("text handler already registered"))
		return b
	}
	b.text = h
	return b
}

// Build freezes the routes into a Table. Any registration error is
// reported here.
func (b *Builder) Build() (*Table, error) {
	errs := b.errs
	if b.text == nil {
		errs = append(errs, errors.New("no text handler registered"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	t := &Table{
		logger:    b.logger,
		commands:  make(map[string]Handler, len(b.commands)),
		callbacks: make(map[string]Handler, len(b.callbacks)),
		text:      b.text,
	}
	for k, h := range b.commands {
		t.commands[k] = h
	}
	for k, h := range b.callbacks {
		t.callbacks[k] = h
	}
	return t, nil
}

// Table is an immutable route table. It is safe for concurrent use.
type Table struct {
	logger    *slog.Logger
	commands  map[string]Handler
	callbacks map[string]Handler
	text      Handler
}

// Commands returns the routed command names, sorted.
func (t *Table) Commands() []string {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns the routed callback actions, sorted.
func (t *Table) Actions() []string {
	names := make([]string, 0, len(t.callbacks))
	for name := range t.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler for req.Event. It always returns a result with
// a non-nil Reply: unknown keys get a static reply, and a handler that
// panics or returns no reply yields a generic error.
func (t *Table) Dispatch(ctx context.Context, req Request) (res core.HandlerResult) {
	var h Handler
	var route string

	switch ev := req.Event.(type) {
	case core.CommandMessage:
		h, route = t.commands[ev.Command], ev.Command
		if h == nil {
			return core.HandlerResult{Reply: core.TextReply{
				Content: fmt.Sprintf("Unknown command: %s\n\nUse /help to see available commands.", ev.Command),
			}}
		}
	case core.CallbackEvent:
		h, route = t.callbacks[ev.Action], ev.Action
		if h == nil {
			return core.HandlerResult{Reply: core.TextReply{
				Content: fmt.Sprintf("Unknown action: %s", ev.Action),
			}}
		}
	case core.PlainMessage:
		h, route = t.text, "text"
	default:
		t.logger.Warn("no route for event", "request_id", req.RequestID, "kind", core.Kind(req.Event))
		return core.HandlerResult{Reply: core.ErrorReply{Kind: core.ErrorGeneric}}
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("handler panicked", "request_id", req.RequestID, "route", route, "panic", r)
			res = core.HandlerResult{Reply: core.ErrorReply{Kind: core.ErrorGeneric}}
		}
	}()

	res = h(ctx, req)
	if res.Reply == nil {
		t.logger.Error("handler returned no reply", "request_id", req.RequestID, "route", route)
		res = core.HandlerResult{Reply: core.ErrorReply{Kind: core.ErrorGeneric}}
	}
	return res
}
