package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jdelaire/tgate/core"
	"github.com/jdelaire/tgate/core/downstream"
	"github.com/jdelaire/tgate/core/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	service downstream.Service
	req     downstream.Request
}

// spyCaller records calls and answers with a fixed result.
type spyCaller struct {
	mu     sync.Mutex
	calls  []call
	result downstream.Result
}

func (s *spyCaller) Call(_ context.Context, service downstream.Service, req downstream.Request) downstream.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{service, req})
	return s.result
}

func ok(resp downstream.Response) downstream.Result {
	return downstream.Result{Response: &resp, Attempts: 1}
}

func newTable(t *testing.T, caller Caller) *router.Table {
	t.Helper()
	table, err := Routes(caller, testLogger())
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	return table
}

func TestRouteTable(t *testing.T) {
	tests := []struct {
		name    string
		ev      core.InboundEvent
		service downstream.Service
		path    string
		fields  map[string]any
	}{
		{"start", core.CommandMessage{SenderID: 1, Command: "/start"}, downstream.Profile, PathProfile,
			map[string]any{"command": "/start", "argument": ""}},
		{"help", core.CommandMessage{SenderID: 1, Command: "/help"}, downstream.Profile, PathProfile,
			map[string]any{"command": "/help", "argument": ""}},
		{"profile", core.CommandMessage{SenderID: 1, Command: "/profile", Argument: "edit"}, downstream.Profile, PathProfile,
			map[string]any{"command": "/profile", "argument": "edit"}},
		{"matches", core.CommandMessage{SenderID: 1, Command: "/matches"}, downstream.Profile, PathProfile,
			map[string]any{"command": "/matches", "argument": ""}},
		{"connect", core.CommandMessage{SenderID: 1, Command: "/connect", Argument: "42"}, downstream.Matching, PathMatching,
			map[string]any{"action": "CONNECT", "target_id": "42"}},
		{"generate", core.CommandMessage{SenderID: 1, Command: "/generate", Argument: "a poem"}, downstream.Conversation, PathGenerate,
			map[string]any{"prompt": "a poem"}},
		{"notifications", core.CommandMessage{SenderID: 1, Command: "/notifications"}, downstream.Notification, PathNotifications,
			map[string]any{"action": "status"}},
		{"accept", core.CallbackEvent{SenderID: 1, Action: "ACCEPT", Param: "67890"}, downstream.Matching, PathMatching,
			map[string]any{"action": "ACCEPT", "target_id": "67890"}},
		{"reject", core.CallbackEvent{SenderID: 1, Action: "REJECT", Param: "7"}, downstream.Matching, PathMatching,
			map[string]any{"action": "REJECT", "target_id": "7"}},
		{"skip", core.CallbackEvent{SenderID: 1, Action: "SKIP", Param: "7"}, downstream.Matching, PathMatching,
			map[string]any{"action": "SKIP", "target_id": "7"}},
		{"connect button", core.CallbackEvent{SenderID: 1, Action: "CONNECT", Param: "9"}, downstream.Matching, PathMatching,
			map[string]any{"action": "CONNECT", "target_id": "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyCaller{result: ok(downstream.Response{Type: "text", Content: "fine"})}
			table := newTable(t, spy)

			res := table.Dispatch(context.Background(), router.Request{
				RequestID: "r1", Event: tt.ev, InternalID: "iid",
			})
			if res.Reply != (core.TextReply{Content: "fine"}) {
				t.Errorf("reply = %#v", res.Reply)
			}
			if len(spy.calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(spy.calls))
			}
			got := spy.calls[0]
			if got.service != tt.service || got.req.Path != tt.path {
				t.Errorf("called %s %s, want %s %s", got.service, got.req.Path, tt.service, tt.path)
			}
			if got.req.RequestID != "r1" || got.req.InternalID != "iid" || got.req.SenderID != 1 {
				t.Errorf("identity = %+v", got.req)
			}
			for k, want := range tt.fields {
				if got.req.Fields[k] != want {
					t.Errorf("field %s = %v, want %v", k, got.req.Fields[k], want)
				}
			}
		})
	}
}

func TestLocalReplies(t *testing.T) {
	tests := []struct {
		name  string
		ev    core.InboundEvent
		want  string
		reset bool
	}{
		{"generate without prompt", core.CommandMessage{Command: "/generate"}, GenerateUsage, false},
		{"clear", core.CommandMessage{Command: "/clear"}, ClearedText, true},
		{"confirm", core.CallbackEvent{Action: "CONFIRM"}, ConfirmedText, false},
		{"cancel", core.CallbackEvent{Action: "CANCEL"}, CancelledText, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyCaller{}
			res := newTable(t, spy).Dispatch(context.Background(), router.Request{Event: tt.ev})
			if res.Reply != (core.TextReply{Content: tt.want}) {
				t.Errorf("reply = %#v, want %q", res.Reply, tt.want)
			}
			if res.ResetSession != tt.reset {
				t.Errorf("ResetSession = %v, want %v", res.ResetSession, tt.reset)
			}
			if len(spy.calls) != 0 {
				t.Errorf("downstream called %d times, want 0", len(spy.calls))
			}
		})
	}
}

func TestChatCarriesState(t *testing.T) {
	spy := &spyCaller{result: ok(downstream.Response{
		Type:    "text",
		Content: "answer",
		State:   json.RawMessage(`{"turn":2}`),
	})}
	table := newTable(t, spy)

	res := table.Dispatch(context.Background(), router.Request{
		Event:      core.PlainMessage{SenderID: 5, Text: "hello"},
		InternalID: "iid-5",
		State:      []byte(`{"turn":1}`),
	})

	if string(res.State) != `{"turn":2}` {
		t.Errorf("State = %s, want new state", res.State)
	}
	fields := spy.calls[0].req.Fields
	if fields["message"] != "hello" || fields["chat_id"] != "iid-5" {
		t.Errorf("fields = %v", fields)
	}
	if st, _ := fields["conversation_state"].(json.RawMessage); string(st) != `{"turn":1}` {
		t.Errorf("conversation_state = %v", fields["conversation_state"])
	}
}

func TestChatSkipsInvalidState(t *testing.T) {
	spy := &spyCaller{result: ok(downstream.Response{Type: "text", Content: "a"})}
	res := newTable(t, spy).Dispatch(context.Background(), router.Request{
		Event: core.PlainMessage{Text: "hi"},
		State: []byte("not json"),
	})
	if _, ok := spy.calls[0].req.Fields["conversation_state"]; ok {
		t.Error("invalid state was forwarded")
	}
	if res.State != nil {
		t.Errorf("State = %q, want nil to keep current", res.State)
	}
}

func TestDownstreamFailureIsGenericError(t *testing.T) {
	spy := &spyCaller{result: downstream.Result{Failure: downstream.FailureTimeout, Attempts: 2}}
	for _, ev := range []core.InboundEvent{
		core.CommandMessage{Command: "/start"},
		core.PlainMessage{Text: "hi"},
		core.CallbackEvent{Action: "ACCEPT", Param: "1"},
	} {
		res := newTable(t, spy).Dispatch(context.Background(), router.Request{Event: ev})
		if res.Reply != (core.ErrorReply{Kind: core.ErrorGeneric}) {
			t.Errorf("%T: reply = %#v, want generic error", ev, res.Reply)
		}
		if res.State != nil {
			t.Errorf("%T: State set on failure", ev)
		}
	}
}

func TestRoutesAreComplete(t *testing.T) {
	table := newTable(t, &spyCaller{})
	want := []string{"/clear", "/connect", "/generate", "/help", "/matches", "/notifications", "/profile", "/start"}
	got := table.Commands()
	if len(got) != len(want) {
		t.Fatalf("Commands() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Commands()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if n := len(table.Actions()); n != 6 {
		t.Errorf("Actions() = %v, want 6 actions", table.Actions())
	}
}
