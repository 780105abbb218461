package telegram_receiver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jdelaire/tgate/adapters/telegram_receiver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func discard(context.Context, []byte) {}

func TestPollSuccess(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte

	handler := func(_ context.Context, update []byte) {
		mu.Lock()
		received = append(received, update)
		mu.Unlock()
	}

	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"result": []map[string]any{
					{
						"update_id": 100,
						"message": map[string]any{
							"message_id": 1,
							"from":       map[string]any{"id": 42},
							"chat":       map[string]any{"id": 123},
							"date":       time.Now().Unix(),
							"text":       "/start",
						},
					},
					{
						"update_id": 101,
						"callback_query": map[string]any{
							"id":   "cb",
							"from": map[string]any{"id": 42},
							"data": "SKIP:7",
						},
					},
				},
			})
		} else {
			// Block until context is cancelled (simulates long poll).
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recv := telegram_receiver.New("test-token", handler, testLogger()).WithBaseURL(srv.URL)
	recv.Start(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d updates, want 2", len(received))
	}

	var first struct {
		UpdateID int64 `json:"update_id"`
		Message  struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(received[0], &first); err != nil {
		t.Fatalf("update is not the raw JSON: %v", err)
	}
	if first.UpdateID != 100 || first.Message.Text != "/start" {
		t.Errorf("first update = %+v", first)
	}
}

func TestEmptyResult(t *testing.T) {
	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) <= 2 {
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
		} else {
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	var received atomic.Int32
	handler := func(context.Context, []byte) { received.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	telegram_receiver.New("tok", handler, testLogger()).WithBaseURL(srv.URL).Start(ctx)

	if n := received.Load(); n != 0 {
		t.Errorf("received %d updates, want 0", n)
	}
}

func TestOffsetAndAllowedUpdates(t *testing.T) {
	var mu sync.Mutex
	var offsets, allowed []string
	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		allowed = append(allowed, r.URL.Query().Get("allowed_updates"))
		mu.Unlock()

		switch callCount.Add(1) {
		case 1:
			json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": []map[string]any{{"update_id": 200}},
			})
		case 2:
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
		default:
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	telegram_receiver.New("tok", discard, testLogger()).
		WithBaseURL(srv.URL).
		WithAllowedUpdates([]string{"message", "callback_query"}).
		Start(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 {
		t.Fatalf("expected at least 2 polls, got %d", len(offsets))
	}
	if offsets[0] != "0" {
		t.Errorf("first offset = %q, want '0'", offsets[0])
	}
	if offsets[1] != "201" {
		t.Errorf("second offset = %q, want '201'", offsets[1])
	}
	if allowed[0] != `["message","callback_query"]` {
		t.Errorf("allowed_updates = %q", allowed[0])
	}
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	recv := telegram_receiver.New("tok", discard, testLogger()).WithBaseURL(srv.URL)

	go func() {
		recv.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop after context cancellation")
	}
}

func TestAPIErrorBackoff(t *testing.T) {
	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, "internal error")
		} else {
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	telegram_receiver.New("tok", discard, testLogger()).
		WithBaseURL(srv.URL).
		WithErrorBackoff(10 * time.Millisecond).
		Start(ctx)

	// Should have retried after backoff.
	if n := callCount.Load(); n < 3 {
		t.Errorf("expected at least 3 calls (with backoff), got %d", n)
	}
}

func TestUndecodableUpdateSkippedWhenFollowed(t *testing.T) {
	var offsets []string
	var mu sync.Mutex
	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		mu.Unlock()
		if callCount.Add(1) == 1 {
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":"bad"},{"update_id":11,"message":{"text":"hi"}}]}`)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var received atomic.Int32
	handler := func(context.Context, []byte) { received.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := telegram_receiver.New("tok", handler, testLogger()).WithBaseURL(srv.URL).Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := received.Load(); n != 1 {
		t.Errorf("received %d updates, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 || offsets[1] != "12" {
		t.Errorf("offsets = %v, want second poll at 12", offsets)
	}
}

func TestUndecodableLastUpdateStops(t *testing.T) {
	var callCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		fmt.Fprint(w, `{"ok":true,"result":[{"update_id":5,"message":{"text":"hi"}},{"update_id":"bad"}]}`)
	}))
	defer srv.Close()

	var received atomic.Int32
	handler := func(context.Context, []byte) { received.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := telegram_receiver.New("tok", handler, testLogger()).WithBaseURL(srv.URL).Start(ctx)
	if err == nil {
		t.Fatal("Start returned nil, want an error for the undecodable update")
	}
	if n := callCount.Load(); n != 1 {
		t.Errorf("getUpdates called %d times, want 1", n)
	}
	if n := received.Load(); n != 1 {
		t.Errorf("received %d updates, want 1", n)
	}
}
