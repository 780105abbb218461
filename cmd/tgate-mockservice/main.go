// tgate-mockservice answers every downstream endpoint the gateway calls
// with canned replies, for running tgate locally without the real
// services. Point all four service URLs at it.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

type options struct {
	delay time.Duration
	fail  bool
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8001", "listen address")
	delay := flag.Duration("delay", 0, "sleep before every reply")
	fail := flag.Bool("fail", false, "answer every call with 503")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("mock service started", "addr", *addr, "delay", *delay, "fail", *fail)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(options{delay: *delay, fail: *fail}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

type reply map[string]any

func newHandler(opts options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reply{"status": "ok"})
	})

	route := func(path string, fn func(fields map[string]any) reply) {
		mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
			var fields map[string]any
			if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
				writeJSON(w, http.StatusBadRequest, reply{"type": "error", "content": "invalid json"})
				return
			}
			logger.Info("call", "path", path, "request_id", r.Header.Get("X-Request-ID"), "sender_id", fields["sender_id"])

			if opts.delay > 0 {
				select {
				case <-time.After(opts.delay):
				case <-r.Context().Done():
					return
				}
			}
			if opts.fail {
				writeJSON(w, http.StatusServiceUnavailable, reply{"type": "error", "content": "unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, fn(fields))
		})
	}

	route("/chat", chat)
	route("/generate", func(f map[string]any) reply {
		return reply{"type": "text", "content": fmt.Sprintf("Here is something about %s.", str(f, "prompt"))}
	})
	route("/profile/command", profile)
	route("/matching/action", matching)
	route("/notifications", func(map[string]any) reply {
		return reply{"type": "text", "content": "🔔 Notifications are on. You have 2 unread."}
	})
	return mux
}

// chat counts turns in the conversation state it hands back.
func chat(f map[string]any) reply {
	turns := 0.0
	if st, ok := f["conversation_state"].(map[string]any); ok {
		turns, _ = st["turns"].(float64)
	}
	turns++
	return reply{
		"response": fmt.Sprintf("You said: %s", str(f, "message")),
		"state":    reply{"turns": turns},
	}
}

func profile(f map[string]any) reply {
	switch cmd := str(f, "command"); cmd {
	case "/start":
		return reply{"type": "text", "content": "Welcome! Use /matches to see who you might connect with."}
	case "/help":
		return reply{"type": "text", "content": "Commands: /profile /matches /connect <id> /generate <prompt> /notifications /clear"}
	case "/profile":
		return reply{"type": "text", "content": "Your profile is 80% complete."}
	case "/matches":
		return reply{"type": "match_list", "items": []reply{
			{"name": "Alice", "user_id": 67890, "rating": 4.8, "match_percentage": 98, "reason": "Shared interest in hiking"},
			{"name": "Bob", "user_id": "u-2", "rating": 4.1, "match_percentage": 87, "reason": "Works nearby"},
		}}
	default:
		return reply{"type": "error", "content": "unknown command " + cmd}
	}
}

func matching(f map[string]any) reply {
	target := fmt.Sprint(f["target_id"])
	switch strings.ToUpper(str(f, "action")) {
	case "CONNECT", "ACCEPT":
		return reply{"type": "confirmation", "content": fmt.Sprintf("Send a connection request to %s?", target)}
	case "REJECT":
		return reply{"type": "text", "content": "Got it, we won't suggest them again."}
	case "SKIP":
		return reply{"type": "text", "content": "Skipped."}
	default:
		return reply{"type": "error", "content": "unknown action"}
	}
}

func str(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
