package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jdelaire/tgate/core/downstream"
	"github.com/jdelaire/tgate/internal/keychain"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func noSecrets(string) (string, error) { return "", keychain.ErrNotFound }

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("session ttl = %s, want 24h", cfg.Session.TTL)
	}
	if cfg.RateLimit.Requests != 1 || cfg.RateLimit.Window != time.Second {
		t.Errorf("rate limit = %+v, want 1 per 1s", cfg.RateLimit)
	}
	if cfg.Services[downstream.Conversation].Timeout != 5*time.Second {
		t.Errorf("conversation timeout = %s, want 5s", cfg.Services[downstream.Conversation].Timeout)
	}
	if cfg.Services[downstream.Matching].Timeout != 3*time.Second {
		t.Errorf("matching timeout = %s, want 3s", cfg.Services[downstream.Matching].Timeout)
	}
	if cfg.Store.Redis.Addr() != "localhost:6379" {
		t.Errorf("redis addr = %s", cfg.Store.Redis.Addr())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tgate.yaml")
	content := `
server:
  addr: ":9000"
  public_url: "https://bot.example.com/"
store:
  backend: memory
session:
  ttl: 2h
rate_limit:
  requests: 3
  window: 10s
services:
  profile:
    url: "http://profile:8000"
    timeout: 1500ms
downstream:
  retry_jitter: 200ms
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Server.WebhookPath != "/webhook/telegram" {
		t.Errorf("webhook path default lost: %q", cfg.Server.WebhookPath)
	}
	if cfg.WebhookURL() != "https://bot.example.com/webhook/telegram" {
		t.Errorf("WebhookURL = %s", cfg.WebhookURL())
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("backend = %s", cfg.Store.Backend)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("ttl = %s", cfg.Session.TTL)
	}
	if got := cfg.RateLimit.RefillPerSecond(); got != 0.3 {
		t.Errorf("refill = %v, want 0.3", got)
	}
	if sc := cfg.Services[downstream.Profile]; sc.URL != "http://profile:8000" || sc.Timeout != 1500*time.Millisecond {
		t.Errorf("profile = %+v", sc)
	}
	if cfg.Services[downstream.Conversation].URL != "http://localhost:8001" {
		t.Error("default conversation service lost when file overrides another service")
	}
	if cfg.Downstream.RetryJitter != 200*time.Millisecond {
		t.Errorf("retry jitter = %s", cfg.Downstream.RetryJitter)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("session: [not, a, map"), 0o600)
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile(invalid yaml) should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN":       "123:abc",
		"TELEGRAM_WEBHOOK_SECRET":  "hush",
		"REDIS_HOST":               "redis",
		"REDIS_PORT":               "6380",
		"REDIS_DB":                 "2",
		"SESSION_TTL":              "3600",
		"RATE_LIMIT_REQUESTS":      "5",
		"RATE_LIMIT_WINDOW":        "10",
		"CONVERSATION_SERVICE_URL": "http://ai:8000",
		"CONVERSATION_TIMEOUT":     "8",
		"USER_PROFILE_SERVICE_URL": "http://profile:8000",
		"MATCHING_TIMEOUT":         "2s",
		"LOG_LEVEL":                "DEBUG",
		"PORT":                     "8080",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Telegram.BotToken != "123:abc" || cfg.Telegram.WebhookSecret != "hush" {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Store.Redis.Addr() != "redis:6380" || cfg.Store.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Store.Redis)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("ttl = %s", cfg.Session.TTL)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if sc := cfg.Services[downstream.Conversation]; sc.URL != "http://ai:8000" || sc.Timeout != 8*time.Second {
		t.Errorf("conversation = %+v", sc)
	}
	if cfg.Services[downstream.Profile].URL != "http://profile:8000" {
		t.Errorf("profile = %+v", cfg.Services[downstream.Profile])
	}
	if cfg.Services[downstream.Matching].Timeout != 2*time.Second {
		t.Errorf("matching = %+v", cfg.Services[downstream.Matching])
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	err := Default().ApplyEnv(envMap(map[string]string{
		"REDIS_PORT":  "sixty",
		"SESSION_TTL": "forever",
		"PORT":        "http",
	}))
	if err == nil {
		t.Fatal("ApplyEnv should fail")
	}
	for _, name := range []string{"REDIS_PORT", "SESSION_TTL", "PORT"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestFillSecrets(t *testing.T) {
	stored := map[string]string{
		keychain.BotToken:      "from-keychain",
		keychain.WebhookSecret: "kc-secret",
		keychain.RedisPassword: "kc-redis",
	}
	get := func(account string) (string, error) {
		if v, ok := stored[account]; ok {
			return v, nil
		}
		return "", keychain.ErrNotFound
	}

	cfg := Default()
	cfg.Telegram.BotToken = "from-env"
	cfg.FillSecrets(get)

	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("bot token = %q, keychain must not override", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.WebhookSecret != "kc-secret" {
		t.Errorf("webhook secret = %q", cfg.Telegram.WebhookSecret)
	}
	if cfg.Store.Redis.Password != "kc-redis" {
		t.Errorf("redis password = %q", cfg.Store.Redis.Password)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tgate.yaml")
	os.WriteFile(path, []byte("telegram:\n  bot_token: from-file\n  webhook_secret: file-secret\n"), 0o600)

	cfg, err := Load(path, envMap(map[string]string{"TELEGRAM_BOT_TOKEN": "from-env"}), noSecrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("bot token = %q, env should win over file", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.WebhookSecret != "file-secret" {
		t.Errorf("webhook secret = %q", cfg.Telegram.WebhookSecret)
	}
	if err := cfg.RequireBotToken(); err != nil {
		t.Error(err)
	}
	if err := cfg.RequireWebhookSecret(); err != nil {
		t.Error(err)
	}
}

func TestRequireSecrets(t *testing.T) {
	cfg, err := Load("", envMap(nil), noSecrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RequireBotToken() == nil {
		t.Error("RequireBotToken should fail without a token")
	}
	if cfg.RequireWebhookSecret() == nil {
		t.Error("RequireWebhookSecret should fail without a secret")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"webhook path", func(c *Config) { c.Server.WebhookPath = "webhook" }, "webhook_path"},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"zero rate", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit"},
		{"bad service url", func(c *Config) {
			c.Services[downstream.Matching] = ServiceConfig{URL: "matching:8003"}
		}, "services.matching"},
		{"missing service", func(c *Config) { delete(c.Services, downstream.Notification) }, "services.notification"},
		{"unknown service", func(c *Config) { c.Services["billing"] = ServiceConfig{URL: "http://b"} }, "unknown service"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative jitter", func(c *Config) { c.Downstream.RetryJitter = -time.Second }, "retry_jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"86400", 24 * time.Hour},
		{"1.5", 1500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
		{" 2m ", 2 * time.Minute},
	}
	for _, tt := range tests {
		got, err := ParseSeconds(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSeconds(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "-1", "soon", "NaN"} {
		if _, err := ParseSeconds(bad); err == nil {
			t.Errorf("ParseSeconds(%q) should fail", bad)
		}
	}
}

