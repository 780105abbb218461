// Package config loads gateway configuration.
//
// Values are resolved in order: built-in defaults, the YAML file given with
// --config (optional), environment variables, and finally the OS keychain
// for secrets that are still empty.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdelaire/tgate/core/downstream"
	"github.com/jdelaire/tgate/internal/keychain"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the gateway configuration.
type Config struct {
	Server     ServerConfig                         `yaml:"server"`
	Telegram   TelegramConfig                       `yaml:"telegram"`
	Store      StoreConfig                          `yaml:"store"`
	Session    SessionConfig                        `yaml:"session"`
	RateLimit  RateLimitConfig                      `yaml:"rate_limit"`
	Services   map[downstream.Service]ServiceConfig `yaml:"services"`
	Downstream DownstreamConfig                     `yaml:"downstream"`
	Logging    LoggingConfig                        `yaml:"logging"`
}

// ServerConfig configures the webhook listener.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	WebhookPath string `yaml:"webhook_path"`
	// PublicURL is the externally reachable base URL used by "webhook set".
	PublicURL string `yaml:"public_url"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BotToken      string `yaml:"bot_token"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIBaseURL    string `yaml:"api_base_url"`
}

// StoreConfig selects and configures the ephemeral store.
type StoreConfig struct {
	Backend   string        `yaml:"backend"`
	Redis     RedisConfig   `yaml:"redis"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// RedisConfig is the Redis connection.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionConfig configures session expiry.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// RateLimitConfig allows Requests per Window per sender.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RefillPerSecond is the bucket refill rate.
func (r RateLimitConfig) RefillPerSecond() float64 {
	return float64(r.Requests) / r.Window.Seconds()
}

// ServiceConfig is one downstream service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DownstreamConfig holds settings shared by all services.
type DownstreamConfig struct {
	RetryJitter time.Duration `yaml:"retry_jitter"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8000",
			WebhookPath: "/webhook/telegram",
		},
		Telegram: TelegramConfig{
			APIBaseURL: "https://api.telegram.org",
		},
		Store: StoreConfig{
			Backend:   BackendRedis,
			Redis:     RedisConfig{Host: "localhost", Port: 6379},
			OpTimeout: 250 * time.Millisecond,
		},
		Session:   SessionConfig{TTL: 24 * time.Hour},
		RateLimit: RateLimitConfig{Requests: 1, Window: time.Second},
		Services: map[downstream.Service]ServiceConfig{
			downstream.Conversation: {URL: "http://localhost:8001", Timeout: downstream.DefaultConversationTimeout},
			downstream.Profile:      {URL: "http://localhost:8002", Timeout: downstream.DefaultTimeout},
			downstream.Matching:     {URL: "http://localhost:8003", Timeout: downstream.DefaultTimeout},
			downstream.Notification: {URL: "http://localhost:8004", Timeout: downstream.DefaultTimeout},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadFile reads a YAML file over the defaults. Fields absent from the
// file keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the full configuration. path may be empty.
func Load(path string, env func(string) (string, bool), secrets func(account string) (string, error)) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if env != nil {
		if err := cfg.ApplyEnv(env); err != nil {
			return nil, err
		}
	}
	if secrets != nil {
		cfg.FillSecrets(secrets)
	}
	return cfg, nil
}

// service env variable prefixes
var serviceEnv = map[downstream.Service]string{
	downstream.Conversation: "CONVERSATION",
	downstream.Profile:      "USER_PROFILE",
	downstream.Matching:     "MATCHING",
	downstream.Notification: "NOTIFICATION",
}

// ApplyEnv overrides values from environment variables.
func (c *Config) ApplyEnv(env func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := env(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := env(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := env(name); ok && v != "" {
			d, err := ParseSeconds(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_WEBHOOK_SECRET", &c.Telegram.WebhookSecret)
	str("TELEGRAM_API_URL", &c.Telegram.APIBaseURL)
	str("REDIS_HOST", &c.Store.Redis.Host)
	num("REDIS_PORT", &c.Store.Redis.Port)
	num("REDIS_DB", &c.Store.Redis.DB)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("STORE_BACKEND", &c.Store.Backend)
	dur("SESSION_TTL", &c.Session.TTL)
	num("RATE_LIMIT_REQUESTS", &c.RateLimit.Requests)
	dur("RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("PUBLIC_URL", &c.Server.PublicURL)

	if v, ok := env("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			c.Server.Addr = ":" + v
		}
	}

	if c.Services == nil {
		c.Services = make(map[downstream.Service]ServiceConfig)
	}
	for svc, prefix := range serviceEnv {
		sc := c.Services[svc]
		str(prefix+"_SERVICE_URL", &sc.URL)
		dur(prefix+"_TIMEOUT", &sc.Timeout)
		c.Services[svc] = sc
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// FillSecrets looks up secrets that are still empty. Lookup failures leave
// the value empty; Validate reports what is missing.
func (c *Config) FillSecrets(get func(account string) (string, error)) {
	fill := func(account string, dst *string) {
		if *dst != "" {
			return
		}
		if v, err := get(account); err == nil {
			*dst = v
		}
	}
	fill(keychain.BotToken, &c.Telegram.BotToken)
	fill(keychain.WebhookSecret, &c.Telegram.WebhookSecret)
	if c.Store.Backend == BackendRedis {
		fill(keychain.RedisPassword, &c.Store.Redis.Password)
	}
}

// ParseSeconds accepts a Go duration ("90s", "1h") or a bare number of
// seconds ("86400").
func ParseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// Validate checks everything except secrets.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("server.webhook_path %q must start with /", c.Server.WebhookPath))
	}
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.Host == "" || c.Store.Redis.Port <= 0 {
			errs = append(errs, errors.New("store.redis host and port are required"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: must be %s or %s", c.Store.Backend, BackendRedis, BackendMemory))
	}
	if c.Store.OpTimeout <= 0 {
		errs = append(errs, errors.New("store.op_timeout must be positive"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit requests and window must be positive"))
	}
	if c.Downstream.RetryJitter < 0 {
		errs = append(errs, errors.New("downstream.retry_jitter must not be negative"))
	}
	for _, svc := range downstream.Services {
		sc, ok := c.Services[svc]
		if !ok {
			errs = append(errs, fmt.Errorf("services.%s is required", svc))
			continue
		}
		if err := (downstream.ServiceConfig{BaseURL: sc.URL, Timeout: sc.Timeout}).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("services.%s: %w", svc, err))
		}
	}
	for svc := range c.Services {
		if _, ok := serviceEnv[svc]; !ok {
			errs = append(errs, fmt.Errorf("services.%s: unknown service", svc))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// RequireBotToken reports a missing bot token.
func (c *Config) RequireBotToken() error {
	if c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is not set (TELEGRAM_BOT_TOKEN, telegram.bot_token or keychain)")
	}
	return nil
}

// RequireWebhookSecret reports a missing webhook secret.
func (c *Config) RequireWebhookSecret() error {
	if c.Telegram.WebhookSecret == "" {
		return errors.New("telegram webhook secret is not set (TELEGRAM_WEBHOOK_SECRET, telegram.webhook_secret or keychain)")
	}
	return nil
}

// DownstreamServices converts the service table for the downstream client.
func (c *Config) DownstreamServices() map[downstream.Service]downstream.ServiceConfig {
	out := make(map[downstream.Service]downstream.ServiceConfig, len(c.Services))
	for svc, sc := range c.Services {
		out[svc] = downstream.ServiceConfig{BaseURL: sc.URL, Timeout: sc.Timeout}
	}
	return out
}

// WebhookURL is the public URL Telegram should post to.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + c.Server.WebhookPath
}
