package downstream

import (
	"fmt"
	"net/url"
	"time"
)

// Service names a downstream application service.
type Service string

const (
	Conversation Service = "conversation"
	Profile      Service = "profile"
	Matching     Service = "matching"
	Notification Service = "notification"
)

// Services lists every known service.
var Services = []Service{Conversation, Profile, Matching, Notification}

// Default per-service timeouts.
const (
	DefaultConversationTimeout = 5 * time.Second
	DefaultTimeout             = 3 * time.Second
)

// DefaultTimeoutFor returns the default timeout for s.
func DefaultTimeoutFor(s Service) time.Duration {
	if s == Conversation {
		return DefaultConversationTimeout
	}
	return DefaultTimeout
}

// ServiceConfig is one service's endpoint.
type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Validate checks that the base URL is an absolute http(s) URL.
func (sc ServiceConfig) Validate() error {
	u, err := url.Parse(sc.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url %q: scheme must be http or https", sc.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base url %q: missing host", sc.BaseURL)
	}
	if sc.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", sc.Timeout)
	}
	return nil
}
