package keychain

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestSetGetDelete(t *testing.T) {
	keyring.MockInit()

	if err := Set(BotToken, "123:abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := Get(BotToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "123:abc" {
		t.Errorf("Get = %q, want %q", got, "123:abc")
	}

	if err := Delete(BotToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Get(BotToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := Delete(BotToken); err != nil {
		t.Errorf("Delete missing = %v, want nil", err)
	}
}

func TestSetRejectsUnknownAccount(t *testing.T) {
	keyring.MockInit()
	if err := Set("aws-root-key", "x"); err == nil {
		t.Error("Set(unknown account) should fail")
	}
}

func TestGetBackendError(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus unavailable"))
	_, err := Get(WebhookSecret)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want backend error", err)
	}
}
