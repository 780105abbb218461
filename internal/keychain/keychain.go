// Package keychain reads gateway secrets from the OS keychain so they do
// not have to live in the config file or the environment.
package keychain

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "tgate"

// Account names under which secrets are stored.
const (
	BotToken      = "telegram-bot-token"
	WebhookSecret = "telegram-webhook-secret"
	RedisPassword = "redis-password"
)

// Accounts lists every account the gateway reads.
var Accounts = []string{BotToken, WebhookSecret, RedisPassword}

// ErrNotFound is returned when the account has no stored secret.
var ErrNotFound = keyring.ErrNotFound

// Get retrieves a secret from the system keychain.
func Get(account string) (string, error) {
	v, err := keyring.Get(serviceName, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keychain get %s: %w", account, err)
	}
	return v, nil
}

// Set stores a secret in the system keychain.
func Set(account, value string) error {
	if !known(account) {
		return fmt.Errorf("unknown keychain account %q", account)
	}
	if err := keyring.Set(serviceName, account, value); err != nil {
		return fmt.Errorf("keychain set %s: %w", account, err)
	}
	return nil
}

// Delete removes a stored secret. Deleting a missing secret is not an error.
func Delete(account string) error {
	err := keyring.Delete(serviceName, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", account, err)
	}
	return nil
}

func known(account string) bool {
	for _, a := range Accounts {
		if a == account {
			return true
		}
	}
	return false
}
