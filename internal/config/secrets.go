package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// EnvTelegramToken overrides the keyring lookup.
	EnvTelegramToken = "EVENTRA_TELEGRAM_TOKEN"

	DefaultKeyringService = "eventra"
	DefaultKeyringUser    = "telegram"
)

var ErrNoToken = errors.New("telegram token not configured")

func keyringRef(t TelegramConfig) (service, user string) {
	service, user = strings.TrimSpace(t.KeyringService), strings.TrimSpace(t.KeyringUser)
	if service == "" {
		service = DefaultKeyringService
	}
	if user == "" {
		user = DefaultKeyringUser
	}
	return service, user
}

// TelegramToken resolves the bot token: config value, environment, then the
// OS keyring.
func TelegramToken(t TelegramConfig) (string, error) {
	if tok := strings.TrimSpace(t.Token); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		return tok, nil
	}
	service, user := keyringRef(t)
	tok, err := keyring.Get(service, user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", ErrNoToken
	case err != nil:
		return "", fmt.Errorf("keyring %s/%s: %w", service, user, err)
	}
	return strings.TrimSpace(tok), nil
}

// StoreTelegramToken saves the token in the OS keyring entry the config
// points at.
func StoreTelegramToken(t TelegramConfig, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	service, user := keyringRef(t)
	if err := keyring.Set(service, user, token); err != nil {
		return fmt.Errorf("keyring %s/%s: %w", service, user, err)
	}
	return nil
}
