package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "spsadmin-cli"

// KeyringBackend stores each key as an item in the OS keychain/credential manager
type KeyringBackend struct {
	service string
	profile string
}

// NewKeyringBackend creates a keyring backend. Profile separates sessions for
// different servers sharing one keychain.
func NewKeyringBackend(profile string) *KeyringBackend {
	return &KeyringBackend{service: keyringService, profile: profile}
}

func (k *KeyringBackend) itemKey(key string) string {
	if k.profile == "" {
		return key
	}
	return fmt.Sprintf("%s-%s", k.profile, key)
}

func (k *KeyringBackend) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(k.service, k.itemKey(key))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load %s from keyring: %w", key, err)
	}
	return v, nil
}

func (k *KeyringBackend) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(k.service, k.itemKey(key), value); err != nil {
		return fmt.Errorf("failed to save %s to keyring: %w", key, err)
	}
	return nil
}

func (k *KeyringBackend) Delete(_ context.Context, key string) error {
	if err := keyring.Delete(k.service, k.itemKey(key)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}
