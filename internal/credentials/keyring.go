package credentials

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringUser = "bound-device"

// KeyringBackend stores the record as a JSON secret in the OS keyring
// (Secret Service, macOS Keychain, Windows Credential Manager).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend creates a KeyringBackend under the given service name.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Load() (Record, error) {
	secret, err := keyring.Get(k.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("keyring get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(secret), &rec); err != nil {
		return Record{}, fmt.Errorf("decode keyring secret: %w", err)
	}
	return rec, nil
}

func (k *KeyringBackend) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode keyring secret: %w", err)
	}
	if err := keyring.Set(k.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Clear() error {
	err := keyring.Delete(k.service, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

var _ Backend = (*KeyringBackend)(nil)
