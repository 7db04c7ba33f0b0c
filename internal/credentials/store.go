// Package credentials persists the password and display preferences of the
// bound wearable so a later session can rebind without asking the user.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotFound is returned by a Backend when nothing has been stored yet.
var ErrNotFound = errors.New("credentials: not found")

// Record is the persisted state of a bound device.
type Record struct {
	Address         string `yaml:"address,omitempty" json:"address,omitempty"`
	Password        string `yaml:"password,omitempty" json:"password,omitempty"`
	Use24HourFormat *bool  `yaml:"use_24_hour_format,omitempty" json:"use24HourFormat,omitempty"`
}

// Backend is the key-value storage behind a Store.
type Backend interface {
	// Load returns the stored record, or ErrNotFound.
	Load() (Record, error)
	// Save replaces the stored record.
	Save(Record) error
	// Clear removes the stored record. Clearing an empty backend is not an error.
	Clear() error
}

// Store is the credential store used by the Bluetooth manager.
// It is safe for concurrent use.
type Store struct {
	backend Backend
	mu      sync.Mutex
}

// NewStore creates a Store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) load() (Record, error) {
	rec, err := s.backend.Load()
	if errors.Is(err, ErrNotFound) {
		return Record{}, nil
	}
	return rec, err
}

// SaveCredentials stores the password and time-format preference, keeping
// any previously stored address.
func (s *Store) SaveCredentials(password string, use24H bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return fmt.Errorf("credentials: load: %w", err)
	}
	rec.Password = password
	rec.Use24HourFormat = &use24H
	if err := s.backend.Save(rec); err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	slog.Info("[CRED] credentials saved", "address", rec.Address)
	return nil
}

// SaveAddress stores the address of the connected device.
func (s *Store) SaveAddress(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return fmt.Errorf("credentials: load: %w", err)
	}
	rec.Address = address
	if err := s.backend.Save(rec); err != nil {
		return fmt.Errorf("credentials: save address: %w", err)
	}
	return nil
}

// Get returns the stored record. A store with nothing saved returns a zero
// Record and no error.
func (s *Store) Get() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return Record{}, fmt.Errorf("credentials: load: %w", err)
	}
	return rec, nil
}

// Address returns the stored device address, if any.
func (s *Store) Address() (string, bool) {
	rec, err := s.Get()
	if err != nil || rec.Address == "" {
		return "", false
	}
	return rec.Address, true
}

// Password returns the stored password, if any.
func (s *Store) Password() (string, bool) {
	rec, err := s.Get()
	if err != nil || rec.Password == "" {
		return "", false
	}
	return rec.Password, true
}

// Use24Hour returns the stored time-format preference; true when unset.
func (s *Store) Use24Hour() bool {
	rec, err := s.Get()
	if err != nil || rec.Use24HourFormat == nil {
		return true
	}
	return *rec.Use24HourFormat
}

// Clear removes everything stored.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(); err != nil {
		return fmt.Errorf("credentials: clear: %w", err)
	}
	slog.Info("[CRED] credentials cleared")
	return nil
}
