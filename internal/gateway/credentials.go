package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StoredCredential is the minimal state persisted between runs. Only the
// refresh token matters for resuming a session; id and email are kept so
// tooling can show who the stored session belongs to without a network call.
type StoredCredential struct {
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
}

// CredentialStore persists the refresh token between process runs.
type CredentialStore interface {
	Load() (StoredCredential, error)
	Save(StoredCredential) error
	Clear() error
}

// ErrNoStoredCredential is returned by Load when nothing was persisted.
var ErrNoStoredCredential = errors.New("gateway: no stored credential")

type nopCredentialStore struct{}

func (nopCredentialStore) Load() (StoredCredential, error) {
	return StoredCredential{}, ErrNoStoredCredential
}
func (nopCredentialStore) Save(StoredCredential) error { return nil }
func (nopCredentialStore) Clear() error                { return nil }

// FileCredentialStore keeps the credential in a mode-0600 JSON file.
type FileCredentialStore struct {
	Path string
}

// DefaultCredentialPath returns the per-user credential file location.
func DefaultCredentialPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("gateway: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "parishly", "credentials.json"), nil
}

func (s FileCredentialStore) Load() (StoredCredential, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return StoredCredential{}, ErrNoStoredCredential
	}
	if err != nil {
		return StoredCredential{}, fmt.Errorf("gateway: read credential: %w", err)
	}
	var cred StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return StoredCredential{}, fmt.Errorf("gateway: parse credential: %w", err)
	}
	if cred.RefreshToken == "" {
		return StoredCredential{}, ErrNoStoredCredential
	}
	return cred, nil
}

func (s FileCredentialStore) Save(cred StoredCredential) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("gateway: create credential dir: %w", err)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("gateway: encode credential: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("gateway: write credential: %w", err)
	}
	return nil
}

func (s FileCredentialStore) Clear() error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("gateway: clear credential: %w", err)
	}
	return nil
}
