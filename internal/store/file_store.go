// Package store persists session credentials across process restarts.
//
// The backing format is a single JSON file under the client state directory,
// written with 0600 permissions. Absence of the file means anonymous.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/studyboard/studyboard-client/internal/domain"
)

const credentialsFile = "credentials.json"

// FileStore is a CredentialStore backed by a JSON file.
type FileStore struct {
	path string
}

var _ domain.CredentialStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at stateDir, creating the directory
// if needed.
func NewFileStore(stateDir string) (*FileStore, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{path: filepath.Join(stateDir, credentialsFile)}, nil
}

// Save writes credentials atomically: a temp file in the same directory is
// renamed over the target, so a crash mid-write never leaves a torn file.
func (s *FileStore) Save(creds domain.Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

// Load reads the stored credentials. Returns domain.ErrNoCredentials when the
// file is absent or misses either half of the token+user pair; a session is
// only restorable from both.
func (s *FileStore) Load() (domain.Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Credentials{}, domain.ErrNoCredentials
		}
		return domain.Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds domain.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.Token == "" || creds.User.ID == 0 {
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	return creds, nil
}

// Clear removes the credentials file. Clearing an empty store is a no-op.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
