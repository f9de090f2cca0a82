package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Identity is what the node remembers about its registration across restarts.
type Identity struct {
	ExternalID   string    `json:"external_id"`
	Token        string    `json:"token"`
	RegisteredAt time.Time `json:"registered_at"`
}

// IdentityStore persists the identity as a JSON file.
type IdentityStore struct {
	path string

	mu       sync.RWMutex
	identity *Identity
}

func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// Load reads the identity from disk. A missing file yields nil and no error.
func (s *IdentityStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	s.identity = &id
	return &id, nil
}

// Save writes the identity atomically.
func (s *IdentityStore) Save(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create identity dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace identity: %w", err)
	}
	copied := *id
	s.identity = &copied
	return nil
}

// Current returns the identity last loaded or saved.
func (s *IdentityStore) Current() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	copied := *s.identity
	return &copied
}
