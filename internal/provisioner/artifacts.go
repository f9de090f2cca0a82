package provisioner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Viktorio135/vpn/internal/models"
)

// ArtifactStore keeps rendered client configs on disk for as long as it takes
// to hand them to the caller.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create configs dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Path(ownerID int64, name string) string {
	return filepath.Join(s.dir, models.ArtifactName(ownerID, name))
}

func (s *ArtifactStore) Save(ownerID int64, name string, blob []byte) (string, error) {
	path := s.Path(ownerID, name)
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config artifact: %w", err)
	}
	return path, nil
}

// Remove deletes the artifact. A missing file is not an error.
func (s *ArtifactStore) Remove(ownerID int64, name string) error {
	return s.removePath(s.Path(ownerID, name))
}

func (s *ArtifactStore) removePath(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove config artifact: %w", err)
	}
	return nil
}
