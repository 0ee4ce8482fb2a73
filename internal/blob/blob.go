// Package blob stores payload documents too large to keep on a queue entry.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"socialqueue/internal/constants"
	"socialqueue/internal/models"
	"socialqueue/internal/security"
)

// ErrNotFound is returned by Get for a key that holds no object.
var ErrNotFound = errors.New("blob not found")

// Store is the payload blob store.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// PayloadKey is the key an externally stored payload is written under:
// <channel>/scheduled/<id>.json.
func PayloadKey(channel models.Channel, id string) string {
	return fmt.Sprintf("%s/%s/%s.json", channel, constants.PayloadKeyPrefix, id)
}

// RevisionKey is the key an updated payload is written under, so the
// payload an entry currently points at stays intact until the store accepts
// the update: <channel>/scheduled/<id>.<revision>.json.
func RevisionKey(channel models.Channel, id, revision string) string {
	return fmt.Sprintf("%s/%s/%s.%s.json", channel, constants.PayloadKeyPrefix, id, revision)
}

// FileStore keeps blobs as files below a base directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory cannot be empty")
	}
	if err := os.MkdirAll(dir, constants.DefaultBlobDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := security.ResolveWithin(s.dir, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DefaultBlobDirPermissions); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write then rename so readers never see a partial document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, constants.DefaultBlobFilePermissions); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := security.ResolveWithin(s.dir, key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(path) // #nosec G304 - path resolved within the blob directory
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return body, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := security.ResolveWithin(s.dir, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
