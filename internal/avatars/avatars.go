// ABOUTME: Filesystem avatar storage, one image per entity under DATA_DIR/avatars
// ABOUTME: Saving a new avatar replaces any previous file regardless of extension

package avatars

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned for images outside the allowed set.
var ErrUnsupportedType = errors.New("unsupported avatar type")

// allowedExts is the accepted image extension set, in lookup order.
var allowedExts = []string{"png", "jpg", "gif", "webp"}

// Store keeps one avatar file per entity, named <entity_id>.<ext>.
type Store struct {
	dir     string
	baseURL string
}

// New creates the avatar directory under dataDir if needed. baseURL is the
// public prefix used by URL and may be empty when avatars are not served.
func New(dataDir, baseURL string) (*Store, error) {
	dir := filepath.Join(dataDir, "avatars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating avatar directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save writes the entity's avatar, replacing any previous file even when the
// extension differs. ext may carry a leading dot. Returns the stored path.
func (s *Store) Save(entityID string, data []byte, ext string) (string, error) {
	if err := validateID(entityID); err != nil {
		return "", err
	}
	ext = normalizeExt(ext)
	if !extAllowed(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("avatar data is empty")
	}

	// One avatar per entity: drop the old file before writing the new one
	for _, other := range allowedExts {
		if other == ext {
			continue
		}
		if err := os.Remove(s.fileFor(entityID, other)); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("removing previous avatar: %w", err)
		}
	}

	path := s.fileFor(entityID, ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing avatar: %w", err)
	}
	return path, nil
}

// Path returns the stored avatar path for the entity, if one exists.
func (s *Store) Path(entityID string) (string, bool) {
	if validateID(entityID) != nil {
		return "", false
	}
	for _, ext := range allowedExts {
		path := s.fileFor(entityID, ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// URL returns the public URL for the entity's avatar. It requires both a
// stored file and a configured base URL.
func (s *Store) URL(entityID string) (string, bool) {
	path, ok := s.Path(entityID)
	if !ok || s.baseURL == "" {
		return "", false
	}
	return s.baseURL + "/" + filepath.Base(path), true
}

// Remove deletes the entity's avatar if present.
func (s *Store) Remove(entityID string) error {
	if err := validateID(entityID); err != nil {
		return err
	}
	for _, ext := range allowedExts {
		if err := os.Remove(s.fileFor(entityID, ext)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing avatar: %w", err)
		}
	}
	return nil
}

func (s *Store) fileFor(entityID, ext string) string {
	return filepath.Join(s.dir, entityID+"."+ext)
}

// validateID rejects ids that could escape the avatar directory. Entity ids
// are UUIDs in practice; anything with separators or dots is suspect.
func validateID(entityID string) error {
	if entityID == "" {
		return fmt.Errorf("entity id is empty")
	}
	if strings.ContainsAny(entityID, "/\\.") {
		return fmt.Errorf("invalid entity id %q", entityID)
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	return ext
}

func extAllowed(ext string) bool {
	for _, e := range allowedExts {
		if e == ext {
			return true
		}
	}
	return false
}
