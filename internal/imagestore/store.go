package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Default object names served when a record has no image of its own.
const (
	DefaultCover  = "default-recipe-cover.jpg"
	DefaultAvatar = "default-avatar.jpg"
)

// Store keeps processed images. Names are single path segments produced
// by NewName; folder is one of the Folder* constants.
type Store interface {
	Put(ctx context.Context, folder, name string, data []byte) error
	Delete(ctx context.Context, folder, name string) error
	URL(folder, name string) string
}

// CoverURL returns the public URL of a recipe cover, or the default cover.
func CoverURL(s Store, name string) string {
	if name == "" {
		return s.URL(FolderAssets, DefaultCover)
	}
	return s.URL(FolderRecipes, name)
}

// AvatarURL returns the public URL of a user avatar, or the default avatar.
func AvatarURL(s Store, name string) string {
	if name == "" {
		return s.URL(FolderAssets, DefaultAvatar)
	}
	return s.URL(FolderAvatars, name)
}

// LocalStore writes images below Root and serves them from BaseURL, which
// the server maps onto Root with a file server.
type LocalStore struct {
	Root    string
	BaseURL string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates root and writes placeholder default images if they
// are missing.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	s := &LocalStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}
	for _, folder := range []string{FolderRecipes, FolderAvatars, FolderAssets} {
		if err := os.MkdirAll(filepath.Join(root, folder), 0o755); err != nil {
			return nil, fmt.Errorf("imagestore: creating %s: %w", folder, err)
		}
	}
	if err := s.ensurePlaceholders(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) path(folder, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("imagestore: invalid object name %q", name)
	}
	return filepath.Join(s.Root, folder, name), nil
}

func (s *LocalStore) Put(_ context.Context, folder, name string, data []byte) error {
	p, err := s.path(folder, name)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("imagestore: writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("imagestore: moving %s into place: %w", name, err)
	}
	return nil
}

// Delete removes an image. A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, folder, name string) error {
	p, err := s.path(folder, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("imagestore: deleting %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) URL(folder, name string) string {
	return s.BaseURL + "/" + folder + "/" + name
}

func (s *LocalStore) ensurePlaceholders() error {
	for _, name := range []string{DefaultCover, DefaultAvatar} {
		p := filepath.Join(s.Root, FolderAssets, name)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		data, err := placeholder(MaxDimension, MaxDimension*3/4)
		if err != nil {
			return fmt.Errorf("imagestore: rendering placeholder: %w", err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return fmt.Errorf("imagestore: writing placeholder %s: %w", name, err)
		}
	}
	return nil
}
