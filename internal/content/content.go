// Package content is the storage collaborator owning the raw bytes of each
// document. It performs byte-level splices at an index; all ordering and
// conflict concerns stay with the caller, which invokes these operations
// under the document's room lock.
package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("content: document not found")
	ErrOutOfBounds = errors.New("content: splice out of bounds")
	ErrBadName     = errors.New("content: invalid document name")
)

// Store keeps one file per document under a single directory.
type Store struct {
	dir string
}

// New ensures dir exists and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Create makes an empty backing file. Creating an existing document is an
// error so callers can rely on the persistence layer as source of truth.
func (s *Store) Create(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Delete removes the backing file.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Read returns the full document.
func (s *Store) Read(name string) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// List returns the document names in the directory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Insert splices data into the document at index.
func (s *Store) Insert(name, data string, index int) error {
	return s.splice(name, func(cur string) (string, error) {
		if index < 0 || index > len(cur) {
			return "", fmt.Errorf("%w: insert at %d, len %d", ErrOutOfBounds, index, len(cur))
		}
		return cur[:index] + data + cur[index:], nil
	})
}

// DeleteRange removes length bytes starting at index.
func (s *Store) DeleteRange(name string, length, index int) error {
	return s.splice(name, func(cur string) (string, error) {
		if index < 0 || length < 0 || index+length > len(cur) {
			return "", fmt.Errorf("%w: delete [%d,%d), len %d", ErrOutOfBounds, index, index+length, len(cur))
		}
		return cur[:index] + cur[index+length:], nil
	})
}

// Replace removes selectionLen bytes at index and inserts data in their place.
func (s *Store) Replace(name string, selectionLen int, data string, index int) error {
	return s.splice(name, func(cur string) (string, error) {
		if index < 0 || selectionLen < 0 || index+selectionLen > len(cur) {
			return "", fmt.Errorf("%w: replace [%d,%d), len %d", ErrOutOfBounds, index, index+selectionLen, len(cur))
		}
		return cur[:index] + data + cur[index+selectionLen:], nil
	})
}

func (s *Store) splice(name string, apply func(string) (string, error)) error {
	cur, err := s.Read(name)
	if err != nil {
		return err
	}
	next, err := apply(cur)
	if err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(next), 0o644)
}
