// Package storage persists pipeline state, such as read cursors and session
// metadata, as JSON files under a base directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Store is a file-backed JSON store. Keys may contain "/" and map to nested
// directories; each scope is an independent namespace.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a store rooted at basePath.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

func (s *Store) filePath(scope, key string) string {
	parts := append([]string{s.basePath, scope}, strings.Split(key, "/")...)
	return filepath.Join(parts...) + ".json"
}

func (s *Store) scopeDir(scope string) string {
	return filepath.Join(s.basePath, scope)
}

// Get reads the value stored under scope/key into v.
func (s *Store) Get(ctx context.Context, scope, key string, v any) error {
	data, err := os.ReadFile(s.filePath(scope, key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Put writes v under scope/key. The write is atomic: a temp file is renamed
// into place under an exclusive flock.
func (s *Store) Put(ctx context.Context, scope, key string, v any) error {
	path := s.filePath(scope, key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Delete removes scope/key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, scope, key string) error {
	path := s.filePath(scope, key)

	// The lock file lives next to the target; taking it would fail when the
	// scope directory was never created.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List returns every key in the scope, with nested directories joined by
// "/". A missing scope yields an empty list.
func (s *Store) List(ctx context.Context, scope string) ([]string, error) {
	dir := s.scopeDir(scope)

	var keys []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, strings.TrimSuffix(filepath.ToSlash(rel), ".json"))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list scope: %w", err)
	}

	return keys, nil
}

// Scan calls fn with the raw JSON of every key in the scope. Unreadable
// files are skipped.
func (s *Store) Scan(ctx context.Context, scope string, fn func(key string, data json.RawMessage) error) error {
	keys, err := s.List(ctx, scope)
	if err != nil {
		return err
	}

	for _, key := range keys {
		data, err := os.ReadFile(s.filePath(scope, key))
		if err != nil {
			continue
		}
		if err := fn(key, json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getLock(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
