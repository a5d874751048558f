// Package store resolves filenames against a storage root and hands out file
// handles guarded by per-filename reader/writer locks.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const DefaultRoot = "./server_files"

var (
	ErrEmptyName   = errors.New("filename cannot be empty")
	ErrOutsideRoot = errors.New("filename escapes storage root")
	ErrNotRegular  = errors.New("not a regular file")
)

type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	sync.RWMutex
	refs int
}

// New creates root if it does not exist.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &Store{
		root:  root,
		locks: make(map[string]*fileLock),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Resolve returns the path of name under the storage root. Absolute names and
// names that climb out of the root with ".." are rejected.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}

	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}

	return filepath.Join(s.root, name), nil
}

// Create opens name for writing, truncating any previous content. The caller
// holds the exclusive lock for name until Close or Abort.
func (s *Store) Create(name string) (*Writer, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(filepath.Clean(name), true)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		unlock()
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		unlock()
		return nil, err
	}

	return &Writer{file: file, path: path, unlock: unlock}, nil
}

// Open opens name read-only. Readers of the same name share the lock.
func (s *Store) Open(name string) (*Reader, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(filepath.Clean(name), false)

	file, err := os.Open(path)
	if err != nil {
		unlock()
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		unlock()
		return nil, err
	}

	if !stat.Mode().IsRegular() {
		file.Close()
		unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, name)
	}

	return &Reader{file: file, size: stat.Size(), unlock: unlock}, nil
}

func (s *Store) lock(key string, exclusive bool) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &fileLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	if exclusive {
		l.Lock()
	} else {
		l.RLock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if exclusive {
				l.Unlock()
			} else {
				l.RUnlock()
			}

			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}
