// Package filestore keeps each key as a JSON file in one directory. Several
// server processes may share the directory: every access takes an advisory
// lock on a sibling .lock file in addition to the in-process lock.
package filestore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"qms/patient-queue/internal/store"

	"golang.org/x/crypto/blake2b"
)

type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", store.ErrStorageUnavailable, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.RWMutex)}, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.withLock(key, false, func() error {
		var err error
		value, err = s.readFile(key)
		return err
	})
	return value, err
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(key, true, func() error {
		return s.writeFile(key, value)
	})
}

func (s *Store) Mutate(ctx context.Context, key string, fn store.MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(key, true, func() error {
		current, err := s.readFile(key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return s.writeFile(key, next)
	})
}

// Version is a digest of the file content. File mtimes are too coarse to
// tell apart two writes landing in the same clock tick.
func (s *Store) Version(ctx context.Context, key string) (string, error) {
	value, err := s.Read(ctx, key)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	sum := blake2b.Sum256(value)
	return hex.EncodeToString(sum[:16]), nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) keyLock(key string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) withLock(key string, exclusive bool, fn func() error) error {
	l := s.keyLock(key)
	if exclusive {
		l.Lock()
		defer l.Unlock()
	} else {
		l.RLock()
		defer l.RUnlock()
	}

	lockFile, err := os.OpenFile(s.path(key)+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open lock %s: %v", store.ErrStorageUnavailable, key, err)
	}
	defer lockFile.Close()

	if err := lockFD(lockFile, exclusive); err != nil {
		return fmt.Errorf("%w: lock %s: %v", store.ErrStorageUnavailable, key, err)
	}
	defer unlockFD(lockFile)
	return fn()
}

func (s *Store) readFile(key string) ([]byte, error) {
	value, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", store.ErrStorageUnavailable, key, err)
	}
	return value, nil
}

func (s *Store) writeFile(key string, value []byte) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", store.ErrStorageUnavailable, key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", store.ErrStorageUnavailable, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync %s: %v", store.ErrStorageUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", store.ErrStorageUnavailable, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", store.ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, fileName(key)+".json")
}

// fileName escapes every byte outside [a-z0-9-] as _xx so distinct keys never
// share a file, even on case-insensitive filesystems.
func fileName(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteString(hex.EncodeToString([]byte{c}))
	}
	return b.String()
}
