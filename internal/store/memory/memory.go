package memory

import (
	"context"
	"strconv"
	"sync"

	"qms/patient-queue/internal/store"
)

type entry struct {
	mu       sync.RWMutex
	value    []byte
	version  uint64
	watchers map[chan struct{}]struct{}
}

// Store keeps every key in process memory. Used by tests and local dev.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entry(key string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStorageUnavailable
	}
	e, ok := s.entries[key]
	if !ok {
		e = &entry{watchers: make(map[chan struct{}]struct{})}
		s.entries[key] = e
	}
	return e, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(key)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyBytes(e.value), nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entry(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set(value)
	return nil
}

func (s *Store) Mutate(ctx context.Context, key string, fn store.MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entry(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(copyBytes(e.value))
	if err != nil {
		return err
	}
	e.set(next)
	return nil
}

func (s *Store) Version(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e, err := s.entry(key)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return strconv.FormatUint(e.version, 10), nil
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	e, err := s.entry(key)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	e.watchers[ch] = struct{}{}
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.watchers, ch)
		close(ch)
		e.mu.Unlock()
	}()
	return ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// set must be called with e.mu held for writing.
func (e *entry) set(value []byte) {
	e.value = copyBytes(value)
	e.version++
	for ch := range e.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
