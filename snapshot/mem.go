package snapshot

import (
	"bytes"
	"maps"
	"slices"
	"sync"
)

type memBackend struct {
	mu      sync.Mutex
	records map[string][]byte
	closed  bool
}

// NewMemStore returns a transient Store, for tests and short-lived editing
// sessions.
func NewMemStore(opt Options) Store {
	return newStore(&memBackend{records: make(map[string][]byte)}, opt)
}

func (b *memBackend) get(name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.records[name], nil
}

func (b *memBackend) put(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.records[name] = bytes.Clone(data)
	return nil
}

func (b *memBackend) delete(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	_, found := b.records[name]
	delete(b.records, name)
	return found, nil
}

func (b *memBackend) names() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return slices.Collect(maps.Keys(b.records)), nil
}

func (b *memBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.records = nil
	return nil
}
