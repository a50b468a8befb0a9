package store

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore returns a process-local store.
func NewMemoryStore() Store {
	return &memoryStore{recs: make(map[string]Record)}
}

func (m *memoryStore) Save(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.recs[rec.OperationID] = rec
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memoryStore) List(context.Context) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	m.mu.Unlock()
	sortRecords(out)
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.recs, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
