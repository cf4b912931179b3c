package ledger

import (
	"context"
	"sync"

	"github.com/hupe1980/tiermem/model"
)

// Compile-time check
var _ Ledger = (*MapLedger)(nil)

// MapLedger is an in-memory ledger backed by a Go map. It is suitable for
// tests and for tiers that do not need to survive a restart.
//
// Records are cloned on the way in and out, so callers can mutate their
// copies without racing the ledger.
type MapLedger struct {
	mu   sync.RWMutex
	data map[string]*model.Record
}

// NewMapLedger creates a new in-memory map-based ledger.
func NewMapLedger() *MapLedger {
	return &MapLedger{
		data: make(map[string]*model.Record),
	}
}

// Put stores a record, replacing any existing record with the same ID.
func (m *MapLedger) Put(_ context.Context, record *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[record.ID] = record.Clone()
	return nil
}

// Get retrieves the record with the given ID.
func (m *MapLedger) Get(_ context.Context, id string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}

	return record.Clone(), nil
}

// Delete removes the record with the given ID.
func (m *MapLedger) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}

	delete(m.data, id)
	return nil
}

// List returns all records.
func (m *MapLedger) List(_ context.Context) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*model.Record, 0, len(m.data))
	for _, record := range m.data {
		records = append(records, record.Clone())
	}

	return records, nil
}

// Keys returns all record IDs.
func (m *MapLedger) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for id := range m.data {
		keys = append(keys, id)
	}

	return keys, nil
}

// Count returns the number of records.
func (m *MapLedger) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data), nil
}

// Clear removes all records.
func (m *MapLedger) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*model.Record)
	return nil
}

// Close is a no-op for the in-memory ledger.
func (m *MapLedger) Close() error { return nil }
