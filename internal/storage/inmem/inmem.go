// Package inmem implements state.StateStore with an in-memory map.
//
// It mirrors the relational upsert semantics (createdAt immutable,
// updatedAt monotone, tenant-scoped keys) and exists for tests and local
// development - it is not durable.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/state"
)

type recordKey struct {
	id       uuid.UUID
	tenantID uuid.UUID
}

// InMemStorage implements state.StateStore in memory.
type InMemStorage struct {
	mu      sync.RWMutex
	records map[recordKey]state.StateRecord
	caps    state.Capabilities
}

// New creates an empty InMemStorage.
func New() *InMemStorage {
	return &InMemStorage{
		records: make(map[recordKey]state.StateRecord),
		caps: state.Capabilities{
			Name:               "inmem",
			TimestampPrecision: time.Nanosecond,
		},
	}
}

// NewWithCapabilities creates an InMemStorage that mimics another backend's
// timestamp precision. Used by tests that exercise dialect behaviour
// without a live database.
func NewWithCapabilities(caps state.Capabilities) *InMemStorage {
	return &InMemStorage{
		records: make(map[recordKey]state.StateRecord),
		caps:    caps,
	}
}

func (s *InMemStorage) Capabilities() state.Capabilities { return s.caps }

// Upsert inserts or updates a single record.
func (s *InMemStorage) Upsert(ctx context.Context, record state.StateRecord) error {
	return s.UpsertBatch(ctx, []state.StateRecord{record})
}

// UpsertBatch applies the whole batch under one lock; either all records
// are applied or (on validation of inputs) none.
func (s *InMemStorage) UpsertBatch(_ context.Context, records []state.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		record = s.caps.NormalizeRecord(record)
		key := recordKey{id: record.ID, tenantID: record.TenantID}

		if existing, ok := s.records[key]; ok {
			// createdAt never mutates; updatedAt never regresses
			record.CreatedAt = existing.CreatedAt
			if record.UpdatedAt.Before(existing.UpdatedAt) {
				record.UpdatedAt = existing.UpdatedAt
			}
		}

		s.records[key] = record
	}

	return nil
}

// Get returns the record for (id, tenantID) or state.ErrStateNotFound.
func (s *InMemStorage) Get(_ context.Context, id, tenantID uuid.UUID) (*state.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordKey{id: id, tenantID: tenantID}]
	if !ok {
		return nil, state.ErrStateNotFound
	}

	out := record
	return &out, nil
}

// Delete removes the record for (id, tenantID). Deleting a record that does
// not exist is not an error.
func (s *InMemStorage) Delete(_ context.Context, id, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey{id: id, tenantID: tenantID})
	return nil
}
