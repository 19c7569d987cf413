package state

// storage.go defines the contract the relational backends implement and the
// capability metadata that records backend dialect quirks.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStateNotFound is returned by Get when no record exists for the
// requested (id, tenantId) pair.
var ErrStateNotFound = errors.New("state not found")

// Capabilities records the data-representation quirks of a backend dialect.
// It is injected into the store at construction - callers never probe the
// environment to find out which engine they are on.
type Capabilities struct {
	// Name of the dialect ("postgres", "mysql", "inmem").
	Name string

	// TimestampPrecision is the finest timestamp resolution the backend
	// preserves. MySQL DATETIME truncates to whole seconds; Postgres keeps
	// microseconds. Timestamps are truncated to this precision before
	// storage and comparison, so round-trip reads match what was actually
	// persisted.
	TimestampPrecision time.Duration
}

// NormalizeTimestamp truncates a timestamp to the backend's precision.
func (c Capabilities) NormalizeTimestamp(t time.Time) time.Time {
	if c.TimestampPrecision <= 0 {
		return t
	}
	return t.Truncate(c.TimestampPrecision)
}

// NormalizeRecord returns a copy of the record with its timestamps truncated
// to the backend's precision.
func (c Capabilities) NormalizeRecord(record StateRecord) StateRecord {
	record.CreatedAt = c.NormalizeTimestamp(record.CreatedAt)
	record.UpdatedAt = c.NormalizeTimestamp(record.UpdatedAt)
	return record
}

// StateStore persists and retrieves state records.
//
// Tenant scoping is structural: every operation takes the tenant id and
// every query predicate includes it, so no code path can touch a record
// without supplying the tenant.
//
// Upsert semantics: if no row exists for (id, tenantId) the record is
// inserted with its submitted createdAt/updatedAt; if a row exists, all
// mutable fields are updated, updatedAt advances (never regresses) and
// createdAt is left untouched. The operation is a single atomic
// conditional statement, not a read-then-write, so concurrent submissions
// for the same key serialize at the store.
type StateStore interface {
	Upsert(ctx context.Context, record StateRecord) error

	// UpsertBatch persists a batch atomically: either every record is
	// written or none is.
	UpsertBatch(ctx context.Context, records []StateRecord) error

	// Get returns ErrStateNotFound when no row matches (id, tenantId).
	Get(ctx context.Context, id, tenantID uuid.UUID) (*StateRecord, error)

	Delete(ctx context.Context, id, tenantID uuid.UUID) error

	Capabilities() Capabilities
}
