// Package postgres implements state.StateStore on PostgreSQL via pgx.
//
// The upsert is a single INSERT ... ON CONFLICT statement so concurrent
// submissions for the same (id, tenant_id) serialize inside the database;
// there is no read-then-write window. created_at is never touched on
// conflict and updated_at advances with GREATEST so a delayed duplicate
// cannot roll the row backwards.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flow-state-networks/state-exchange/app/internal/state"
)

const upsertStateSQL = `
INSERT INTO states (
	id, tenant_id, parent_id, flow_id, flow_version_id,
	is_done, current_map_element_id, current_user_id, content,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (id, tenant_id) DO UPDATE SET
	parent_id = EXCLUDED.parent_id,
	flow_id = EXCLUDED.flow_id,
	flow_version_id = EXCLUDED.flow_version_id,
	is_done = EXCLUDED.is_done,
	current_map_element_id = EXCLUDED.current_map_element_id,
	current_user_id = EXCLUDED.current_user_id,
	content = EXCLUDED.content,
	updated_at = GREATEST(states.updated_at, EXCLUDED.updated_at)`

const getStateSQL = `
SELECT id, tenant_id, parent_id, flow_id, flow_version_id,
	is_done, current_map_element_id, current_user_id, content,
	created_at, updated_at
FROM states
WHERE id = $1 AND tenant_id = $2`

const deleteStateSQL = `DELETE FROM states WHERE id = $1 AND tenant_id = $2`

// PgStorage implements state.StateStore backed by a pgx connection pool.
type PgStorage struct {
	pool *pgxpool.Pool
	caps state.Capabilities
}

// New creates a PgStorage using the supplied pool. The pool's lifecycle is
// owned by the caller.
func New(pool *pgxpool.Pool) *PgStorage {
	return &PgStorage{
		pool: pool,
		caps: state.Capabilities{
			Name:               "postgres",
			TimestampPrecision: time.Microsecond,
		},
	}
}

func (s *PgStorage) Capabilities() state.Capabilities { return s.caps }

// Upsert inserts or updates a single record.
func (s *PgStorage) Upsert(ctx context.Context, record state.StateRecord) error {
	record = s.caps.NormalizeRecord(record)
	if _, err := s.pool.Exec(ctx, upsertStateSQL, upsertArgs(record)...); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to upsert state")
	}
	return nil
}

// UpsertBatch persists the batch in one transaction.
func (s *PgStorage) UpsertBatch(ctx context.Context, records []state.StateRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return state.WrapStoreUnavailableError(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(upsertStateSQL, upsertArgs(s.caps.NormalizeRecord(record))...)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return state.WrapStoreUnavailableError(err, "failed to upsert state batch")
		}
	}
	if err := results.Close(); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to close batch results")
	}

	if err := tx.Commit(ctx); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to commit state batch")
	}
	return nil
}

// Get returns the record for (id, tenantID) or state.ErrStateNotFound.
func (s *PgStorage) Get(ctx context.Context, id, tenantID uuid.UUID) (*state.StateRecord, error) {
	var (
		record state.StateRecord
		parent *uuid.UUID
	)
	err := s.pool.QueryRow(ctx, getStateSQL, id, tenantID).Scan(
		&record.ID,
		&record.TenantID,
		&parent,
		&record.FlowID,
		&record.FlowVersionID,
		&record.IsDone,
		&record.CurrentMapElementID,
		&record.CurrentUserID,
		&record.Content,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, state.ErrStateNotFound
	}
	if err != nil {
		return nil, state.WrapStoreUnavailableError(err, "failed to read state")
	}
	if parent != nil {
		record.ParentID = *parent
	}
	return &record, nil
}

// Delete removes the record for (id, tenantID). Deleting a record that does
// not exist is not an error.
func (s *PgStorage) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, deleteStateSQL, id, tenantID); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to delete state")
	}
	return nil
}

func upsertArgs(record state.StateRecord) []any {
	// absent parent is stored as NULL, not the zero uuid
	var parent *uuid.UUID
	if record.ParentID != uuid.Nil {
		parent = &record.ParentID
	}
	return []any{
		record.ID,
		record.TenantID,
		parent,
		record.FlowID,
		record.FlowVersionID,
		record.IsDone,
		record.CurrentMapElementID,
		record.CurrentUserID,
		record.Content,
		record.CreatedAt,
		record.UpdatedAt,
	}
}
