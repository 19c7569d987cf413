// Package mysql implements state.StateStore on MySQL via database/sql and
// the go-sql-driver.
//
// Identifiers are stored as CHAR(36) canonical UUID text and timestamps as
// DATETIME, which truncates to whole seconds - the Capabilities precision
// reflects that. The upsert is a single INSERT ... ON DUPLICATE KEY UPDATE
// statement; created_at is never touched on conflict and updated_at
// advances with GREATEST so a delayed duplicate cannot roll the row
// backwards.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flow-state-networks/state-exchange/app/internal/state"
)

const upsertStateSQL = `
INSERT INTO states (
	id, tenant_id, parent_id, flow_id, flow_version_id,
	is_done, current_map_element_id, current_user_id, content,
	created_at, updated_at
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)
ON DUPLICATE KEY UPDATE
	parent_id = VALUES(parent_id),
	flow_id = VALUES(flow_id),
	flow_version_id = VALUES(flow_version_id),
	is_done = VALUES(is_done),
	current_map_element_id = VALUES(current_map_element_id),
	current_user_id = VALUES(current_user_id),
	content = VALUES(content),
	updated_at = GREATEST(updated_at, VALUES(updated_at))`

const getStateSQL = `
SELECT id, tenant_id, parent_id, flow_id, flow_version_id,
	is_done, current_map_element_id, current_user_id, content,
	created_at, updated_at
FROM states
WHERE id = ? AND tenant_id = ?`

const deleteStateSQL = `DELETE FROM states WHERE id = ? AND tenant_id = ?`

// MySQLStorage implements state.StateStore backed by a database/sql pool.
type MySQLStorage struct {
	db   *sql.DB
	caps state.Capabilities
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option configures a MySQLStorage.
type Option func(*config)

// WithDSN sets the data source name used to open the database.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets the SQL driver name. Defaults to "mysql".
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB uses an already-open database handle instead of opening one from
// the DSN.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and verifies a MySQLStorage.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{
		db: cfg.db,
		caps: state.Capabilities{
			Name:               "mysql",
			TimestampPrecision: time.Second,
		},
	}, nil
}

func (s *MySQLStorage) Capabilities() state.Capabilities { return s.caps }

// Upsert inserts or updates a single record.
func (s *MySQLStorage) Upsert(ctx context.Context, record state.StateRecord) error {
	record = s.caps.NormalizeRecord(record)
	if _, err := s.db.ExecContext(ctx, upsertStateSQL, upsertArgs(record)...); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to upsert state")
	}
	return nil
}

// UpsertBatch persists the batch in one transaction.
func (s *MySQLStorage) UpsertBatch(ctx context.Context, records []state.StateRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.WrapStoreUnavailableError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStateSQL)
	if err != nil {
		return state.WrapStoreUnavailableError(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	for _, record := range records {
		record = s.caps.NormalizeRecord(record)
		if _, err := stmt.ExecContext(ctx, upsertArgs(record)...); err != nil {
			return state.WrapStoreUnavailableError(err, "failed to upsert state batch")
		}
	}

	if err := tx.Commit(); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to commit state batch")
	}
	return nil
}

// Get returns the record for (id, tenantID) or state.ErrStateNotFound.
func (s *MySQLStorage) Get(ctx context.Context, id, tenantID uuid.UUID) (*state.StateRecord, error) {
	var (
		record                state.StateRecord
		idText, tenantText    string
		parentText            sql.NullString
		flowText, versionText string
		elementText, userText string
		content               []byte
	)
	err := s.db.QueryRowContext(ctx, getStateSQL, id.String(), tenantID.String()).Scan(
		&idText,
		&tenantText,
		&parentText,
		&flowText,
		&versionText,
		&record.IsDone,
		&elementText,
		&userText,
		&content,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrStateNotFound
	}
	if err != nil {
		return nil, state.WrapStoreUnavailableError(err, "failed to read state")
	}

	if record.ID, err = uuid.Parse(idText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid id column")
	}
	if record.TenantID, err = uuid.Parse(tenantText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid tenant_id column")
	}
	if parentText.Valid {
		if record.ParentID, err = uuid.Parse(parentText.String); err != nil {
			return nil, state.WrapStoreUnavailableError(err, "invalid parent_id column")
		}
	}
	if record.FlowID, err = uuid.Parse(flowText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid flow_id column")
	}
	if record.FlowVersionID, err = uuid.Parse(versionText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid flow_version_id column")
	}
	if record.CurrentMapElementID, err = uuid.Parse(elementText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid current_map_element_id column")
	}
	if record.CurrentUserID, err = uuid.Parse(userText); err != nil {
		return nil, state.WrapStoreUnavailableError(err, "invalid current_user_id column")
	}
	record.Content = content

	return &record, nil
}

// Delete removes the record for (id, tenantID). Deleting a record that does
// not exist is not an error.
func (s *MySQLStorage) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, deleteStateSQL, id.String(), tenantID.String()); err != nil {
		return state.WrapStoreUnavailableError(err, "failed to delete state")
	}
	return nil
}

// DB exposes the underlying handle (used by the migration runner).
func (s *MySQLStorage) DB() *sql.DB { return s.db }

// Ping reports backend connectivity.
func (s *MySQLStorage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the underlying database handle.
func (s *MySQLStorage) Close() error { return s.db.Close() }

func upsertArgs(record state.StateRecord) []any {
	var parent any
	if record.ParentID != uuid.Nil {
		parent = record.ParentID.String()
	}
	return []any{
		record.ID.String(),
		record.TenantID.String(),
		parent,
		record.FlowID.String(),
		record.FlowVersionID.String(),
		record.IsDone,
		record.CurrentMapElementID.String(),
		record.CurrentUserID.String(),
		[]byte(record.Content),
		record.CreatedAt,
		record.UpdatedAt,
	}
}
