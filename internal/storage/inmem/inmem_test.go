package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/state"
)

func testRecord(id, tenantID uuid.UUID) state.StateRecord {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	return state.StateRecord{
		ID:                  id,
		TenantID:            tenantID,
		FlowID:              uuid.New(),
		FlowVersionID:       uuid.New(),
		CurrentMapElementID: uuid.New(),
		CurrentUserID:       uuid.New(),
		Content:             json.RawMessage(`{"values":{}}`),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, tenantID := uuid.New(), uuid.New()
	record := testRecord(id, tenantID)

	if err := s.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, id, tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != id || got.TenantID != tenantID {
		t.Errorf("got record (%s, %s), want (%s, %s)", got.ID, got.TenantID, id, tenantID)
	}

	// update in place
	update := record
	update.IsDone = true
	update.UpdatedAt = record.UpdatedAt.Add(time.Minute)
	if err := s.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert (update) failed: %v", err)
	}

	got, err = s.Get(ctx, id, tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsDone {
		t.Error("IsDone not updated")
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Errorf("CreatedAt mutated on update: %s -> %s", record.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(update.UpdatedAt) {
		t.Errorf("UpdatedAt = %s, want %s", got.UpdatedAt, update.UpdatedAt)
	}
}

func TestUpsertNeverRegressesUpdatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, tenantID := uuid.New(), uuid.New()
	record := testRecord(id, tenantID)

	if err := s.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stale := record
	stale.UpdatedAt = record.UpdatedAt.Add(-time.Hour)
	if err := s.Upsert(ctx, stale); err != nil {
		t.Fatalf("Upsert (stale) failed: %v", err)
	}

	got, err := s.Get(ctx, id, tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UpdatedAt.Before(record.UpdatedAt) {
		t.Errorf("UpdatedAt regressed: %s -> %s", record.UpdatedAt, got.UpdatedAt)
	}
}

func TestUpsertIgnoresSubmittedCreatedAtOnUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, tenantID := uuid.New(), uuid.New()
	record := testRecord(id, tenantID)

	if err := s.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	update := record
	update.CreatedAt = record.CreatedAt.Add(time.Hour)
	update.UpdatedAt = record.UpdatedAt.Add(time.Hour)
	if err := s.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert (update) failed: %v", err)
	}

	got, err := s.Get(ctx, id, tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Errorf("CreatedAt = %s, want original %s", got.CreatedAt, record.CreatedAt)
	}
}

func TestGetIsTenantScoped(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := uuid.New()
	tenantA, tenantB := uuid.New(), uuid.New()

	if err := s.Upsert(ctx, testRecord(id, tenantA)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := s.Get(ctx, id, tenantB); !errors.Is(err, state.ErrStateNotFound) {
		t.Errorf("Get leaked a record across tenants (err = %v)", err)
	}
}

func TestSameStateIDUnderTwoTenants(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := uuid.New()
	tenantA, tenantB := uuid.New(), uuid.New()

	recordA := testRecord(id, tenantA)
	recordB := testRecord(id, tenantB)
	recordB.IsDone = true

	if err := s.UpsertBatch(ctx, []state.StateRecord{recordA, recordB}); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	gotA, err := s.Get(ctx, id, tenantA)
	if err != nil {
		t.Fatalf("Get(tenantA) failed: %v", err)
	}
	gotB, err := s.Get(ctx, id, tenantB)
	if err != nil {
		t.Fatalf("Get(tenantB) failed: %v", err)
	}
	if gotA.IsDone || !gotB.IsDone {
		t.Error("records with the same id under different tenants were conflated")
	}
}

func TestDeleteIsTenantScopedAndIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := uuid.New()
	tenantA, tenantB := uuid.New(), uuid.New()

	if err := s.Upsert(ctx, testRecord(id, tenantA)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// deleting under the wrong tenant leaves the record alone
	if err := s.Delete(ctx, id, tenantB); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, id, tenantA); err != nil {
		t.Fatalf("record disappeared after cross-tenant delete: %v", err)
	}

	if err := s.Delete(ctx, id, tenantA); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, id, tenantA); !errors.Is(err, state.ErrStateNotFound) {
		t.Errorf("record still present after delete (err = %v)", err)
	}

	// deleting an absent record is not an error
	if err := s.Delete(ctx, id, tenantA); err != nil {
		t.Errorf("Delete of absent record failed: %v", err)
	}
}

func TestCapabilitiesNormalizeTimestamps(t *testing.T) {
	s := NewWithCapabilities(state.Capabilities{
		Name:               "mysql",
		TimestampPrecision: time.Second,
	})
	ctx := context.Background()

	id, tenantID := uuid.New(), uuid.New()
	record := testRecord(id, tenantID)
	record.CreatedAt = record.CreatedAt.Add(123456789 * time.Nanosecond)
	record.UpdatedAt = record.CreatedAt

	if err := s.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, id, tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CreatedAt.Nanosecond() != 0 {
		t.Errorf("CreatedAt not truncated to whole seconds: %s", got.CreatedAt)
	}
	if !got.CreatedAt.Equal(record.CreatedAt.Truncate(time.Second)) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, record.CreatedAt.Truncate(time.Second))
	}
}
