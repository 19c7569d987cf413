package state

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

func validMapperClaims() crypto.Claims {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	return crypto.Claims{
		Issuer:            "platform.example.com",
		Audience:          "0b9f9f3e-8f62-45a8-9d12-1c2d3e4f5a6b",
		Subject:           "7c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f",
		ID:                "7c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f",
		Tenant:            "0b9f9f3e-8f62-45a8-9d12-1c2d3e4f5a6b",
		Parent:            "",
		Flow:              "1d2e3f4a-5b6c-4d7e-9f0a-1b2c3d4e5f6a",
		FlowVersion:       "2e3f4a5b-6c7d-4e8f-a01b-2c3d4e5f6a7b",
		IsDone:            false,
		CurrentMapElement: "3f4a5b6c-7d8e-4f90-b12c-3d4e5f6a7b8c",
		CurrentUser:       "4a5b6c7d-8e9f-4012-c34d-4e5f6a7b8c9d",
		CreatedAt:         now.Format(time.RFC3339Nano),
		UpdatedAt:         now.Add(time.Minute).Format(time.RFC3339Nano),
		Content:           `{"values":{"customer":"acme","total":42}}`,
	}
}

func TestMapClaims(t *testing.T) {
	claims := validMapperClaims()

	record, err := MapClaims(&claims)
	if err != nil {
		t.Fatalf("MapClaims failed: %v", err)
	}

	if record.ID != uuid.MustParse(claims.ID) {
		t.Errorf("ID = %s, want %s", record.ID, claims.ID)
	}
	if record.TenantID != uuid.MustParse(claims.Tenant) {
		t.Errorf("TenantID = %s, want %s", record.TenantID, claims.Tenant)
	}
	if record.ParentID != uuid.Nil {
		t.Errorf("ParentID = %s, want nil uuid for a root state", record.ParentID)
	}
	if record.IsDone {
		t.Error("IsDone = true, want false")
	}
	if string(record.Content) != claims.Content {
		t.Errorf("Content = %s, want %s", record.Content, claims.Content)
	}
	if got := record.CreatedAt.UTC().Format(time.RFC3339Nano); got != claims.CreatedAt {
		t.Errorf("CreatedAt = %s, want %s", got, claims.CreatedAt)
	}
}

func TestMapClaimsWithParent(t *testing.T) {
	claims := validMapperClaims()
	claims.Parent = "5b6c7d8e-9f0a-4123-d45e-5f6a7b8c9d0e"

	record, err := MapClaims(&claims)
	if err != nil {
		t.Fatalf("MapClaims failed: %v", err)
	}
	if record.ParentID != uuid.MustParse(claims.Parent) {
		t.Errorf("ParentID = %s, want %s", record.ParentID, claims.Parent)
	}
}

// The isDone claim must survive the full mapping in both directions - a done
// state stays done and an in-flight state stays in flight.
func TestMapClaimsIsDoneRoundTrip(t *testing.T) {
	for _, isDone := range []bool{true, false} {
		claims := validMapperClaims()
		claims.IsDone = isDone

		record, err := MapClaims(&claims)
		if err != nil {
			t.Fatalf("MapClaims failed: %v", err)
		}
		if record.IsDone != isDone {
			t.Errorf("IsDone = %v, want %v", record.IsDone, isDone)
		}
	}
}

func TestMapClaimsRejectsInvalidClaims(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*crypto.Claims)
	}{
		{"nil-equivalent id", func(c *crypto.Claims) { c.ID = "" }},
		{"malformed id", func(c *crypto.Claims) { c.ID = "not-a-uuid" }},
		{"missing tenant", func(c *crypto.Claims) { c.Tenant = "" }},
		{"malformed tenant", func(c *crypto.Claims) { c.Tenant = "42" }},
		{"sub does not match id", func(c *crypto.Claims) { c.Subject = "9e8d7c6b-5a49-4382-b716-0594a3b2c1d0" }},
		{"malformed parent", func(c *crypto.Claims) { c.Parent = "xyz" }},
		{"missing flow", func(c *crypto.Claims) { c.Flow = "" }},
		{"missing flowVersion", func(c *crypto.Claims) { c.FlowVersion = "" }},
		{"missing currentMapElement", func(c *crypto.Claims) { c.CurrentMapElement = "" }},
		{"missing currentUser", func(c *crypto.Claims) { c.CurrentUser = "" }},
		{"missing createdAt", func(c *crypto.Claims) { c.CreatedAt = "" }},
		{"malformed createdAt", func(c *crypto.Claims) { c.CreatedAt = "28/08/2026" }},
		{"malformed updatedAt", func(c *crypto.Claims) { c.UpdatedAt = "yesterday" }},
		{"missing content", func(c *crypto.Claims) { c.Content = "" }},
		{"content not JSON", func(c *crypto.Claims) { c.Content = "{unclosed" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validMapperClaims()
			tt.mutate(&claims)

			_, err := MapClaims(&claims)
			if err == nil {
				t.Fatal("MapClaims accepted invalid claims")
			}

			var stateErr *StateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("expected StateError, got %T", err)
			}
			if stateErr.Code() != ErrCodeClaimsMalformed {
				t.Errorf("error code = %q, want %q", stateErr.Code(), ErrCodeClaimsMalformed)
			}
		})
	}
}

// sub is optional: envelopes from senders that omit the registered subject
// claim still map.
func TestMapClaimsAllowsMissingSubject(t *testing.T) {
	claims := validMapperClaims()
	claims.Subject = ""

	if _, err := MapClaims(&claims); err != nil {
		t.Errorf("MapClaims rejected claims without sub: %v", err)
	}
}
