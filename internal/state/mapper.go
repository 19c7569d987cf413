package state

// mapper.go converts an authenticated claim set into a typed StateRecord.
//
// The claim bag is untyped key/value data; everything flows through this
// single validating constructor, which fails atomically on any missing or
// malformed field so no partially-populated record escapes downstream.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

// MapClaims validates and converts verified claims into a StateRecord.
//
// Structural rules:
//   - id, tenant, flow, flowVersion, currentMapElement and currentUser must
//     be well-formed UUIDs; parent is optional (root states have no parent)
//   - createdAt and updatedAt must be RFC 3339 timestamps
//   - content must be a valid JSON document
//   - when the registered sub claim is present it must match id
//
// Tenant binding (tenant == aud == routing tenant) is a security check and
// is enforced by the orchestrator before mapping.
func MapClaims(claims *crypto.Claims) (*StateRecord, error) {
	if claims == nil {
		return nil, NewClaimsMalformedError("claims are required")
	}

	id, err := parseRequiredUUID("id", claims.ID)
	if err != nil {
		return nil, err
	}

	tenantID, err := parseRequiredUUID("tenant", claims.Tenant)
	if err != nil {
		return nil, err
	}

	if claims.Subject != "" && claims.Subject != claims.ID {
		return nil, NewClaimsMalformedError(fmt.Sprintf("sub claim %q does not match id claim %q", claims.Subject, claims.ID))
	}

	parentID, err := parseOptionalUUID("parent", claims.Parent)
	if err != nil {
		return nil, err
	}

	flowID, err := parseRequiredUUID("flow", claims.Flow)
	if err != nil {
		return nil, err
	}

	flowVersionID, err := parseRequiredUUID("flowVersion", claims.FlowVersion)
	if err != nil {
		return nil, err
	}

	currentMapElementID, err := parseRequiredUUID("currentMapElement", claims.CurrentMapElement)
	if err != nil {
		return nil, err
	}

	currentUserID, err := parseRequiredUUID("currentUser", claims.CurrentUser)
	if err != nil {
		return nil, err
	}

	createdAt, err := parseRequiredTime("createdAt", claims.CreatedAt)
	if err != nil {
		return nil, err
	}

	updatedAt, err := parseRequiredTime("updatedAt", claims.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if claims.Content == "" {
		return nil, NewClaimsMalformedError("missing required claim: content")
	}
	if !json.Valid([]byte(claims.Content)) {
		return nil, NewClaimsMalformedError("content claim is not valid JSON")
	}

	return &StateRecord{
		ID:                  id,
		TenantID:            tenantID,
		ParentID:            parentID,
		FlowID:              flowID,
		FlowVersionID:       flowVersionID,
		CurrentMapElementID: currentMapElementID,
		CurrentUserID:       currentUserID,
		IsDone:              claims.IsDone,
		Content:             json.RawMessage(claims.Content),
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func parseRequiredUUID(claim, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, NewClaimsMalformedError(fmt.Sprintf("missing required claim: %s", claim))
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, WrapClaimsMalformedError(err, fmt.Sprintf("claim %s is not a valid UUID", claim))
	}
	return id, nil
}

func parseOptionalUUID(claim, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, WrapClaimsMalformedError(err, fmt.Sprintf("claim %s is not a valid UUID", claim))
	}
	return id, nil
}

func parseRequiredTime(claim, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, NewClaimsMalformedError(fmt.Sprintf("missing required claim: %s", claim))
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, WrapClaimsMalformedError(err, fmt.Sprintf("claim %s is not a valid RFC 3339 timestamp", claim))
	}
	return t, nil
}
