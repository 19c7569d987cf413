package state

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StateRecord is the durable unit of the exchange: one row in the states
// table, uniquely identified by (ID, TenantID).
//
// ParentID, FlowID, FlowVersionID, CurrentMapElementID and CurrentUserID
// reference entities owned elsewhere - no referential integrity is enforced
// locally.
type StateRecord struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenantId"`

	ParentID            uuid.UUID `json:"parentId"`
	FlowID              uuid.UUID `json:"flowId"`
	FlowVersionID       uuid.UUID `json:"flowVersionId"`
	CurrentMapElementID uuid.UUID `json:"currentMapElementId"`
	CurrentUserID       uuid.UUID `json:"currentUserId"`

	// IsDone marks the referenced workflow execution as complete.
	IsDone bool `json:"isDone"`

	// Content is the opaque state payload. It is stored verbatim and never
	// interpreted by the pipeline; backends may normalize JSON formatting,
	// so equality is semantic (RFC 8785), not byte-for-byte.
	Content json.RawMessage `json:"content"`

	// CreatedAt is set at first successful persistence and never mutated.
	// UpdatedAt reflects the latest accepted submission.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateRequest is one element of the submission batch: a compact security
// envelope as produced by crypto.WrapState.
type StateRequest struct {
	Token string `json:"token"`
}
