// exchange.go sequences one state submission: unwrap the envelope, map the
// claims, enforce the tenant binding, persist.
//
// A batch is processed all-or-nothing: every envelope is fully unwrapped and
// validated before anything is written, and the resulting records are
// committed in a single transactional batch. A failure at any stage
// short-circuits the rest - no partial persistence for a rejected batch.
//
// Cryptographic, temporal and claims failures are deterministic and never
// retried here. Storage failures are surfaced to the caller, who may safely
// retry the whole submission because upsert is idempotent.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

// Exchanger orchestrates envelope submissions.
type Exchanger struct {
	keys  *KeyManager
	store StateStore

	// skew is the clock skew tolerance applied to temporal claims.
	skew time.Duration

	// now is injectable for tests.
	now func() time.Time

	logger *slog.Logger
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithClock overrides the time source used for temporal validation.
func WithClock(now func() time.Time) ExchangerOption {
	return func(e *Exchanger) {
		e.now = now
	}
}

// NewExchanger creates an Exchanger.
func NewExchanger(keys *KeyManager, store StateStore, skew time.Duration, logger *slog.Logger, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		keys:   keys,
		store:  store,
		skew:   skew,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch verifies every envelope in the batch against the routing
// tenant and, only if all of them validate, persists the records in one
// atomic batch.
func (e *Exchanger) ProcessBatch(ctx context.Context, tenantID uuid.UUID, tokens []string) error {
	if len(tokens) == 0 {
		return NewMalformedRequestError("empty submission batch")
	}

	records := make([]StateRecord, 0, len(tokens))
	for i, token := range tokens {
		record, err := e.processEnvelope(ctx, tenantID, token)
		if err != nil {
			return fmt.Errorf("envelope %d: %w", i, err)
		}
		records = append(records, *record)
	}

	if err := e.store.UpsertBatch(ctx, records); err != nil {
		return err
	}

	e.logger.Debug("batch persisted",
		slog.String("tenant", tenantID.String()),
		slog.Int("records", len(records)))

	return nil
}

// GetState reads a record scoped to the tenant.
func (e *Exchanger) GetState(ctx context.Context, id, tenantID uuid.UUID) (*StateRecord, error) {
	return e.store.Get(ctx, id, tenantID)
}

// DeleteState removes a record scoped to the tenant. This is the
// out-of-band administrative operation - verified submissions never delete.
func (e *Exchanger) DeleteState(ctx context.Context, id, tenantID uuid.UUID) error {
	return e.store.Delete(ctx, id, tenantID)
}

// processEnvelope runs the unwrap pipeline for a single envelope:
//
//	JWE header -> receiver key -> decrypt -> JWS header -> platform key ->
//	verify -> temporal validation -> tenant binding -> claims mapping
//
// The tenant binding is checked before the record is handed to the store,
// so a mismatched envelope can never produce a persistence side effect.
func (e *Exchanger) processEnvelope(ctx context.Context, tenantID uuid.UUID, token string) (*StateRecord, error) {
	jweHeader, err := crypto.ParseJWEHeader(token)
	if err != nil {
		return nil, err
	}

	receiverKey, err := e.keys.Resolve(ctx, tenantID, jweHeader.KeyID, RoleReceiver)
	if err != nil {
		return nil, err
	}

	signedToken, err := crypto.DecryptEnvelope(token, receiverKey)
	if err != nil {
		return nil, err
	}

	jwsHeader, err := crypto.ParseJWSHeader(string(signedToken))
	if err != nil {
		return nil, err
	}

	platformKey, err := e.keys.Resolve(ctx, tenantID, jwsHeader.KeyID, RolePlatform)
	if err != nil {
		return nil, err
	}

	claims, err := crypto.VerifySignedClaims(signedToken, platformKey)
	if err != nil {
		return nil, err
	}

	if err := claims.ValidateTemporal(e.now(), e.skew); err != nil {
		return nil, err
	}

	// security boundary: the tenant claim, the audience claim and the
	// routing tenant must all agree
	if claims.Tenant != claims.Audience {
		e.logger.Warn("tenant binding violation",
			slog.String("routing_tenant", tenantID.String()),
			slog.String("tenant_claim", claims.Tenant),
			slog.String("audience_claim", claims.Audience))
		return nil, NewTenantMismatchError("tenant claim does not match audience claim")
	}
	if claims.Tenant != tenantID.String() {
		e.logger.Warn("tenant binding violation",
			slog.String("routing_tenant", tenantID.String()),
			slog.String("tenant_claim", claims.Tenant))
		return nil, NewTenantMismatchError("tenant claim does not match request tenant")
	}

	return MapClaims(claims)
}
