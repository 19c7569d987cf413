package handlers

// states.go implements the state-exchange endpoints:
//
//	POST   /states/{tenantId}            submit a batch of state envelopes
//	GET    /states/{tenantId}/{stateId}  read a stored state record
//	DELETE /states/{tenantId}/{stateId}  remove a stored state record

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flow-state-networks/state-exchange/app/internal/logger"
	"github.com/flow-state-networks/state-exchange/app/internal/state"
)

// StatesHandler handles the /states endpoints.
type StatesHandler struct {
	exchanger *state.Exchanger
}

// NewStatesHandler creates a handler backed by the given exchanger.
func NewStatesHandler(exchanger *state.Exchanger) *StatesHandler {
	return &StatesHandler{exchanger: exchanger}
}

// HandleSubmit godoc
//
//	@Summary		Submit state envelopes
//	@Description	Use this endpoint to submit a batch of signed-then-encrypted state
//	@Description	envelopes for the tenant in the path.
//	@Description
//	@Description	Each element of the request array carries one compact JWE envelope whose
//	@Description	decrypted payload is a JWS signed by the sending platform. Envelopes are
//	@Description	decrypted, signature-verified and checked against the path tenant before
//	@Description	anything is stored. The batch is atomic: if any envelope fails, nothing
//	@Description	is persisted.
//	@Description
//	@Description	Submissions are idempotent - resubmitting an envelope updates the stored
//	@Description	record in place and never creates a duplicate.
//
//	@Tags			States
//
//	@Param			tenantId	path	string				true	"Tenant ID (UUID)"
//	@Param			request		body	[]state.StateRequest	true	"Batch of state envelopes"
//
//	@Success		204	"States stored"
//	@Failure		400	{object}	state.ErrorResponse	"Malformed request or invalid envelope"
//	@Failure		401	{object}	state.ErrorResponse	"Envelope outside its validity window"
//	@Failure		403	{object}	state.ErrorResponse	"Tenant binding violation"
//	@Failure		422	{object}	state.ErrorResponse	"Claims structurally invalid"
//	@Failure		503	{object}	state.ErrorResponse	"Storage unavailable"
//
//	@Router			/states/{tenantId} [post]
func (h *StatesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)

	tenantID, err := tenantIDFromRequest(r)
	if err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	var requests []state.StateRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		reqLogger.Warn("Failed to decode submission batch", slog.String("error", err.Error()))
		state.RespondWithErrorResponse(w, r, state.WrapMalformedRequestError(err, "failed to decode request JSON"))
		return
	}
	defer r.Body.Close()

	tokens := make([]string, 0, len(requests))
	for i, request := range requests {
		if request.Token == "" {
			state.RespondWithErrorResponse(w, r, state.NewMalformedRequestError(
				fmt.Sprintf("envelope %d: token is required", i)))
			return
		}
		tokens = append(tokens, request.Token)
	}

	if err := h.exchanger.ProcessBatch(ctx, tenantID, tokens); err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	reqLogger.Info("state batch accepted",
		slog.String("tenant", tenantID.String()),
		slog.Int("envelopes", len(tokens)),
	)

	state.RespondWithStatusCodeOnly(w, http.StatusNoContent)
}

// HandleGet godoc
//
//	@Summary		Get a state record
//	@Description	Returns the stored state record for the tenant and state id in the path.
//	@Tags			States
//
//	@Param			tenantId	path	string	true	"Tenant ID (UUID)"
//	@Param			stateId		path	string	true	"State ID (UUID)"
//
//	@Success		200	{object}	state.StateRecord	"State record"
//	@Failure		400	{object}	state.ErrorResponse	"Malformed identifiers"
//	@Failure		404	{object}	state.ErrorResponse	"No record for (stateId, tenantId)"
//	@Failure		503	{object}	state.ErrorResponse	"Storage unavailable"
//
//	@Router			/states/{tenantId}/{stateId} [get]
func (h *StatesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, stateID, err := recordIDsFromRequest(r)
	if err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	record, err := h.exchanger.GetState(r.Context(), stateID, tenantID)
	if errors.Is(err, state.ErrStateNotFound) {
		state.RespondWithErrorResponse(w, r, state.NewNotFoundError(
			fmt.Sprintf("no state %s for tenant %s", stateID, tenantID)))
		return
	}
	if err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	state.RespondWithJSONPayload(w, http.StatusOK, record)
}

// HandleDelete godoc
//
//	@Summary		Delete a state record
//	@Description	Removes the stored state record for the tenant and state id in the path.
//	@Description	This is an out-of-band administrative operation - verified submissions
//	@Description	never delete records. Deleting a record that does not exist succeeds.
//	@Tags			States
//
//	@Param			tenantId	path	string	true	"Tenant ID (UUID)"
//	@Param			stateId		path	string	true	"State ID (UUID)"
//
//	@Success		204	"State removed (or was already absent)"
//	@Failure		400	{object}	state.ErrorResponse	"Malformed identifiers"
//	@Failure		503	{object}	state.ErrorResponse	"Storage unavailable"
//
//	@Router			/states/{tenantId}/{stateId} [delete]
func (h *StatesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, stateID, err := recordIDsFromRequest(r)
	if err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	if err := h.exchanger.DeleteState(r.Context(), stateID, tenantID); err != nil {
		state.RespondWithErrorResponse(w, r, err)
		return
	}

	state.RespondWithStatusCodeOnly(w, http.StatusNoContent)
}

func tenantIDFromRequest(r *http.Request) (uuid.UUID, error) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantId"))
	if err != nil {
		return uuid.Nil, state.NewMalformedRequestError("tenantId must be a UUID")
	}
	return tenantID, nil
}

func recordIDsFromRequest(r *http.Request) (tenantID, stateID uuid.UUID, err error) {
	tenantID, err = tenantIDFromRequest(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	stateID, err = uuid.Parse(chi.URLParam(r, "stateId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, state.NewMalformedRequestError("stateId must be a UUID")
	}
	return tenantID, stateID, nil
}
