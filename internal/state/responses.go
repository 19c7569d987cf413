package state

// responses.go provides helper functions for sending HTTP responses from the
// state-exchange API handlers.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flow-state-networks/state-exchange/app/internal/logger"
)

// RespondWithErrorResponse sends a structured error response as a JSON payload.
//
// It logs the full error details server-side and sends a sanitized response
// to the client. Tenant mismatches are logged at error level so security
// boundary violations stand out from ordinary validation noise.
func RespondWithErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse := MapErrorToResponse(err, r)

	reqLogger := logger.ContextRequestLogger(r.Context())

	logFn := reqLogger.Warn
	if errorResponse.ErrorCode == ErrCodeTenantMismatch {
		logFn = reqLogger.Error
	}

	logFn("request failed",
		slog.String("error", err.Error()),
		slog.Int("status_code", errorResponse.StatusCode),
		slog.String("error_code", string(errorResponse.ErrorCode)),
		slog.String("request_id", errorResponse.RequestID),
	)

	RespondWithJSONPayload(w, errorResponse.StatusCode, errorResponse)
}

// RespondWithJSONPayload sends a JSON response with the given status code
func RespondWithJSONPayload(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			// If encoding fails, log it but don't try to send another response
			// (headers are already written)
			slog.Error("failed to encode JSON response",
				slog.String("error", err.Error()),
			)
		}
	}
}

// RespondWithStatusCodeOnly sends a response with only a status code (no body)
func RespondWithStatusCodeOnly(w http.ResponseWriter, statusCode int) {
	w.WriteHeader(statusCode)
}
