package state

// error_response.go maps lower level errors to the structured error payload
// returned to clients. The error code text is sanitized for the response;
// the full error message is logged server-side.

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
	"github.com/flow-state-networks/state-exchange/app/internal/logger"
)

// ErrorResponse is the error payload returned to clients.
type ErrorResponse struct {

	// The HTTP method used to make the request e.g. GET, POST, etc
	HTTPMethod string `json:"httpMethod"`

	// The URI that was requested
	RequestURI string `json:"requestUri"`

	// The HTTP status code returned
	StatusCode int `json:"statusCode"`

	// A standard short description corresponding to the HTTP status code
	StatusCodeText string `json:"statusCodeText"`

	// The state-exchange error code (stable, machine readable)
	ErrorCode ErrorCode `json:"errorCode"`

	// A sanitized description of the failure
	Message string `json:"message"`

	// A unique identifier for the HTTP request
	RequestID string `json:"requestId,omitempty"`

	// The DateTime corresponding to the error occurring
	ErrorDateTime string `json:"errorDateTime"`
}

// MapErrorToResponse maps state.StateError, crypto.CryptoError or generic
// errors to an ErrorResponse, establishing the HTTP status for the failure
// class:
//
//	malformed request            -> 400
//	envelope/crypto failure      -> 400
//	temporal validity failure    -> 401
//	tenant binding failure       -> 403
//	claims structurally invalid  -> 422
//	key material not found       -> 400
//	record not found             -> 404
//	storage unavailable          -> 503
func MapErrorToResponse(err error, r *http.Request) *ErrorResponse {
	requestID := middleware.GetReqID(r.Context())

	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return errorResponse(stateErr.Code(), err, r, requestID)
	}

	var cryptoErr *crypto.CryptoError
	if errors.As(err, &cryptoErr) {
		return errorResponse(codeFromCrypto(cryptoErr.Code()), err, r, requestID)
	}

	// fallback - this is not expected; return an internal error response
	// and log the unmapped error
	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error("BUG: unmapped error type in MapErrorToResponse",
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID),
	)
	return errorResponse(ErrCodeInternalError, err, r, requestID)
}

// codeFromCrypto translates crypto package error codes into API error codes.
func codeFromCrypto(code crypto.ErrorCode) ErrorCode {
	switch code {
	case crypto.ErrCodeValidation, crypto.ErrCodeInvalidSignature:
		return ErrCodeEnvelopeInvalid
	case crypto.ErrCodeTokenExpired:
		return ErrCodeTokenExpired
	case crypto.ErrCodeTokenNotYetValid:
		return ErrCodeTokenNotYetValid
	case crypto.ErrCodeKeyManagement:
		return ErrCodeKeyNotFound
	default:
		return ErrCodeInternalError
	}
}

// statusForCode maps an API error code to its HTTP status and sanitized text.
func statusForCode(code ErrorCode) (int, string) {
	switch code {
	case ErrCodeMalformedRequest:
		return http.StatusBadRequest, "Malformed request"
	case ErrCodeEnvelopeInvalid:
		return http.StatusBadRequest, "Invalid envelope"
	case ErrCodeTokenExpired:
		return http.StatusUnauthorized, "Token expired"
	case ErrCodeTokenNotYetValid:
		return http.StatusUnauthorized, "Token not yet valid"
	case ErrCodeTenantMismatch:
		return http.StatusForbidden, "Tenant mismatch"
	case ErrCodeClaimsMalformed:
		return http.StatusUnprocessableEntity, "Malformed claims"
	case ErrCodeKeyNotFound:
		return http.StatusBadRequest, "Key material not found"
	case ErrCodeNotFound:
		return http.StatusNotFound, "Not found"
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable, "Storage unavailable"
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case ErrCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge, "Request too large"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func errorResponse(code ErrorCode, err error, r *http.Request, requestID string) *ErrorResponse {
	statusCode, text := statusForCode(code)

	message := text
	// internal errors keep their detail server-side only
	if code != ErrCodeInternalError {
		message = err.Error()
	}

	return &ErrorResponse{
		HTTPMethod:     r.Method,
		RequestURI:     r.RequestURI,
		StatusCode:     statusCode,
		StatusCodeText: http.StatusText(statusCode),
		ErrorCode:      code,
		Message:        message,
		RequestID:      requestID,
		ErrorDateTime:  time.Now().UTC().Format(time.RFC3339),
	}
}
