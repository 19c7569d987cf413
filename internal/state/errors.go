package state

// errors.go defines the error codes used by the state-exchange API

import "fmt"

// StateError represents a structured error from the state package.
type StateError struct {
	// code is the state-exchange error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *StateError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *StateError) Code() ErrorCode { return e.code }
func (e *StateError) Unwrap() error   { return e.wrapped }

// ErrorCode is used in errors returned by the state-exchange API.
type ErrorCode string

const (
	// ErrCodeMalformedRequest: the request body could not be parsed
	// (invalid JSON, empty batch, missing token field).
	ErrCodeMalformedRequest ErrorCode = "malformed_request"

	// ErrCodeEnvelopeInvalid: the envelope could not be decrypted or its
	// signature could not be verified. Deterministic - never retried.
	ErrCodeEnvelopeInvalid ErrorCode = "envelope_invalid"

	// ErrCodeTokenExpired / ErrCodeTokenNotYetValid: temporal validity
	// violations - the client must resubmit with a fresh envelope.
	ErrCodeTokenExpired     ErrorCode = "token_expired"
	ErrCodeTokenNotYetValid ErrorCode = "token_not_yet_valid"

	// ErrCodeTenantMismatch: the tenant claim does not match the audience
	// claim or the tenant asserted by the request path. This is a security
	// boundary violation and is logged distinctly.
	ErrCodeTenantMismatch ErrorCode = "tenant_mismatch"

	// ErrCodeClaimsMalformed: the authenticated claim set is structurally
	// defective (missing or uncoercible fields).
	ErrCodeClaimsMalformed ErrorCode = "claims_malformed"

	// ErrCodeKeyNotFound: the resolver cannot locate the required key
	// material - a provisioning problem, surfaced distinctly from
	// cryptographic failure.
	ErrCodeKeyNotFound ErrorCode = "key_not_found"

	// ErrCodeStoreUnavailable: transient storage failure. Safe for the
	// caller to retry the whole submission since upsert is idempotent.
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"

	// ErrCodeNotFound is used for reads of records that do not exist.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeRateLimitExceeded / ErrCodeRequestTooLarge are only used by
	// the middleware.
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrCodeRequestTooLarge   ErrorCode = "request_too_large"

	// ErrCodeInternalError is used when an unexpected server error occurs.
	ErrCodeInternalError ErrorCode = "internal_error"
)

// NewMalformedRequestError creates an error for malformed requests.
func NewMalformedRequestError(msg string) error {
	return &StateError{code: ErrCodeMalformedRequest, message: msg}
}

// WrapMalformedRequestError wraps an existing error as a malformed request error.
func WrapMalformedRequestError(err error, msg string) error {
	return &StateError{code: ErrCodeMalformedRequest, message: msg, wrapped: err}
}

// NewEnvelopeInvalidError creates an error for envelopes that fail
// decryption or signature verification.
func NewEnvelopeInvalidError(msg string) error {
	return &StateError{code: ErrCodeEnvelopeInvalid, message: msg}
}

// WrapEnvelopeInvalidError wraps an existing error as an invalid envelope error.
func WrapEnvelopeInvalidError(err error, msg string) error {
	return &StateError{code: ErrCodeEnvelopeInvalid, message: msg, wrapped: err}
}

// NewTenantMismatchError creates a tenant binding violation error.
// This indicates a security boundary violation, not a data quality problem.
func NewTenantMismatchError(msg string) error {
	return &StateError{code: ErrCodeTenantMismatch, message: msg}
}

// NewClaimsMalformedError creates an error for structurally defective claim sets.
func NewClaimsMalformedError(msg string) error {
	return &StateError{code: ErrCodeClaimsMalformed, message: msg}
}

// WrapClaimsMalformedError wraps an existing error as a claims malformed error.
func WrapClaimsMalformedError(err error, msg string) error {
	return &StateError{code: ErrCodeClaimsMalformed, message: msg, wrapped: err}
}

// NewKeyNotFoundError creates an error for unresolvable key material.
func NewKeyNotFoundError(msg string) error {
	return &StateError{code: ErrCodeKeyNotFound, message: msg}
}

// WrapKeyNotFoundError wraps an existing error as a key not found error.
func WrapKeyNotFoundError(err error, msg string) error {
	return &StateError{code: ErrCodeKeyNotFound, message: msg, wrapped: err}
}

// NewStoreUnavailableError creates an error for transient storage failures.
func NewStoreUnavailableError(msg string) error {
	return &StateError{code: ErrCodeStoreUnavailable, message: msg}
}

// WrapStoreUnavailableError wraps an existing error as a store unavailable error.
func WrapStoreUnavailableError(err error, msg string) error {
	return &StateError{code: ErrCodeStoreUnavailable, message: msg, wrapped: err}
}

// NewNotFoundError creates an error for reads of records that do not exist.
func NewNotFoundError(msg string) error {
	return &StateError{code: ErrCodeNotFound, message: msg}
}

// NewRateLimitError creates a rate limit exceeded error.
func NewRateLimitError(msg string) error {
	return &StateError{code: ErrCodeRateLimitExceeded, message: msg}
}

// NewRequestTooLargeError creates a request too large error.
func NewRequestTooLargeError(msg string) error {
	return &StateError{code: ErrCodeRequestTooLarge, message: msg}
}

// NewInternalError creates an internal error for unexpected failures.
func NewInternalError(msg string) error {
	return &StateError{code: ErrCodeInternalError, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
func WrapInternalError(err error, msg string) error {
	return &StateError{code: ErrCodeInternalError, message: msg, wrapped: err}
}
