package crypto

import "fmt"

// Error represents a structured error from the crypto package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeValidation: malformed, undecryptable or otherwise invalid envelopes,
	// including algorithm identifiers outside the allow-list.
	ErrCodeValidation ErrorCode = "validation"

	// ErrCodeInvalidSignature: the inner JWS failed verification.
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"

	// ErrCodeTokenExpired: the envelope's exp claim is in the past.
	ErrCodeTokenExpired ErrorCode = "token_expired"

	// ErrCodeTokenNotYetValid: the envelope's nbf claim is in the future.
	ErrCodeTokenNotYetValid ErrorCode = "token_not_yet_valid"

	// ErrCodeConstruction: wrap (sign+encrypt) failed; there is no partial envelope.
	ErrCodeConstruction ErrorCode = "envelope_construction"

	ErrCodeKeyManagement ErrorCode = "key_management"
	ErrCodeInternal      ErrorCode = "internal"
)

// CryptoError represents a structured error from the crypto package
type CryptoError struct {

	// code is the crypto error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *CryptoError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *CryptoError) Code() ErrorCode { return e.code }
func (e *CryptoError) Unwrap() error   { return e.wrapped }

// NewValidationError creates a validation error for invalid envelopes.
// Use this for errors related to missing required fields, bad format,
// bad encoding, or algorithm identifiers outside the allow-list.
//
// The returned error will have code ErrCodeValidation.
func NewValidationError(msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg}
}

// WrapValidationError wraps an existing error as a validation error.
//
// The returned error will have code ErrCodeValidation.
func WrapValidationError(err error, msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg, wrapped: err}
}

// NewSignatureError creates a signature verification error.
//
// The returned error will have code ErrCodeInvalidSignature.
func NewSignatureError(msg string) error {
	return &CryptoError{code: ErrCodeInvalidSignature, message: msg}
}

// WrapSignatureError wraps an existing error as a signature verification error.
//
// The returned error will have code ErrCodeInvalidSignature.
func WrapSignatureError(err error, msg string) error {
	return &CryptoError{code: ErrCodeInvalidSignature, message: msg, wrapped: err}
}

// NewTokenExpiredError creates a temporal validity error for expired envelopes.
//
// The returned error will have code ErrCodeTokenExpired.
func NewTokenExpiredError(msg string) error {
	return &CryptoError{code: ErrCodeTokenExpired, message: msg}
}

// NewTokenNotYetValidError creates a temporal validity error for envelopes
// presented before their nbf claim.
//
// The returned error will have code ErrCodeTokenNotYetValid.
func NewTokenNotYetValidError(msg string) error {
	return &CryptoError{code: ErrCodeTokenNotYetValid, message: msg}
}

// NewConstructionError creates an envelope construction error.
// Use this when any stage of wrap (sign or encrypt) fails.
//
// The returned error will have code ErrCodeConstruction.
func NewConstructionError(msg string) error {
	return &CryptoError{code: ErrCodeConstruction, message: msg}
}

// WrapConstructionError wraps an existing error as an envelope construction error.
//
// The returned error will have code ErrCodeConstruction.
func WrapConstructionError(err error, msg string) error {
	return &CryptoError{code: ErrCodeConstruction, message: msg, wrapped: err}
}

// NewKeyError creates a key management error.
// Use this for errors related to key loading, key not found or
// unusable key material.
//
// The returned error will have code ErrCodeKeyManagement.
func NewKeyError(msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg}
}

// WrapKeyError wraps an existing error as a key management error.
//
// The returned error will have code ErrCodeKeyManagement.
func WrapKeyError(err error, msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg, wrapped: err}
}

// NewInternalError creates an internal error for unexpected failures.
//
// The returned error will have code ErrCodeInternal.
func NewInternalError(msg string) error {
	return &CryptoError{code: ErrCodeInternal, message: msg}
}
