// Package errors provides structured error handling for the forum services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeMalformedInput Code = "MALFORMED_INPUT"

	// User errors
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUserInvalidEmail    Code = "USER_INVALID_EMAIL"
	CodeUsernameTaken       Code = "USERNAME_TAKEN"

	// Ceremony errors
	CodeChallengeExpired          Code = "CHALLENGE_EXPIRED_OR_UNKNOWN"
	CodeCredentialNotFound        Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialAlreadyExists   Code = "CREDENTIAL_ALREADY_REGISTERED"
	CodeVerificationFailed        Code = "CRYPTOGRAPHIC_VERIFICATION_FAILED"
	CodeRegistrationDisabled      Code = "REGISTRATION_DISABLED"
	CodeCeremonyKindMismatch      Code = "CEREMONY_KIND_MISMATCH"

	// Session errors
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeForbidden      Code = "FORBIDDEN"

	// Grant errors
	CodeGrantInvalid Code = "GRANT_INVALID"
	CodeGrantExpired Code = "GRANT_EXPIRED"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed ceremony payloads
	case CodeMalformedInput,
		CodeUserEmptyUsername,
		CodeUserInvalidUsername,
		CodeUserInvalidEmail,
		CodeCeremonyKindMismatch:
		return http.StatusBadRequest

	// Gone/retryable - the client should restart the ceremony
	case CodeChallengeExpired,
		CodeGrantExpired:
		return http.StatusGone

	// Unauthorized - failed or missing proof of identity
	case CodeVerificationFailed,
		CodeSessionInvalid,
		CodeGrantInvalid:
		return http.StatusUnauthorized

	// Forbidden - authenticated but not permitted
	case CodeForbidden,
		CodeRegistrationDisabled:
		return http.StatusForbidden

	case CodeNotFound,
		CodeCredentialNotFound:
		return http.StatusNotFound

	case CodeUsernameTaken,
		CodeCredentialAlreadyExists:
		return http.StatusConflict

	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
