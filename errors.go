package session

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes let API consumers react to specific auth failures without
// string matching on messages.
const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeDuplicateAccount   = "DUPLICATE_ACCOUNT"
	TextCodeWeakCredential     = "WEAK_CREDENTIAL"
	TextCodeValidationFailure  = "VALIDATION_FAILURE"
	TextCodeTokenMissing       = "TOKEN_MISSING"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenRevoked       = "TOKEN_REVOKED"
	TextCodeReuseDetected      = "TOKEN_REUSE_DETECTED"
	TextCodeNetworkFailure     = "NETWORK_FAILURE"
	TextCodeDecodingFailure    = "DECODING_FAILURE"
	TextCodeServerFault        = "SERVER_FAULT"
)

// ErrInvalidCredentials is returned when an identifier/password pair does not
// resolve to an identity. The message is intentionally symmetric so callers
// cannot tell a missing account from a bad password.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateAccount is returned when registering an email that already has an account.
var ErrDuplicateAccount = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateAccount).
	WithCode(goerrors.CodeConflict)

// ErrWeakCredential is returned when a password fails the minimum strength policy.
var ErrWeakCredential = goerrors.New("password does not meet the minimum requirements", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakCredential)

// ErrTokenMissing is returned when a protected request carries no bearer token.
var ErrTokenMissing = goerrors.New("missing authorization token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be parsed at all.
var ErrTokenMalformed = goerrors.New("malformed authorization token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid is returned when a token parses but its signature does not verify.
var ErrTokenInvalid = goerrors.New("invalid authorization token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is syntactically valid and correctly
// signed but past its expiry. There is no grace window.
var ErrTokenExpired = goerrors.New("authorization token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRevoked is returned when a refresh token was explicitly revoked.
var ErrTokenRevoked = goerrors.New("refresh token revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenNotFound is returned when a refresh token has no backing record.
var ErrTokenNotFound = goerrors.New("refresh token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrReuseDetected is returned when an already consumed refresh token is
// presented again. Treated as a theft signal: the owner's tokens are all
// revoked before this error surfaces.
var ErrReuseDetected = goerrors.New("refresh token reuse detected", goerrors.CategoryAuth).
	WithTextCode(TextCodeReuseDetected).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetworkFailure wraps client-side transport errors.
var ErrNetworkFailure = goerrors.New("network request failed", goerrors.CategoryExternal).
	WithTextCode(TextCodeNetworkFailure)

// ErrDecodingFailure wraps client-side response decoding errors.
var ErrDecodingFailure = goerrors.New("unable to decode server response", goerrors.CategoryInternal).
	WithTextCode(TextCodeDecodingFailure)

// ErrServerFault is the catch-all for non-2xx responses with no better mapping.
var ErrServerFault = goerrors.New("server error", goerrors.CategoryInternal).
	WithTextCode(TextCodeServerFault)

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenExpired reports whether err represents an expired access token.
func IsTokenExpired(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsTokenMalformed reports whether err represents an unparseable token.
func IsTokenMalformed(err error) bool {
	return hasTextCode(err, TextCodeTokenMalformed)
}

// IsWeakCredential reports whether err represents a password failing the
// minimum strength policy.
func IsWeakCredential(err error) bool {
	return hasTextCode(err, TextCodeWeakCredential)
}

// IsDuplicateAccount reports whether err represents an email uniqueness conflict.
func IsDuplicateAccount(err error) bool {
	return hasTextCode(err, TextCodeDuplicateAccount)
}

// IsReuseDetected reports whether err represents refresh token reuse.
func IsReuseDetected(err error) bool {
	return hasTextCode(err, TextCodeReuseDetected)
}

// IsNetworkFailure reports whether err represents a transport level failure
// rather than a server verdict.
func IsNetworkFailure(err error) bool {
	return hasTextCode(err, TextCodeNetworkFailure)
}

// IsUnauthorized reports whether err maps to an HTTP 401 at the endpoint
// boundary. Every credential problem collapses here so no distinction leaks
// over the wire.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Code == goerrors.CodeUnauthorized
}
