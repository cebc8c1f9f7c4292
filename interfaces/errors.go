package interfaces

import "errors"

// Key format and verification errors.
var (
	// ErrInvalidKeyFormat is returned when a bearer key does not match the
	// pk_<env>_<type>_<prefix>_<secret> layout.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	// ErrKeyRevokedOrNotFound covers both unknown prefixes and revoked keys,
	// deliberately indistinguishable to callers.
	ErrKeyRevokedOrNotFound = errors.New("key revoked or not found")

	// ErrKeyExpired is returned for keys past their expiry timestamp.
	ErrKeyExpired = errors.New("key expired")

	// ErrBadKeySignature is returned when the bearer fails the stored hash check.
	ErrBadKeySignature = errors.New("invalid API key")

	// ErrKMSKeyMismatch is returned when a reveal is attempted against a row
	// wrapped under a different master key than the active adapter's. Reveal
	// fails closed rather than trying alternate keys.
	ErrKMSKeyMismatch = errors.New("KMS key mismatch")
)

// Token errors.
var (
	// ErrWrongTokenType is returned when a session-shaped token is presented
	// where a secure token is required, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrMissingToken is returned when no bearer token accompanies a request.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken covers signature, expiry and claim validation failures.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Secure gate binding errors.
var (
	ErrWrongScope       = errors.New("wrong_scope")
	ErrPathMismatch     = errors.New("path_mismatch")
	ErrMethodMismatch   = errors.New("method_mismatch")
	ErrResourceMismatch = errors.New("resource_mismatch")
	ErrIPMismatch       = errors.New("ip_mismatch")
	ErrUAMismatch       = errors.New("ua_mismatch")

	// ErrStepUpRequired is returned when no step-up timestamp accompanies a
	// sensitive request; ErrStepUpExpired when it is present but stale.
	ErrStepUpRequired = errors.New("step-up required")
	ErrStepUpExpired  = errors.New("step-up expired")
)

// Replay protection errors. The exact strings are part of the API surface:
// clients receive the precise single-use failure reason.
var (
	ErrUnknownJTI = errors.New("unknown-jti")
	ErrUsedJTI    = errors.New("used-jti")
	ErrExpiredJTI = errors.New("expired-jti")

	ErrInvalidOrExpiredNonce = errors.New("invalid or expired nonce")
)

// Wallet authentication errors.
var (
	ErrInvalidWalletFormat = errors.New("invalid wallet format")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrNotLoginIdentity    = errors.New("wallet is not an authorized login identity")
	ErrNotAdminWallet      = errors.New("not an admin wallet")

	// ErrHederaNotImplemented marks the documented gap: Hedera signature
	// verification is intentionally unimplemented, not silently accepted.
	ErrHederaNotImplemented = errors.New("hedera signature verification not implemented")
)

// Access verification errors.
var (
	ErrUnrecognizedRoute = errors.New("unrecognized route")
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrNoAllowance       = errors.New("no request allowance for this partner")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Storage errors.
var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned on unique-constraint violations, e.g. an
	// already-registered jti or a reused prefix.
	ErrDuplicate = errors.New("duplicate row")
)
