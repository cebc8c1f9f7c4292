// Package token signs and verifies the gateway's two token tiers.
//
// Session tokens are longer-lived (15 minutes by default) and carry only the
// principal's identity and role. Secure tokens are ultra-short-lived step-up
// tokens bound to a single operation: they additionally carry a scope, the
// exact method and route template, the target resource id, optional client
// IP/UA hashes, the step-up timestamp, and a single-use jti.
//
// The two shapes share a signing secret but are never interchangeable: a
// tokenType claim is checked on verification and the wrong shape fails with
// ErrWrongTokenType even when the signature is valid.
package token
