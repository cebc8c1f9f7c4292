// Package securegate guards the sensitive portal operations (reveal,
// regenerate) behind single-use secure tokens.
//
// The middleware runs a fixed check order: bearer extraction, token
// verification, scope, route pattern, method, resource id, optional
// client-address and user-agent hashes, and finally atomic jti consumption.
// Consuming the jti last means a token rejected on any binding check stays
// unconsumed and the client can retry against the right binding; once a
// request passes all bindings the token is burned whether or not the
// handler succeeds.
package securegate
