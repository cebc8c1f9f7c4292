// Package walletauth implements wallet-signature authentication for the
// partner portal and the admin surface.
//
// The flow is challenge/response: the client requests a one-shot nonce bound
// to its wallet, signs it, and submits the signature. EVM signatures are
// verified by public-key recovery over the personal-sign digest of the nonce
// string. Hedera signature verification is not wired yet and fails with
// interfaces.ErrHederaNotImplemented.
//
// Nonces are single-use and expire after five minutes; consumption is an
// atomic conditional update in the store, so a replayed signature loses the
// race even across gateway replicas.
package walletauth
