// Package cryptoutils provides the crypto primitives shared across the
// gateway: URL-safe random tokens, SHA-256 hex digests, AES-256-GCM
// authenticated encryption with associated data, and argon2id password
// hashing in PHC string format.
package cryptoutils
