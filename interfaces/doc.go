// Package interfaces defines the shared domain types, repository contracts,
// and sentinel errors used across the API key gateway.
//
// The package is dependency-free by design: concrete implementations (the
// relational store, the KMS adapters, the HTTP layer) all depend on it, never
// the other way around.
//
// Key contracts:
//   - Store: repository-style access to partners, keys, nonces, usage windows
//     and the single-use JTI registry, with transactional composition via InTx
//   - KMSAdapter: wrap/unwrap of per-key data encryption keys under a master
//     key held by a pluggable KMS backend
//
// Error taxonomy: sentinel errors are grouped by concern (key format, key
// authentication, token binding, replay protection, quota) so HTTP layers can
// map them to status codes with errors.Is.
package interfaces
