// Package kms implements the KMSAdapter backends used to wrap per-key data
// encryption keys.
//
// Available backends:
//   - LocalKMS: AES-256-GCM under a single in-process master key. Suitable
//     for development and testing only.
//   - VaultKMS: HashiCorp Vault transit engine encrypt/decrypt.
//   - AWSKMS: AWS KMS Encrypt/Decrypt under a customer master key.
//
// AdapterFor selects a backend from runtime configuration. All backends
// satisfy the same wrap/unwrap contract; rows record the adapter's key id so
// unwrapping under the wrong master key fails closed.
package kms
