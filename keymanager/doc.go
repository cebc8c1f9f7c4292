// Package keymanager implements the API key lifecycle: composing and parsing
// the plaintext key format, issuance with envelope encryption, bearer
// verification, authorized reveal, and regeneration.
//
// Plaintext keys look like pk_<env>_<type>_<prefix>_<secret>. The prefix is
// short, globally unique and stored in the clear for O(1) lookup; the full
// plaintext is argon2id-hashed for verification and additionally encrypted
// under a per-key DEK (wrapped by the KMS adapter) so the portal can reveal
// it to an authorized, step-up-authenticated caller.
//
// The AEAD associated data binds the ciphertext to the row's immutable
// identity (partner id, env, type, prefix): decrypting under a mismatched
// context fails.
package keymanager
