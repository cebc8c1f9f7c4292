package kms

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashport-labs/apikey-gateway/cryptoutils"
)

// LocalKMS simulates a KMS by wrapping DEKs with AES-256-GCM under a single
// master key held in memory. Not suitable for production.
type LocalKMS struct {
	masterKey []byte
	keyID     string
}

// NewLocalKMS creates a local adapter. The master key must be at least 32
// bytes long; only the first 32 bytes are used.
func NewLocalKMS(masterKey []byte, keyID string) (*LocalKMS, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	if keyID == "" {
		keyID = "local-dev"
	}
	k := &LocalKMS{masterKey: make([]byte, 32), keyID: keyID}
	copy(k.masterKey, masterKey)
	return k, nil
}

// KeyID returns the configured master key identifier.
func (k *LocalKMS) KeyID() string { return k.keyID }

// Wrap encrypts the DEK and returns nonce || tag || ciphertext.
func (k *LocalKMS) Wrap(_ context.Context, dek []byte) ([]byte, error) {
	ct, nonce, tag, err := cryptoutils.AEADEncrypt(dek, k.masterKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap failed: %w", err)
	}
	wrapped := make([]byte, 0, len(nonce)+len(tag)+len(ct))
	wrapped = append(wrapped, nonce...)
	wrapped = append(wrapped, tag...)
	wrapped = append(wrapped, ct...)
	return wrapped, nil
}

// Unwrap reverses Wrap.
func (k *LocalKMS) Unwrap(_ context.Context, wrappedDEK []byte) ([]byte, error) {
	if len(wrappedDEK) < 28 {
		return nil, errors.New("wrapped DEK too short")
	}
	nonce := wrappedDEK[:12]
	tag := wrappedDEK[12:28]
	ct := wrappedDEK[28:]

	dek, err := cryptoutils.AEADDecrypt(ct, nonce, tag, k.masterKey, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap failed: %w", err)
	}
	return dek, nil
}
