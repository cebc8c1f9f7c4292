package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// AEADEncrypt encrypts plaintext with AES-256-GCM under key, binding the
// ciphertext to the associated data. The ciphertext, nonce and tag are
// returned separately so callers can persist them in distinct columns.
func AEADEncrypt(plaintext, key, aad []byte) (ciphertext, nonce, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("GCM init failed: %w", err)
	}

	nonce, err = RandomBytes(gcmNonceSize)
	if err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - gcmTagSize
	return sealed[:split], nonce, sealed[split:], nil
}

// AEADDecrypt reverses AEADEncrypt. Decryption fails if the key, nonce, tag
// or associated data differ from those used at encryption time.
func AEADDecrypt(ciphertext, nonce, tag, key, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM init failed: %w", err)
	}
	if len(nonce) != gcmNonceSize {
		return nil, errors.New("invalid nonce length")
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
