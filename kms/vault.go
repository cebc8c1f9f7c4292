package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultKMS wraps DEKs through HashiCorp Vault's transit secrets engine. The
// wrapped form is Vault's versioned ciphertext string ("vault:v1:...") as
// raw bytes, so key rotation inside Vault stays transparent to unwrap.
type VaultKMS struct {
	client    *vault.Client
	mountPath string
	keyName   string
}

// NewVaultKMS creates a transit-backed adapter.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with encrypt/decrypt capability on the transit key
//   - mountPath: transit engine mount (e.g. "transit")
//   - keyName: name of the transit key to wrap DEKs under
func NewVaultKMS(address, token, mountPath, keyName string) (*VaultKMS, error) {
	config := vault.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	if mountPath == "" {
		mountPath = "transit"
	}
	return &VaultKMS{client: client, mountPath: mountPath, keyName: keyName}, nil
}

// KeyID identifies the transit key, qualified by backend.
func (k *VaultKMS) KeyID() string {
	return fmt.Sprintf("vault:%s/%s", k.mountPath, k.keyName)
}

// Wrap encrypts the DEK through the transit engine.
func (k *VaultKMS) Wrap(ctx context.Context, dek []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", k.mountPath, k.keyName)
	secret, err := k.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(dek),
	})
	if err != nil {
		return nil, fmt.Errorf("vault encrypt failed: %w", err)
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault encrypt returned no ciphertext")
	}
	return []byte(ciphertext), nil
}

// Unwrap decrypts a wrapped DEK through the transit engine.
func (k *VaultKMS) Unwrap(ctx context.Context, wrappedDEK []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", k.mountPath, k.keyName)
	secret, err := k.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(wrappedDEK),
	})
	if err != nil {
		return nil, fmt.Errorf("vault decrypt failed: %w", err)
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault decrypt returned no plaintext")
	}
	dek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault decrypt returned invalid plaintext: %w", err)
	}
	return dek, nil
}
