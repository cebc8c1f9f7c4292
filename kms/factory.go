package kms

import (
	"encoding/hex"
	"fmt"

	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// Config selects and parameterizes a KMS backend at startup.
type Config struct {
	// Type is one of "local", "vault" or "aws".
	Type string

	// LocalMasterKeyHex is the hex-encoded 32-byte master key for the local
	// backend.
	LocalMasterKeyHex string
	LocalKeyID        string

	VaultAddress   string
	VaultToken     string
	VaultMountPath string
	VaultKeyName   string

	AWSRegion string
	AWSKeyID  string
}

// AdapterFor creates the configured KMS adapter.
func AdapterFor(cfg Config) (interfaces.KMSAdapter, error) {
	switch cfg.Type {
	case "local":
		masterKey, err := hex.DecodeString(cfg.LocalMasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid local master key: %w", err)
		}
		return NewLocalKMS(masterKey, cfg.LocalKeyID)
	case "vault":
		return NewVaultKMS(cfg.VaultAddress, cfg.VaultToken, cfg.VaultMountPath, cfg.VaultKeyName)
	case "aws":
		return NewAWSKMS(cfg.AWSRegion, cfg.AWSKeyID)
	default:
		return nil, fmt.Errorf("unsupported kms type: %s", cfg.Type)
	}
}
