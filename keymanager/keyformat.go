package keymanager

import (
	"fmt"
	"strings"

	"github.com/hashport-labs/apikey-gateway/interfaces"
)

const (
	// SecretBytes is the entropy of the key secret (256 bits).
	SecretBytes = 32

	// PrefixBytes is the entropy of the short lookup prefix.
	PrefixBytes = 6
)

// ParsedKey is the decomposed form of a plaintext bearer key.
type ParsedKey struct {
	Env    interfaces.KeyEnv
	Type   interfaces.KeyType
	Prefix string
	Secret string
}

// ComposePlaintextKey formats a key as pk_<env>_<type>_<prefix>_<secret>
// with env and type lower-cased.
func ComposePlaintextKey(env interfaces.KeyEnv, typ interfaces.KeyType, prefix, secret string) string {
	return fmt.Sprintf("pk_%s_%s_%s_%s",
		strings.ToLower(string(env)), strings.ToLower(string(typ)), prefix, secret)
}

// ParsePlaintextKey decomposes a bearer key. The secret may itself contain
// underscores; trailing segments are re-joined. Returns ErrInvalidKeyFormat
// on any violation.
func ParsePlaintextKey(k string) (ParsedKey, error) {
	parts := strings.Split(k, "_")
	if len(parts) < 5 || parts[0] != "pk" {
		return ParsedKey{}, interfaces.ErrInvalidKeyFormat
	}

	env, err := interfaces.ParseKeyEnv(parts[1])
	if err != nil {
		return ParsedKey{}, err
	}
	typ, err := interfaces.ParseKeyType(parts[2])
	if err != nil {
		return ParsedKey{}, err
	}

	prefix := parts[3]
	secret := strings.Join(parts[4:], "_")
	if prefix == "" || secret == "" {
		return ParsedKey{}, interfaces.ErrInvalidKeyFormat
	}

	return ParsedKey{Env: env, Type: typ, Prefix: prefix, Secret: secret}, nil
}

// sanitizePrefixHint replaces the key format delimiter in a caller-supplied
// hint so the hint cannot split the composed key.
func sanitizePrefixHint(hint string) string {
	return strings.ReplaceAll(hint, "_", "-")
}

// RedactKeyDisplay returns a display-safe form of a plaintext key or bare
// prefix, hiding the secret.
func RedactKeyDisplay(plaintextOrPrefix string) string {
	if strings.HasPrefix(plaintextOrPrefix, "pk_") {
		parsed, err := ParsePlaintextKey(plaintextOrPrefix)
		if err == nil {
			return fmt.Sprintf("pk_%s_%s_%s_•••••••••",
				strings.ToLower(string(parsed.Env)), strings.ToLower(string(parsed.Type)), parsed.Prefix)
		}
	}
	return plaintextOrPrefix + "_•••••••••"
}

// Redacted formats the display form from a stored row.
func Redacted(key *interfaces.APIKey) string {
	return fmt.Sprintf("pk_%s_%s_%s_•••••••••",
		strings.ToLower(string(key.Env)), strings.ToLower(string(key.Type)), key.Prefix)
}
