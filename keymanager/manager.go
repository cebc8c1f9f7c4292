package keymanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// Manager composes, persists, verifies, reveals and regenerates API keys.
type Manager struct {
	store      interfaces.Store
	kms        interfaces.KMSAdapter
	log        *slog.Logger
	hashParams cryptoutils.Argon2Params
	now        func() time.Time
}

// NewManager creates a manager with default argon2id cost parameters.
func NewManager(store interfaces.Store, kmsAdapter interfaces.KMSAdapter, log *slog.Logger) (*Manager, error) {
	if store == nil || kmsAdapter == nil {
		return nil, errors.New("store and kms adapter are required")
	}
	return &Manager{
		store:      store,
		kms:        kmsAdapter,
		log:        log,
		hashParams: cryptoutils.DefaultArgon2Params,
		now:        time.Now,
	}, nil
}

// WithHashParams returns a copy of the manager using the provided argon2id
// cost parameters. Used by tests to cut hashing cost.
func (m *Manager) WithHashParams(p cryptoutils.Argon2Params) *Manager {
	clone := *m
	clone.hashParams = p
	return &clone
}

// WithClock returns a copy of the manager using the provided time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	clone := *m
	clone.now = now
	return &clone
}

// IssueInput parameterizes key issuance.
type IssueInput struct {
	PartnerID string
	Env       interfaces.KeyEnv
	Type      interfaces.KeyType
	Scopes    []string
	ExpiresAt *time.Time

	// PrefixHint optionally prepends a human-friendly tag to the random
	// prefix core, joined with '-'. Underscores in the hint are replaced
	// with '-' so the composed key stays parseable.
	PrefixHint string
}

// IssuedKey is returned exactly once per issuance, plaintext included.
type IssuedKey struct {
	ID        string             `json:"id"`
	Prefix    string             `json:"prefix"`
	Env       interfaces.KeyEnv  `json:"env"`
	Type      interfaces.KeyType `json:"type"`
	Scopes    []string           `json:"scopes"`
	ExpiresAt *time.Time         `json:"expiresAt"`
	Plaintext string             `json:"plaintext"`
}

// Issue mints and persists a new key: generates prefix and secret, hashes
// the plaintext for verification, envelope-encrypts it for later reveal, and
// commits the key row together with its scopes in one transaction.
func (m *Manager) Issue(ctx context.Context, input IssueInput) (*IssuedKey, error) {
	var issued *IssuedKey
	err := m.store.InTx(ctx, func(tx interfaces.Store) error {
		var err error
		issued, err = m.issueInStore(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// IssueIn performs issuance against the given store view, for callers that
// are already inside a transaction (partner onboarding).
func (m *Manager) IssueIn(ctx context.Context, s interfaces.Store, input IssueInput) (*IssuedKey, error) {
	return m.issueInStore(ctx, s, input)
}

// issueInStore performs issuance against the given store view so callers
// already inside a transaction (regenerate, partner onboarding) can compose.
func (m *Manager) issueInStore(ctx context.Context, s interfaces.Store, input IssueInput) (*IssuedKey, error) {
	// The prefix is embedded in the '_'-delimited key format, so its
	// alphabet must not contain '_'. Hex, not base64url.
	prefix, err := cryptoutils.RandomHex(PrefixBytes)
	if err != nil {
		return nil, err
	}
	if input.PrefixHint != "" {
		prefix = sanitizePrefixHint(input.PrefixHint) + "-" + prefix
	}
	secret, err := cryptoutils.RandomToken(SecretBytes)
	if err != nil {
		return nil, err
	}
	plaintext := ComposePlaintextKey(input.Env, input.Type, prefix, secret)

	keyHash, err := cryptoutils.HashSecret(m.hashParams, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	dek, err := cryptoutils.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	wrappedDEK, err := m.kms.Wrap(ctx, dek)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap DEK: %w", err)
	}

	aad := encryptionContext(input.PartnerID, input.Env, input.Type, prefix)
	ciphertext, iv, tag, err := cryptoutils.AEADEncrypt([]byte(plaintext), dek, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key: %w", err)
	}

	row := &interfaces.APIKey{
		ID:               uuid.NewString(),
		PartnerID:        input.PartnerID,
		Prefix:           prefix,
		Env:              input.Env,
		Type:             input.Type,
		KeyHash:          keyHash,
		SecretCiphertext: ciphertext,
		SecretIV:         iv,
		SecretTag:        tag,
		WrappedDEK:       wrappedDEK,
		KMSKeyID:         m.kms.KeyID(),
		ExpiresAt:        input.ExpiresAt,
		CreatedAt:        m.now(),
	}

	if err := s.APIKeys().Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist key: %w", err)
	}
	if len(input.Scopes) > 0 {
		if err := s.APIKeys().AddScopes(ctx, row.ID, input.Scopes); err != nil {
			return nil, fmt.Errorf("failed to persist key scopes: %w", err)
		}
	}

	return &IssuedKey{
		ID:        row.ID,
		Prefix:    prefix,
		Env:       input.Env,
		Type:      input.Type,
		Scopes:    append([]string(nil), input.Scopes...),
		ExpiresAt: input.ExpiresAt,
		Plaintext: plaintext,
	}, nil
}

// Verify authenticates a plaintext bearer key: parse, O(1) lookup by prefix,
// liveness checks, then constant-time hash verification. Returns the stored
// row (scopes included) on success.
func (m *Manager) Verify(ctx context.Context, bearer string) (*interfaces.APIKey, error) {
	parsed, err := ParsePlaintextKey(bearer)
	if err != nil {
		return nil, err
	}

	key, err := m.store.APIKeys().GetByPrefix(ctx, parsed.Prefix)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrKeyRevokedOrNotFound
		}
		return nil, err
	}
	if key.Revoked {
		return nil, interfaces.ErrKeyRevokedOrNotFound
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(m.now()) {
		return nil, interfaces.ErrKeyExpired
	}

	if !cryptoutils.VerifySecret(bearer, key.KeyHash) {
		return nil, interfaces.ErrBadKeySignature
	}
	return key, nil
}

// Reveal decrypts and returns the stored plaintext. The associated data is
// re-derived from the row's own identity, and the operation fails closed
// with ErrKMSKeyMismatch when the row was wrapped under a different master
// key than the active adapter's. Reveal never mutates the key material; it
// only stamps the reveal bookkeeping.
func (m *Manager) Reveal(ctx context.Context, apiKeyID string) (string, error) {
	key, err := m.store.APIKeys().GetByID(ctx, apiKeyID)
	if err != nil {
		return "", err
	}

	if key.KMSKeyID != m.kms.KeyID() {
		return "", fmt.Errorf("%w: key wrapped under %q, adapter holds %q",
			interfaces.ErrKMSKeyMismatch, key.KMSKeyID, m.kms.KeyID())
	}

	dek, err := m.kms.Unwrap(ctx, key.WrappedDEK)
	if err != nil {
		return "", fmt.Errorf("failed to unwrap DEK: %w", err)
	}

	aad := encryptionContext(key.PartnerID, key.Env, key.Type, key.Prefix)
	plaintext, err := cryptoutils.AEADDecrypt(key.SecretCiphertext, key.SecretIV, key.SecretTag, dek, aad)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt key: %w", err)
	}

	if err := m.store.APIKeys().MarkRevealed(ctx, key.ID, m.now()); err != nil {
		return "", fmt.Errorf("failed to record reveal: %w", err)
	}
	return string(plaintext), nil
}

// Regenerate permanently revokes the key and issues a replacement with the
// same partner, env, type, scopes and expiry, atomically. The new plaintext
// is returned exactly once.
func (m *Manager) Regenerate(ctx context.Context, apiKeyID string) (*IssuedKey, error) {
	current, err := m.store.APIKeys().GetByID(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	var issued *IssuedKey
	err = m.store.InTx(ctx, func(tx interfaces.Store) error {
		if err := tx.APIKeys().Revoke(ctx, current.ID); err != nil {
			return fmt.Errorf("failed to revoke key: %w", err)
		}
		issued, err = m.issueInStore(ctx, tx, IssueInput{
			PartnerID: current.PartnerID,
			Env:       current.Env,
			Type:      current.Type,
			Scopes:    current.Scopes,
			ExpiresAt: current.ExpiresAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// TouchLastUsed is a best-effort update of the key's last-used timestamp.
// Failures are logged and swallowed.
func (m *Manager) TouchLastUsed(ctx context.Context, apiKeyID string) {
	if err := m.store.APIKeys().TouchLastUsed(ctx, apiKeyID, m.now()); err != nil {
		m.log.Warn("last-used update failed", "err", err, "apiKeyId", apiKeyID)
	}
}

// encryptionContext builds the AEAD associated data binding a ciphertext to
// its row's immutable identity.
func encryptionContext(partnerID string, env interfaces.KeyEnv, typ interfaces.KeyType, prefix string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s", partnerID, env, typ, prefix))
}
