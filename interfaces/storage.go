package interfaces

import (
	"context"
	"time"
)

// Store is the transactional relational store behind the gateway, exposed as
// repositories. Implementations must provide the atomic primitives the
// security model relies on: conditional nonce/jti consumption and
// upsert-increment of usage windows. No in-process locking is assumed.
type Store interface {
	APIKeys() APIKeyRepository
	Partners() PartnerRepository
	Tiers() TierRepository
	Admins() AdminRepository
	Nonces() NonceRepository
	JTIs() JTIRepository
	Usage() UsageRepository

	// InTx runs fn against a store view whose writes commit together or not
	// at all. Key issuance and partner onboarding depend on this.
	InTx(ctx context.Context, fn func(Store) error) error

	// Ping reports connectivity for health checks.
	Ping(ctx context.Context) error

	Close()
}

// APIKeyRepository persists issued keys and their scope sets.
type APIKeyRepository interface {
	// Create inserts the key row. Scope rows are inserted via AddScopes so
	// both can share a transaction.
	Create(ctx context.Context, key *APIKey) error

	// AddScopes inserts scope grants with set semantics (duplicates ignored).
	AddScopes(ctx context.Context, apiKeyID string, scopes []string) error

	// GetByPrefix returns the key with its scopes, or ErrNotFound.
	GetByPrefix(ctx context.Context, prefix string) (*APIKey, error)

	// GetByID returns the key with its scopes, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*APIKey, error)

	ListByPartner(ctx context.Context, partnerID string, includeRevoked bool) ([]*APIKey, error)

	// Revoke permanently marks the key revoked. Revocation cannot be undone.
	Revoke(ctx context.Context, id string) error

	// MarkRevealed stamps LastRevealedAt and increments RevealedCount.
	MarkRevealed(ctx context.Context, id string, at time.Time) error

	// TouchLastUsed updates LastUsedAt. Callers treat failures as non-fatal.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// PartnerRepository persists partners and their wallet accounts.
type PartnerRepository interface {
	Create(ctx context.Context, partner *Partner) error
	GetByID(ctx context.Context, id string) (*Partner, error)

	CreateAccount(ctx context.Context, account *PartnerAccount) error
	ListAccounts(ctx context.Context, partnerID string) ([]*PartnerAccount, error)

	// FindLoginIdentity matches a login-flagged account by wallet kind and
	// canonical account id (case-insensitive for EVM), scoped to network and
	// chain. Returns ErrNotFound when no such identity exists.
	FindLoginIdentity(ctx context.Context, kind WalletKind, accountID, network string, chainID *int64) (*PartnerAccount, error)

	// FindAnyLoginIdentity matches a login-flagged account by account id
	// alone, across kinds and networks.
	FindAnyLoginIdentity(ctx context.Context, accountID string) (*PartnerAccount, error)
}

// TierRepository persists tier plans.
type TierRepository interface {
	Get(ctx context.Context, name Tier) (*TierPlan, error)
	Upsert(ctx context.Context, plan *TierPlan) error
}

// AdminRepository persists admin accounts.
type AdminRepository interface {
	// FindByWallet matches an admin by EVM or Hedera wallet (either may be
	// empty; EVM comparison is case-insensitive). Returns ErrNotFound when
	// neither matches.
	FindByWallet(ctx context.Context, evm, hedera string) (*AdminAccount, error)
	Upsert(ctx context.Context, admin *AdminAccount) error
}

// NonceRepository persists one-shot login challenges.
type NonceRepository interface {
	Create(ctx context.Context, nonce *LoginNonce) error

	// FindFresh returns the freshest unconsumed, unexpired nonce row with the
	// given value for the audience, or ErrNotFound.
	FindFresh(ctx context.Context, audience NonceAudience, nonce string, now time.Time) (*LoginNonce, error)

	// Consume atomically marks the nonce consumed. A second concurrent
	// consume of the same row must fail with ErrInvalidOrExpiredNonce.
	Consume(ctx context.Context, id string, at time.Time) error
}

// JTIRepository is the single-use token identifier registry.
type JTIRepository interface {
	Register(ctx context.Context, row *SecureTokenJTI) error

	// Consume atomically stamps UsedAt. It fails with ErrUnknownJTI,
	// ErrUsedJTI or ErrExpiredJTI; under concurrent callers exactly one
	// consume of a given jti succeeds.
	Consume(ctx context.Context, jti string, at time.Time) error
}

// UsageRepository tracks fixed-window usage counts and the audit log.
type UsageRepository interface {
	// IncrementWindow atomically upserts the window row and increments its
	// count by cost, returning the post-increment count. Two concurrent
	// increments of the same window must both be reflected in the total.
	IncrementWindow(ctx context.Context, key WindowKey, cost int64) (int64, error)

	// LogRequest appends an audit row.
	LogRequest(ctx context.Context, log *RequestLog) error
}
