package interfaces

import (
	"fmt"
	"strings"
	"time"
)

// KeyEnv distinguishes live keys from test keys.
type KeyEnv string

const (
	EnvLive KeyEnv = "LIVE"
	EnvTest KeyEnv = "TEST"
)

// ParseKeyEnv parses a case-insensitive environment segment.
func ParseKeyEnv(s string) (KeyEnv, error) {
	switch KeyEnv(strings.ToUpper(s)) {
	case EnvLive:
		return EnvLive, nil
	case EnvTest:
		return EnvTest, nil
	default:
		return "", fmt.Errorf("%w: unknown env %q", ErrInvalidKeyFormat, s)
	}
}

// KeyType identifies the product a key grants access to.
type KeyType string

const (
	TypeFaucet   KeyType = "FAUCET"
	TypeHashpass KeyType = "HASHPASS"
)

// ParseKeyType parses a case-insensitive key type segment.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(strings.ToUpper(s)) {
	case TypeFaucet:
		return TypeFaucet, nil
	case TypeHashpass:
		return TypeHashpass, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidKeyFormat, s)
	}
}

// Tier names a partner's subscription plan.
type Tier string

const (
	TierBasic      Tier = "BASIC"
	TierAdvanced   Tier = "ADVANCED"
	TierEnterprise Tier = "ENTERPRISE"
)

// WalletKind is the closed set of supported wallet variants.
type WalletKind string

const (
	WalletEVM    WalletKind = "EVM"
	WalletHedera WalletKind = "HEDERA"
)

// Role is a partner member's role within the partner organization.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

// NonceAudience separates partner login nonces from admin login nonces so
// one pool can never satisfy the other.
type NonceAudience string

const (
	NoncePartner NonceAudience = "partner"
	NonceAdmin   NonceAudience = "admin"
)

// APIKey is the persisted representation of an issued key. The plaintext is
// never stored directly: KeyHash authenticates bearers, and the envelope
// fields (SecretCiphertext/IV/Tag + WrappedDEK) allow an authorized reveal.
//
// Prefix is globally unique and never reused. Revocation is permanent.
type APIKey struct {
	ID        string
	PartnerID string
	Prefix    string
	Env       KeyEnv
	Type      KeyType
	KeyHash   string

	SecretCiphertext []byte
	SecretIV         []byte
	SecretTag        []byte
	WrappedDEK       []byte
	KMSKeyID         string

	Revoked        bool
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	LastUsedAt     *time.Time
	LastRevealedAt *time.Time
	RevealedCount  int64

	// Scopes granted explicitly to this key, in addition to tier features.
	Scopes []string
}

// Partner is a tenant of the gateway.
type Partner struct {
	ID                   string
	Name                 string
	Contact              *string
	Tier                 Tier
	RequestLimitOverride *int64
	MultiDrip            bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PartnerAccount binds a wallet to a partner. Only accounts flagged as login
// identities may authenticate on behalf of the partner.
type PartnerAccount struct {
	ID              string
	PartnerID       string
	Kind            WalletKind
	AccountID       string
	Network         string
	ChainID         *int64
	IsLoginIdentity bool
	Role            Role
	CreatedAt       time.Time
}

// AdminAccount is a gateway operator identified by one or both wallet kinds.
type AdminAccount struct {
	ID           string
	WalletEVM    *string
	WalletHedera *string
	Role         string
	CreatedAt    time.Time
}

// TierPlan holds the default quota and implicitly granted scopes for a tier.
type TierPlan struct {
	Name         Tier
	RequestLimit int64
	Features     []string
}

// LoginNonce is a one-shot signing challenge. It transitions from unconsumed
// to consumed exactly once and is rejected after ExpiresAt regardless of
// consumption state.
type LoginNonce struct {
	ID         string
	Audience   NonceAudience
	Kind       WalletKind
	AccountID  string
	Network    string
	ChainID    *int64
	Nonce      string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// SecureTokenJTI is a registry row enforcing single-use semantics on secure
// tokens. Consumption is a one-way transition stamped in UsedAt.
type SecureTokenJTI struct {
	JTI       string
	ExpiresAt time.Time
	UsedAt    *time.Time
	PartnerID *string
	MemberID  *string
	AdminID   *string
	CreatedAt time.Time
}

// WindowKey identifies one fixed rate-limit window.
type WindowKey struct {
	PartnerID   string
	APIKeyID    string
	Route       string
	WindowStart time.Time
	WindowEnd   time.Time
}

// RequestLog is an append-only audit row written per verification attempt.
type RequestLog struct {
	ID         string
	PartnerID  string
	APIKeyID   string
	Route      string
	StatusCode int
	CostUnits  int64
	IPHash     *string
	CreatedAt  time.Time
}
