package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashport-labs/apikey-gateway/interfaces"
)

const (
	// DefaultSessionTTL is the default lifetime of a session token.
	DefaultSessionTTL = 15 * time.Minute

	// DefaultSecureTTL is the default lifetime of a secure step-up token.
	DefaultSecureTTL = 60 * time.Second
)

// IssuerConfig parameterizes an Issuer.
type IssuerConfig struct {
	// Secret is the shared HMAC signing secret. Required, at least 32 bytes.
	Secret []byte

	// Issuer and Audience are enforced on verification.
	Issuer   string
	Audience string

	SessionTTL time.Duration
	SecureTTL  time.Duration
}

// Issuer signs and verifies both token shapes with HS256.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	sessionTTL time.Duration
	secureTTL  time.Duration

	now func() time.Time
}

// NewIssuer creates an issuer from the config, applying defaults for unset
// TTLs.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	iss := &Issuer{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		sessionTTL: cfg.SessionTTL,
		secureTTL:  cfg.SecureTTL,
		now:        time.Now,
	}
	if iss.issuer == "" {
		iss.issuer = "apikey-gateway"
	}
	if iss.audience == "" {
		iss.audience = "partner-portal"
	}
	if iss.sessionTTL <= 0 {
		iss.sessionTTL = DefaultSessionTTL
	}
	if iss.secureTTL <= 0 {
		iss.secureTTL = DefaultSecureTTL
	}
	return iss, nil
}

// WithClock returns a copy of the issuer using the provided time source.
// Useful for testing expiry behavior deterministically.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *i
	clone.now = now
	return &clone
}

// SecureTTL reports the effective secure-token lifetime so callers can align
// jti registry TTLs with it.
func (i *Issuer) SecureTTL() time.Duration { return i.secureTTL }

// SignSession mints a session token for the identity. A non-positive ttl
// selects the configured default.
func (i *Issuer) SignSession(identity Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.sessionTTL
	}
	now := i.now()
	claims := SessionClaims{
		RegisteredClaims: i.registered(now, ttl, ""),
		Identity:         identity,
		TokenType:        TypeSession,
	}
	return i.sign(claims)
}

// SecureGrant carries everything a secure token binds to.
type SecureGrant struct {
	Identity   Identity
	Scope      SecureScope
	ResourceID string
	Method     string
	Path       string
	IPHash     string
	UAHash     string
	StepUpAt   time.Time
	JTI        string
}

// SignSecure mints a secure token for the grant. A non-positive ttl selects
// the configured default.
func (i *Issuer) SignSecure(grant SecureGrant, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.secureTTL
	}
	if grant.JTI == "" {
		return "", errors.New("secure token requires a jti")
	}
	now := i.now()
	claims := SecureClaims{
		RegisteredClaims: i.registered(now, ttl, grant.JTI),
		Identity:         grant.Identity,
		TokenType:        TypeSecure,
		StepUpAt:         grant.StepUpAt.UnixMilli(),
		Scope:            grant.Scope,
		ResourceID:       grant.ResourceID,
		Method:           grant.Method,
		Path:             grant.Path,
		IPHash:           grant.IPHash,
		UAHash:           grant.UAHash,
	}
	return i.sign(claims)
}

// VerifySession verifies signature, issuer, audience and expiry, then
// requires the session shape.
func (i *Issuer) VerifySession(tokenString string) (*SessionClaims, error) {
	var claims SessionClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeSession {
		return nil, interfaces.ErrWrongTokenType
	}
	return &claims, nil
}

// VerifySecure verifies signature, issuer, audience and expiry, then
// requires the secure shape.
func (i *Issuer) VerifySecure(tokenString string) (*SecureClaims, error) {
	var claims SecureClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeSecure {
		return nil, interfaces.ErrWrongTokenType
	}
	return &claims, nil
}

func (i *Issuer) registered(now time.Time, ttl time.Duration, jti string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidToken, err)
	}
	return nil
}
