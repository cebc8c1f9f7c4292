package walletauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/token"
)

const (
	// NonceTTL bounds how long a signing challenge stays redeemable.
	NonceTTL = 5 * time.Minute

	// jtiClockSkew pads the jti registry expiry past the token expiry so a
	// token that is still valid at the verifier can always be consumed.
	jtiClockSkew = 5 * time.Second
)

// Authenticator runs the challenge/response wallet flows and mints tokens.
type Authenticator struct {
	store  interfaces.Store
	tokens *token.Issuer
	log    *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(store interfaces.Store, tokens *token.Issuer, log *slog.Logger) (*Authenticator, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("store and token issuer are required")
	}
	return &Authenticator{store: store, tokens: tokens, log: log, now: time.Now}, nil
}

// WithClock returns a copy of the authenticator using the provided time
// source.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	clone := *a
	clone.now = now
	return &clone
}

// Challenge is a freshly minted signing challenge. The client signs the
// Nonce value as-is.
type Challenge struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NonceRequest identifies the wallet asking for a challenge.
type NonceRequest struct {
	Audience  interfaces.NonceAudience
	Kind      interfaces.WalletKind
	AccountID string
	Network   string
	ChainID   *int64
}

// RequestNonce mints and persists a one-shot challenge for the wallet. The
// wallet is only format-validated here; existence checks happen at
// verification so the endpoint does not leak account enumeration.
func (a *Authenticator) RequestNonce(ctx context.Context, req NonceRequest) (*Challenge, error) {
	accountID, err := NormalizeWallet(req.Kind, req.AccountID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	entropy, err := cryptoutils.RandomHex(16)
	if err != nil {
		return nil, err
	}
	value := fmt.Sprintf("%s:%d:%s", req.Audience, now.UnixMilli(), entropy)

	row := &interfaces.LoginNonce{
		ID:        uuid.NewString(),
		Audience:  req.Audience,
		Kind:      req.Kind,
		AccountID: accountID,
		Network:   req.Network,
		ChainID:   req.ChainID,
		Nonce:     value,
		ExpiresAt: now.Add(NonceTTL),
		CreatedAt: now,
	}
	if err := a.store.Nonces().Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist nonce: %w", err)
	}
	return &Challenge{Nonce: value, ExpiresAt: row.ExpiresAt}, nil
}

// SignInInput is a signed challenge submitted for verification.
type SignInInput struct {
	Kind      interfaces.WalletKind
	AccountID string
	Network   string
	ChainID   *int64
	Nonce     string
	Signature string
}

// SignInResult carries the minted session token.
type SignInResult struct {
	Token     string         `json:"token"`
	Identity  token.Identity `json:"identity"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// redeemNonce validates the signed challenge end to end: wallet format,
// nonce freshness and binding, signature recovery, then atomic consumption.
// Returns the normalized account id.
func (a *Authenticator) redeemNonce(ctx context.Context, audience interfaces.NonceAudience, in SignInInput) (string, error) {
	accountID, err := NormalizeWallet(in.Kind, in.AccountID)
	if err != nil {
		return "", err
	}

	now := a.now()
	row, err := a.store.Nonces().FindFresh(ctx, audience, in.Nonce, now)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return "", interfaces.ErrInvalidOrExpiredNonce
		}
		return "", err
	}
	if row.Kind != in.Kind || row.AccountID != accountID {
		return "", interfaces.ErrInvalidOrExpiredNonce
	}

	if err := verifyWalletSignature(in.Kind, accountID, row.Nonce, in.Signature); err != nil {
		return "", err
	}

	// Consume only after the signature checks out, so a bad signature does
	// not burn the challenge. The consume itself is the replay barrier.
	if err := a.store.Nonces().Consume(ctx, row.ID, now); err != nil {
		return "", err
	}
	return accountID, nil
}

// PartnerSignIn verifies a signed partner challenge and mints a session
// token for the matching login identity.
func (a *Authenticator) PartnerSignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	accountID, err := a.redeemNonce(ctx, interfaces.NoncePartner, in)
	if err != nil {
		return nil, err
	}

	account, err := a.store.Partners().FindLoginIdentity(ctx, in.Kind, accountID, in.Network, in.ChainID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrNotLoginIdentity
		}
		return nil, err
	}

	identity := token.Identity{
		SubType:   token.SubjectPartner,
		PartnerID: account.PartnerID,
		MemberID:  account.ID,
		Role:      account.Role,
	}
	signed, err := a.tokens.SignSession(identity, 0)
	if err != nil {
		return nil, err
	}
	a.log.Info("partner signed in", "partnerId", account.PartnerID, "memberId", account.ID)
	return &SignInResult{Token: signed, Identity: identity, ExpiresAt: a.now().Add(token.DefaultSessionTTL)}, nil
}

// AdminSignIn verifies a signed admin challenge and mints an admin session
// token. The wallet must be registered in the admin table.
func (a *Authenticator) AdminSignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	accountID, err := a.redeemNonce(ctx, interfaces.NonceAdmin, in)
	if err != nil {
		return nil, err
	}

	var evm, hedera string
	switch in.Kind {
	case interfaces.WalletEVM:
		evm = accountID
	case interfaces.WalletHedera:
		hedera = accountID
	}
	admin, err := a.store.Admins().FindByWallet(ctx, evm, hedera)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrNotAdminWallet
		}
		return nil, err
	}

	identity := token.Identity{
		SubType: token.SubjectAdmin,
		AdminID: admin.ID,
		IsAdmin: true,
	}
	signed, err := a.tokens.SignSession(identity, 0)
	if err != nil {
		return nil, err
	}
	a.log.Info("admin signed in", "adminId", admin.ID)
	return &SignInResult{Token: signed, Identity: identity, ExpiresAt: a.now().Add(token.DefaultSessionTTL)}, nil
}

// StepUpInput binds a fresh wallet proof to one sensitive operation.
type StepUpInput struct {
	SignIn SignInInput

	Scope      token.SecureScope
	ResourceID string
	Method     string
	Path       string
	IPHash     string
	UAHash     string
}

// StepUpResult carries the minted single-use secure token.
type StepUpResult struct {
	Token     string    `json:"token"`
	JTI       string    `json:"jti"`
	StepUpAt  time.Time `json:"stepUpAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PartnerStepUp verifies a fresh signed challenge for an already
// authenticated session and mints a secure token bound to exactly one
// operation. The signing wallet must be a login identity of the session's
// partner; the jti is registered before signing so the gate can consume it.
func (a *Authenticator) PartnerStepUp(ctx context.Context, identity token.Identity, in StepUpInput) (*StepUpResult, error) {
	if identity.SubType != token.SubjectPartner || identity.PartnerID == "" {
		return nil, interfaces.ErrInvalidToken
	}

	accountID, err := a.redeemNonce(ctx, interfaces.NoncePartner, in.SignIn)
	if err != nil {
		return nil, err
	}

	account, err := a.store.Partners().FindLoginIdentity(ctx, in.SignIn.Kind, accountID, in.SignIn.Network, in.SignIn.ChainID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrNotLoginIdentity
		}
		return nil, err
	}
	if account.PartnerID != identity.PartnerID {
		return nil, interfaces.ErrNotLoginIdentity
	}

	now := a.now()
	jti := uuid.NewString()
	expiresAt := now.Add(a.tokens.SecureTTL())
	err = a.store.JTIs().Register(ctx, &interfaces.SecureTokenJTI{
		JTI:       jti,
		ExpiresAt: expiresAt.Add(jtiClockSkew),
		PartnerID: &identity.PartnerID,
		MemberID:  &account.ID,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register jti: %w", err)
	}

	signed, err := a.tokens.SignSecure(token.SecureGrant{
		Identity:   identity,
		Scope:      in.Scope,
		ResourceID: in.ResourceID,
		Method:     in.Method,
		Path:       in.Path,
		IPHash:     in.IPHash,
		UAHash:     in.UAHash,
		StepUpAt:   now,
		JTI:        jti,
	}, 0)
	if err != nil {
		return nil, err
	}

	a.log.Info("step-up granted",
		"partnerId", identity.PartnerID, "scope", in.Scope, "resourceId", in.ResourceID, "jti", jti)
	return &StepUpResult{Token: signed, JTI: jti, StepUpAt: now, ExpiresAt: expiresAt}, nil
}
