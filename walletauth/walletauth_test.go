package walletauth

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/storage"
	"github.com/hashport-labs/apikey-gateway/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWallet(t *testing.T) {
	addr, err := NormalizeWallet(interfaces.WalletEVM, "0xAbCdEF1234567890abcdef1234567890ABCDEF12")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", addr)

	hedera, err := NormalizeWallet(interfaces.WalletHedera, "0.0.12345")
	require.NoError(t, err)
	assert.Equal(t, "0.0.12345", hedera)

	for _, bad := range []struct {
		kind interfaces.WalletKind
		id   string
	}{
		{interfaces.WalletEVM, "0x1234"},
		{interfaces.WalletEVM, "abcdef1234567890abcdef1234567890abcdef12"},
		{interfaces.WalletEVM, "0.0.12345"},
		{interfaces.WalletHedera, "0x1234"},
		{interfaces.WalletHedera, "0.0"},
	} {
		_, err := NormalizeWallet(bad.kind, bad.id)
		assert.ErrorIs(t, err, interfaces.ErrInvalidWalletFormat, "input %q", bad.id)
	}
}

func TestDetectWalletKind(t *testing.T) {
	kind, err := DetectWalletKind("0xabcdef1234567890abcdef1234567890abcdef12")
	require.NoError(t, err)
	assert.Equal(t, interfaces.WalletEVM, kind)

	kind, err = DetectWalletKind("0.0.7")
	require.NoError(t, err)
	assert.Equal(t, interfaces.WalletHedera, kind)

	_, err = DetectWalletKind("nope")
	assert.ErrorIs(t, err, interfaces.ErrInvalidWalletFormat)
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func TestRecoverEVMAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	sig := signMessage(t, key, "hello")
	recovered, err := RecoverEVMAddress("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)

	// A different message recovers a different signer.
	recovered, err = RecoverEVMAddress("other", sig)
	require.NoError(t, err)
	assert.NotEqual(t, addr, recovered)
}

func TestRecoverEVMAddressNormalizesRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	sig, err := crypto.Sign(accounts.TextHash([]byte("msg")), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27 // wallet-style v value

	recovered, err := RecoverEVMAddress("msg", hexutil.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestRecoverEVMAddressRejectsGarbage(t *testing.T) {
	_, err := RecoverEVMAddress("msg", "0x1234")
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)
}

type authFixture struct {
	auth   *Authenticator
	store  *storage.MemoryStore
	tokens *token.Issuer
	key    *ecdsa.PrivateKey
	addr   string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	tokens, err := token.NewIssuer(token.IssuerConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth, err := NewAuthenticator(store, tokens, log)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &authFixture{
		auth:   auth,
		store:  store,
		tokens: tokens,
		key:    key,
		addr:   strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
}

func (f *authFixture) seedLoginIdentity(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.Partners().Create(ctx, &interfaces.Partner{
		ID: "partner-1", Name: "Acme", Tier: interfaces.TierBasic, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.Partners().CreateAccount(ctx, &interfaces.PartnerAccount{
		ID:              "member-1",
		PartnerID:       "partner-1",
		Kind:            interfaces.WalletEVM,
		AccountID:       f.addr,
		Network:         "sepolia",
		IsLoginIdentity: true,
		Role:            interfaces.RoleOwner,
		CreatedAt:       now,
	}))
}

func (f *authFixture) signedChallenge(t *testing.T, audience interfaces.NonceAudience) SignInInput {
	t.Helper()
	challenge, err := f.auth.RequestNonce(context.Background(), NonceRequest{
		Audience:  audience,
		Kind:      interfaces.WalletEVM,
		AccountID: f.addr,
		Network:   "sepolia",
	})
	require.NoError(t, err)
	return SignInInput{
		Kind:      interfaces.WalletEVM,
		AccountID: f.addr,
		Network:   "sepolia",
		Nonce:     challenge.Nonce,
		Signature: signMessage(t, f.key, challenge.Nonce),
	}
}

func TestPartnerSignIn(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)

	result, err := f.auth.PartnerSignIn(context.Background(), f.signedChallenge(t, interfaces.NoncePartner))
	require.NoError(t, err)

	claims, err := f.tokens.VerifySession(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "partner-1", claims.PartnerID)
	assert.Equal(t, "member-1", claims.MemberID)
	assert.Equal(t, interfaces.RoleOwner, claims.Role)
	assert.False(t, claims.IsAdmin)
}

func TestPartnerSignInReplayRejected(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)
	input := f.signedChallenge(t, interfaces.NoncePartner)

	_, err := f.auth.PartnerSignIn(context.Background(), input)
	require.NoError(t, err)

	_, err = f.auth.PartnerSignIn(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrInvalidOrExpiredNonce)
}

func TestPartnerSignInBadSignatureKeepsNonce(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)
	input := f.signedChallenge(t, interfaces.NoncePartner)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	bad := input
	bad.Signature = signMessage(t, other, input.Nonce)
	_, err = f.auth.PartnerSignIn(context.Background(), bad)
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)

	// The untouched challenge still works afterwards.
	_, err = f.auth.PartnerSignIn(context.Background(), input)
	assert.NoError(t, err)
}

func TestPartnerSignInExpiredNonce(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)
	input := f.signedChallenge(t, interfaces.NoncePartner)

	late := f.auth.WithClock(func() time.Time { return time.Now().Add(NonceTTL + time.Second) })
	_, err := late.PartnerSignIn(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrInvalidOrExpiredNonce)
}

func TestPartnerSignInUnknownWallet(t *testing.T) {
	f := newAuthFixture(t)
	// No login identity seeded.
	_, err := f.auth.PartnerSignIn(context.Background(), f.signedChallenge(t, interfaces.NoncePartner))
	assert.ErrorIs(t, err, interfaces.ErrNotLoginIdentity)
}

func TestPartnerSignInAudienceIsolation(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)

	// A nonce minted for the admin audience cannot satisfy partner sign-in.
	input := f.signedChallenge(t, interfaces.NonceAdmin)
	_, err := f.auth.PartnerSignIn(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrInvalidOrExpiredNonce)
}

func TestHederaSignInNotImplemented(t *testing.T) {
	f := newAuthFixture(t)
	challenge, err := f.auth.RequestNonce(context.Background(), NonceRequest{
		Audience:  interfaces.NoncePartner,
		Kind:      interfaces.WalletHedera,
		AccountID: "0.0.12345",
	})
	require.NoError(t, err)

	_, err = f.auth.PartnerSignIn(context.Background(), SignInInput{
		Kind:      interfaces.WalletHedera,
		AccountID: "0.0.12345",
		Nonce:     challenge.Nonce,
		Signature: "deadbeef",
	})
	assert.ErrorIs(t, err, interfaces.ErrHederaNotImplemented)
}

func TestAdminSignIn(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.store.Admins().Upsert(context.Background(), &interfaces.AdminAccount{
		ID:        "admin-1",
		WalletEVM: &f.addr,
		Role:      "MASTER",
		CreatedAt: time.Now(),
	}))

	result, err := f.auth.AdminSignIn(context.Background(), f.signedChallenge(t, interfaces.NonceAdmin))
	require.NoError(t, err)

	claims, err := f.tokens.VerifySession(result.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "admin-1", claims.AdminID)
}

func TestAdminSignInRejectsNonAdmin(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.auth.AdminSignIn(context.Background(), f.signedChallenge(t, interfaces.NonceAdmin))
	assert.ErrorIs(t, err, interfaces.ErrNotAdminWallet)
}

func TestPartnerStepUp(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)

	identity := token.Identity{
		SubType:   token.SubjectPartner,
		PartnerID: "partner-1",
		MemberID:  "member-1",
		Role:      interfaces.RoleOwner,
	}
	result, err := f.auth.PartnerStepUp(context.Background(), identity, StepUpInput{
		SignIn:     f.signedChallenge(t, interfaces.NoncePartner),
		Scope:      token.ScopeReveal,
		ResourceID: "key-1",
		Method:     "GET",
		Path:       "/api/partner/keys/{id}/reveal",
	})
	require.NoError(t, err)

	claims, err := f.tokens.VerifySecure(result.Token)
	require.NoError(t, err)
	assert.Equal(t, token.ScopeReveal, claims.Scope)
	assert.Equal(t, "key-1", claims.ResourceID)
	assert.Equal(t, result.JTI, claims.ID)

	// The jti was registered and is consumable exactly once.
	require.NoError(t, f.store.JTIs().Consume(context.Background(), result.JTI, time.Now()))
	assert.ErrorIs(t, f.store.JTIs().Consume(context.Background(), result.JTI, time.Now()), interfaces.ErrUsedJTI)
}

func TestPartnerStepUpForeignPartnerRejected(t *testing.T) {
	f := newAuthFixture(t)
	f.seedLoginIdentity(t)

	identity := token.Identity{SubType: token.SubjectPartner, PartnerID: "partner-other"}
	_, err := f.auth.PartnerStepUp(context.Background(), identity, StepUpInput{
		SignIn: f.signedChallenge(t, interfaces.NoncePartner),
		Scope:  token.ScopeReveal,
	})
	assert.ErrorIs(t, err, interfaces.ErrNotLoginIdentity)
}
