package adminapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/hashport-labs/apikey-gateway/api"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/kms"
	"github.com/hashport-labs/apikey-gateway/storage"
	"github.com/hashport-labs/apikey-gateway/token"
	"github.com/hashport-labs/apikey-gateway/walletauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastHashParams = cryptoutils.Argon2Params{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

type adminFixture struct {
	mux    *chi.Mux
	store  *storage.MemoryStore
	wallet *ecdsa.PrivateKey
	addr   string
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	adapter, err := kms.NewLocalKMS(make([]byte, 32), "test-kms")
	require.NoError(t, err)
	tokens, err := token.NewIssuer(token.IssuerConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := keymanager.NewManager(store, adapter, log)
	require.NoError(t, err)
	keys = keys.WithHashParams(fastHashParams)
	auth, err := walletauth.NewAuthenticator(store, tokens, log)
	require.NoError(t, err)

	mux := chi.NewRouter()
	New(store, keys, auth, api.NewSessionAuth(tokens, log), log).RegisterRoutes(mux)

	wallet, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(wallet.PublicKey).Hex())
	require.NoError(t, store.Admins().Upsert(context.Background(), &interfaces.AdminAccount{
		ID:        "admin-1",
		WalletEVM: &addr,
		Role:      "MASTER",
		CreatedAt: time.Now(),
	}))

	return &adminFixture{mux: mux, store: store, wallet: wallet, addr: addr}
}

func (f *adminFixture) request(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *adminFixture) signIn(t *testing.T) string {
	t.Helper()
	body := map[string]any{"walletKind": "EVM", "accountId": f.addr}
	rec := f.request(t, http.MethodPost, "/api/admin/auth/nonce", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var challenge struct {
		Nonce string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))

	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge.Nonce)), f.wallet)
	require.NoError(t, err)
	body["nonce"] = challenge.Nonce
	body["signature"] = hexutil.Encode(sig)
	rec = f.request(t, http.MethodPost, "/api/admin/auth/verify", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.Token
}

func TestAdminSignInFlow(t *testing.T) {
	f := newAdminFixture(t)
	assert.NotEmpty(t, f.signIn(t))
}

func TestAddPartnerRequiresAdmin(t *testing.T) {
	f := newAdminFixture(t)
	rec := f.request(t, http.MethodPost, "/api/admin/partners", "", map[string]any{"name": "Acme"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddPartnerOnboardsAtomically(t *testing.T) {
	f := newAdminFixture(t)
	session := f.signIn(t)

	wallet := "0xAbCdEF1234567890abcdef1234567890ABCDEF12"
	rec := f.request(t, http.MethodPost, "/api/admin/partners", session, map[string]any{
		"name": "Acme",
		"tier": "ADVANCED",
		"accounts": []map[string]any{{
			"kind":            "EVM",
			"accountId":       wallet,
			"network":         "sepolia",
			"isLoginIdentity": true,
			"role":            "OWNER",
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp struct {
		PartnerID string `json:"partnerId"`
		Key       struct {
			Plaintext string `json:"plaintext"`
			Env       string `json:"env"`
			Type      string `json:"type"`
		} `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PartnerID)
	assert.Equal(t, "LIVE", resp.Key.Env)
	assert.Equal(t, "FAUCET", resp.Key.Type)
	assert.True(t, strings.HasPrefix(resp.Key.Plaintext, "pk_live_faucet_"))

	ctx := context.Background()
	partner, err := f.store.Partners().GetByID(ctx, resp.PartnerID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TierAdvanced, partner.Tier)

	// The wallet was normalized to lower case on the way in.
	account, err := f.store.Partners().FindAnyLoginIdentity(ctx, strings.ToLower(wallet))
	require.NoError(t, err)
	assert.Equal(t, resp.PartnerID, account.PartnerID)

	keys, err := f.store.APIKeys().ListByPartner(ctx, resp.PartnerID, false)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{"faucet:drip"}, keys[0].Scopes)
}

func TestAddPartnerValidation(t *testing.T) {
	f := newAdminFixture(t)
	session := f.signIn(t)

	rec := f.request(t, http.MethodPost, "/api/admin/partners", session, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/admin/partners", session, map[string]any{
		"name": "Bad",
		"accounts": []map[string]any{{
			"kind":      "EVM",
			"accountId": "not-an-address",
		}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertTier(t *testing.T) {
	f := newAdminFixture(t)
	session := f.signIn(t)

	rec := f.request(t, http.MethodPut, "/api/admin/tiers", session, map[string]any{
		"name":         "BASIC",
		"requestLimit": 200,
		"features":     []string{"faucet:drip"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	plan, err := f.store.Tiers().Get(context.Background(), interfaces.TierBasic)
	require.NoError(t, err)
	assert.EqualValues(t, 200, plan.RequestLimit)
	assert.Equal(t, []string{"faucet:drip"}, plan.Features)
}
