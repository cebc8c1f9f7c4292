package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/kms"
	"github.com/hashport-labs/apikey-gateway/routeconfig"
	"github.com/hashport-labs/apikey-gateway/storage"
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

type fixture struct {
	gw    *Gateway
	store *storage.MemoryStore
	keys  *keymanager.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	adapter, err := kms.NewLocalKMS(make([]byte, 32), "test-kms")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := keymanager.NewManager(store, adapter, log)
	require.NoError(t, err)
	keys = keys.WithHashParams(fastHashParams)

	gw, err := New(store, keys, routeconfig.Default(), log, 60)
	require.NoError(t, err)
	return &fixture{gw: gw, store: store, keys: keys}
}

// seedPartner creates a partner on the BASIC plan with the given per-window
// limit and returns a live faucet key for it.
func (f *fixture) seedPartner(t *testing.T, limit int64, override *int64, scopes []string) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.Partners().Create(ctx, &interfaces.Partner{
		ID:                   "partner-1",
		Name:                 "Acme",
		Tier:                 interfaces.TierBasic,
		RequestLimitOverride: override,
		CreatedAt:            now,
		UpdatedAt:            now,
	}))
	require.NoError(t, f.store.Tiers().Upsert(ctx, &interfaces.TierPlan{
		Name:         interfaces.TierBasic,
		RequestLimit: limit,
		Features:     []string{routeconfig.ScopeFaucetCheckEVM},
	}))

	issued, err := f.keys.Issue(ctx, keymanager.IssueInput{
		PartnerID: "partner-1",
		Env:       interfaces.EnvLive,
		Type:      interfaces.TypeFaucet,
		Scopes:    scopes,
	})
	require.NoError(t, err)
	return issued.Plaintext
}

func TestVerifyAccessGranted(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 10, nil, []string{routeconfig.ScopeFaucetClaim})

	result, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: bearer,
		Route:  "/api/faucet/faucet-claim",
		Method: "POST",
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "partner-1", result.Partner.ID)
	assert.Equal(t, routeconfig.ScopeFaucetClaim, result.Scope)
	assert.EqualValues(t, 10, result.EffectiveLimit)
	assert.EqualValues(t, 60, result.WindowSeconds)
}

func TestVerifyAccessUnknownRoute(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 10, nil, []string{routeconfig.ScopeFaucetClaim})

	_, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: bearer,
		Route:  "/api/unknown",
	})
	assert.ErrorIs(t, err, interfaces.ErrUnrecognizedRoute)
}

func TestVerifyAccessScopeFromTierFeatures(t *testing.T) {
	f := newFixture(t)
	// The key has no explicit scopes; the BASIC plan grants check-EVM.
	bearer := f.seedPartner(t, 10, nil, nil)

	result, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: bearer,
		Route:  "/api/faucet/check-EVM",
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestVerifyAccessInsufficientScope(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 10, nil, nil)

	_, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: bearer,
		Route:  "/api/passport/score",
	})
	assert.ErrorIs(t, err, interfaces.ErrInsufficientScope)
}

func TestVerifyAccessRateLimit(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 3, nil, []string{routeconfig.ScopeFaucetClaim})
	input := Input{Bearer: bearer, Route: "/api/faucet/faucet-claim"}

	for i := 0; i < 3; i++ {
		_, err := f.gw.VerifyAccess(context.Background(), input)
		require.NoError(t, err, "request %d within limit", i+1)
	}

	_, err := f.gw.VerifyAccess(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.EqualValues(t, 3, rle.Limit)
	assert.EqualValues(t, 60, rle.WindowSeconds)
	assert.Equal(t, "/api/faucet/faucet-claim", rle.Route)
}

func TestVerifyAccessOverLimitAttemptsStayCounted(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 1, nil, []string{routeconfig.ScopeFaucetClaim})
	input := Input{Bearer: bearer, Route: "/api/faucet/faucet-claim"}

	_, err := f.gw.VerifyAccess(context.Background(), input)
	require.NoError(t, err)
	_, err = f.gw.VerifyAccess(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)
	_, err = f.gw.VerifyAccess(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)

	// Rejected attempts were paid for: one 200 and two 429 audit rows.
	logs := f.store.RequestLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, 200, logs[0].StatusCode)
	assert.Equal(t, 429, logs[1].StatusCode)
	assert.Equal(t, 429, logs[2].StatusCode)
}

func TestVerifyAccessLimitOverride(t *testing.T) {
	f := newFixture(t)
	override := int64(1)
	bearer := f.seedPartner(t, 100, &override, []string{routeconfig.ScopeFaucetClaim})
	input := Input{Bearer: bearer, Route: "/api/faucet/faucet-claim"}

	_, err := f.gw.VerifyAccess(context.Background(), input)
	require.NoError(t, err)
	_, err = f.gw.VerifyAccess(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)
}

func TestVerifyAccessNoAllowance(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 0, nil, []string{routeconfig.ScopeFaucetClaim})

	_, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: bearer,
		Route:  "/api/faucet/faucet-claim",
	})
	assert.ErrorIs(t, err, interfaces.ErrNoAllowance)
}

func TestVerifyAccessZeroCostRouteNeverLimits(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 1, nil, []string{routeconfig.ScopeAutoFaucetDrip})
	input := Input{Bearer: bearer, Route: "/api/autofaucet/finalize"}

	for i := 0; i < 5; i++ {
		_, err := f.gw.VerifyAccess(context.Background(), input)
		require.NoError(t, err)
	}
}

func TestVerifyAccessWindowRollover(t *testing.T) {
	f := newFixture(t)
	bearer := f.seedPartner(t, 1, nil, []string{routeconfig.ScopeFaucetClaim})
	input := Input{Bearer: bearer, Route: "/api/faucet/faucet-claim"}

	base := time.Unix(1_700_000_040, 0)
	early := f.gw.WithClock(func() time.Time { return base })
	_, err := early.VerifyAccess(context.Background(), input)
	require.NoError(t, err)
	_, err = early.VerifyAccess(context.Background(), input)
	assert.ErrorIs(t, err, interfaces.ErrRateLimitExceeded)

	// The next window starts fresh.
	late := f.gw.WithClock(func() time.Time { return base.Add(time.Minute) })
	_, err = late.VerifyAccess(context.Background(), input)
	require.NoError(t, err)
}

func TestVerifyAccessBadBearer(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 10, nil, []string{routeconfig.ScopeFaucetClaim})

	_, err := f.gw.VerifyAccess(context.Background(), Input{
		Bearer: "not-a-key",
		Route:  "/api/faucet/faucet-claim",
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyFormat)
}
