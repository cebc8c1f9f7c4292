package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJTIConsumeExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.JTIs().Register(ctx, &interfaces.SecureTokenJTI{
		JTI:       "jti-1",
		ExpiresAt: now.Add(time.Minute),
		CreatedAt: now,
	}))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.JTIs().Consume(ctx, "jti-1", time.Now())
		}()
	}
	wg.Wait()
	close(results)

	succeeded, used := 0, 0
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case interfaces.ErrUsedJTI:
			used++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, used)
}

func TestJTIConsumeErrors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	assert.ErrorIs(t, store.JTIs().Consume(ctx, "nope", now), interfaces.ErrUnknownJTI)

	require.NoError(t, store.JTIs().Register(ctx, &interfaces.SecureTokenJTI{
		JTI:       "stale",
		ExpiresAt: now.Add(-time.Second),
		CreatedAt: now.Add(-time.Minute),
	}))
	assert.ErrorIs(t, store.JTIs().Consume(ctx, "stale", now), interfaces.ErrExpiredJTI)
}

func TestNonceSingleUse(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	row := &interfaces.LoginNonce{
		ID:        "n-1",
		Audience:  interfaces.NoncePartner,
		Kind:      interfaces.WalletEVM,
		AccountID: "0xabc",
		Nonce:     "partner:123:deadbeef",
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, store.Nonces().Create(ctx, row))

	found, err := store.Nonces().FindFresh(ctx, interfaces.NoncePartner, row.Nonce, now)
	require.NoError(t, err)
	assert.Equal(t, "n-1", found.ID)

	// Wrong audience never matches.
	_, err = store.Nonces().FindFresh(ctx, interfaces.NonceAdmin, row.Nonce, now)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.Nonces().Consume(ctx, "n-1", now))
	assert.ErrorIs(t, store.Nonces().Consume(ctx, "n-1", now), interfaces.ErrInvalidOrExpiredNonce)

	_, err = store.Nonces().FindFresh(ctx, interfaces.NoncePartner, row.Nonce, now)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestNonceExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Nonces().Create(ctx, &interfaces.LoginNonce{
		ID:        "n-2",
		Audience:  interfaces.NoncePartner,
		Nonce:     "partner:1:aa",
		ExpiresAt: now.Add(-time.Second),
		CreatedAt: now.Add(-time.Minute),
	}))
	_, err := store.Nonces().FindFresh(ctx, interfaces.NoncePartner, "partner:1:aa", now)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestIncrementWindowAccumulates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Truncate(time.Minute)
	key := interfaces.WindowKey{
		PartnerID:   "p-1",
		APIKeyID:    "k-1",
		Route:       "/api/faucet/faucet-claim",
		WindowStart: start,
		WindowEnd:   start.Add(time.Minute),
	}

	count, err := store.Usage().IncrementWindow(ctx, key, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = store.Usage().IncrementWindow(ctx, key, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	// A different window starts from zero.
	other := key
	other.WindowStart = start.Add(time.Minute)
	other.WindowEnd = start.Add(2 * time.Minute)
	count, err = store.Usage().IncrementWindow(ctx, other, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestIncrementWindowConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Truncate(time.Minute)
	key := interfaces.WindowKey{
		PartnerID:   "p-1",
		APIKeyID:    "k-1",
		Route:       "/api/passport/score",
		WindowStart: start,
		WindowEnd:   start.Add(time.Minute),
	}

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Usage().IncrementWindow(ctx, key, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := store.Usage().IncrementWindow(ctx, key, 0)
	require.NoError(t, err)
	assert.EqualValues(t, workers, count)
}

func TestAPIKeyPrefixUnique(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.APIKeys().Create(ctx, &interfaces.APIKey{ID: "a", Prefix: "pfx"}))
	err := store.APIKeys().Create(ctx, &interfaces.APIKey{ID: "b", Prefix: "pfx"})
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestFactorySelectsBackend(t *testing.T) {
	store, err := Factory(context.Background(), "memory://")
	require.NoError(t, err)
	require.NotNil(t, store)
	store.Close()

	_, err = Factory(context.Background(), "mysql://nope")
	assert.Error(t, err)
}
