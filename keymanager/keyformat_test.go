package keymanager

import (
	"testing"

	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeParseRoundTrip(t *testing.T) {
	plaintext := ComposePlaintextKey(interfaces.EnvLive, interfaces.TypeFaucet, "abc123", "s3cr3t")
	assert.Equal(t, "pk_live_faucet_abc123_s3cr3t", plaintext)

	parsed, err := ParsePlaintextKey(plaintext)
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvLive, parsed.Env)
	assert.Equal(t, interfaces.TypeFaucet, parsed.Type)
	assert.Equal(t, "abc123", parsed.Prefix)
	assert.Equal(t, "s3cr3t", parsed.Secret)
}

func TestParseRejoinsUnderscoredSecret(t *testing.T) {
	// base64url secrets can contain '_'; trailing segments belong to the
	// secret.
	parsed, err := ParsePlaintextKey("pk_test_hashpass_pfx_se_cr_et")
	require.NoError(t, err)
	assert.Equal(t, "pfx", parsed.Prefix)
	assert.Equal(t, "se_cr_et", parsed.Secret)
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	for _, bad := range []string{
		"",
		"pk_live_faucet_prefixonly",
		"sk_live_faucet_pfx_secret",
		"pk_prod_faucet_pfx_secret",
		"pk_live_widget_pfx_secret",
		"pk_live_faucet__secret",
		"not a key at all",
	} {
		_, err := ParsePlaintextKey(bad)
		assert.ErrorIs(t, err, interfaces.ErrInvalidKeyFormat, "input %q", bad)
	}
}

func TestParseIsCaseInsensitiveOnEnvAndType(t *testing.T) {
	parsed, err := ParsePlaintextKey("pk_LIVE_FAUCET_pfx_secret")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvLive, parsed.Env)
	assert.Equal(t, interfaces.TypeFaucet, parsed.Type)
}

func TestRedactKeyDisplay(t *testing.T) {
	display := RedactKeyDisplay("pk_live_faucet_abc123_supersecret")
	assert.Equal(t, "pk_live_faucet_abc123_•••••••••", display)
	assert.NotContains(t, display, "supersecret")
}

func TestRedactedFromRow(t *testing.T) {
	key := &interfaces.APIKey{Env: interfaces.EnvTest, Type: interfaces.TypeHashpass, Prefix: "pfx"}
	assert.Equal(t, "pk_test_hashpass_pfx_•••••••••", Redacted(key))
}
