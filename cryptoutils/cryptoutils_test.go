package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArgon2Params = Argon2Params{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

func TestAEADRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)
	aad := []byte("partner-1|LIVE|FAUCET|abc123")

	ct, nonce, tag, err := AEADEncrypt([]byte("pk_live_faucet_abc_secret"), key, aad)
	require.NoError(t, err)
	assert.Len(t, nonce, 12)
	assert.Len(t, tag, 16)

	plaintext, err := AEADDecrypt(ct, nonce, tag, key, aad)
	require.NoError(t, err)
	assert.Equal(t, "pk_live_faucet_abc_secret", string(plaintext))
}

func TestAEADRejectsModifiedAAD(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)

	ct, nonce, tag, err := AEADEncrypt([]byte("secret"), key, []byte("context-a"))
	require.NoError(t, err)

	_, err = AEADDecrypt(ct, nonce, tag, key, []byte("context-b"))
	assert.Error(t, err)
}

func TestAEADRejectsModifiedTag(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)

	ct, nonce, tag, err := AEADEncrypt([]byte("secret"), key, nil)
	require.NoError(t, err)
	tag[0] ^= 0xff

	_, err = AEADDecrypt(ct, nonce, tag, key, nil)
	assert.Error(t, err)
}

func TestAEADRejectsWrongKey(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)
	other, err := RandomBytes(32)
	require.NoError(t, err)

	ct, nonce, tag, err := AEADEncrypt([]byte("secret"), key, nil)
	require.NoError(t, err)

	_, err = AEADDecrypt(ct, nonce, tag, other, nil)
	assert.Error(t, err)
}

func TestHashSecretPHCShape(t *testing.T) {
	phc, err := HashSecret(testArgon2Params, "pk_test_faucet_pfx_secret")
	require.NoError(t, err)
	assert.Contains(t, phc, "$argon2id$v=19$m=8192,t=1,p=1$")
}

func TestVerifySecret(t *testing.T) {
	phc, err := HashSecret(testArgon2Params, "the-secret")
	require.NoError(t, err)

	assert.True(t, VerifySecret("the-secret", phc))
	assert.False(t, VerifySecret("not-the-secret", phc))
	assert.False(t, VerifySecret("the-secret", "$argon2id$garbage"))
	assert.False(t, VerifySecret("the-secret", ""))
}

func TestHashSecretSaltsDiffer(t *testing.T) {
	a, err := HashSecret(testArgon2Params, "same")
	require.NoError(t, err)
	b, err := HashSecret(testArgon2Params, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRandomTokenURLSafe(t *testing.T) {
	tok, err := RandomToken(32)
	require.NoError(t, err)
	assert.NotContains(t, tok, "+")
	assert.NotContains(t, tok, "/")
	assert.NotContains(t, tok, "=")
}

func TestRandomHex(t *testing.T) {
	tok, err := RandomHex(6)
	require.NoError(t, err)
	assert.Len(t, tok, 12)
	assert.Regexp(t, "^[0-9a-f]+$", tok)
}
