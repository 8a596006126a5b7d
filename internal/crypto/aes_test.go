package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	k1, err := DeriveKey("secret")
	require.NoError(t, err)
	k2, err := DeriveKey("secret")
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("other")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestSealOpenString(t *testing.T) {
	key, err := DeriveKey("secret")
	require.NoError(t, err)

	sealed, err := SealString("sk-upstream", key)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "sk-upstream")

	// 已加密的值不会被二次加密
	again, err := SealString(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, sealed, again)

	plain, err := OpenString(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "sk-upstream", plain)

	_, err = OpenString(sealed, nil)
	assert.ErrorIs(t, err, ErrEncryptionKeyNotSet)
}

func TestSealStringWithoutKey(t *testing.T) {
	v, err := SealString("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = OpenString("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", v)
}

func TestGenerateAPIKey(t *testing.T) {
	k, err := GenerateAPIKey("sk-audit-", 32)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k, "sk-audit-"))
	assert.Len(t, k, len("sk-audit-")+32)
	for _, c := range strings.TrimPrefix(k, "sk-audit-") {
		assert.True(t, strings.ContainsRune(apiKeyAlphabet, c))
	}

	k2, err := GenerateAPIKey("sk-audit-", 32)
	require.NoError(t, err)
	assert.NotEqual(t, k, k2)
}
