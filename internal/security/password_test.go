package security

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastHasher() *PasswordHasher {
	return NewPasswordHasher(WithArgon2Params(1, 8*1024, 1))
}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	ph := fastHasher()

	hash, err := ph.Hash("pw123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"))
	assert.NotContains(t, hash, "pw123")

	ok, err := ph.Verify("pw123", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ph.Verify("pw124", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_SaltIsFreshPerCall(t *testing.T) {
	ph := fastHasher()

	first, err := ph.Hash("same-password")
	require.NoError(t, err)
	second, err := ph.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestPasswordHasher_VerifyBcrypt(t *testing.T) {
	ph := fastHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw123"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := ph.Verify("pw123", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ph.Verify("wrong", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_VerifyMalformed(t *testing.T) {
	ph := fastHasher()

	for _, hash := range []string{"", "plaintext", "$argon2id$v=19$broken", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"} {
		ok, err := ph.Verify("pw", hash)
		assert.Error(t, err, hash)
		assert.False(t, ok)
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	ph := fastHasher()

	current, err := ph.Hash("pw")
	require.NoError(t, err)
	assert.False(t, ph.NeedsRehash(current))

	stronger, err := NewPasswordHasher().Hash("pw")
	require.NoError(t, err)
	assert.True(t, ph.NeedsRehash(stronger))

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, ph.NeedsRehash(string(legacy)))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, TokenBytes*2)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
