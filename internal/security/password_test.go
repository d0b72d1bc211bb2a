package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	passwords := []string{"secret1", "correct horse battery staple", "päßwörd", ""}

	for _, password := range passwords {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(hash), "$argon2id$v=19$"))
		assert.True(t, VerifyPassword(password, hash), "password %q should verify against its own hash", password)
		assert.False(t, VerifyPassword(password+"x", hash))
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	first, err := HashPassword("secret1")
	require.NoError(t, err)
	second, err := HashPassword("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two hashes of the same password must not share a salt")
	assert.True(t, VerifyPassword("secret1", first))
	assert.True(t, VerifyPassword("secret1", second))
}

func TestVerifyPasswordEmbeddedParams(t *testing.T) {
	// Verification must follow the parameters baked into the hash, not
	// the current defaults.
	params := Argon2Params{Time: 1, Memory: 16 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8}
	hash, err := HashPasswordWithParams("secret1", params)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("secret1", hash))
	assert.False(t, VerifyPassword("secret2", hash))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	malformed := [][]byte{
		nil,
		[]byte(""),
		[]byte("not-a-hash"),
		[]byte("$argon2id$v=19$"),
		[]byte("$argon2id$v=19$t=3,m=65536,p=2$!!!$!!!"),
		[]byte("$bcrypt$whatever"),
	}

	for _, hash := range malformed {
		assert.False(t, VerifyPassword("secret1", hash), "malformed hash %q must verify false", hash)
	}
}
