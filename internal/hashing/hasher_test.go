package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher(pepper string) *Hasher {
	return NewHasherWithParams(Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}, []byte(pepper))
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashPassword("longenough1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := h.VerifyPassword("longenough1", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong-password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher("pepper")

	a, err := h.HashPassword("same-password")
	require.NoError(t, err)
	b, err := h.HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPepperIsPartOfTheHash(t *testing.T) {
	encoded, err := testHasher("pepper-one").HashPassword("longenough1")
	require.NoError(t, err)

	ok, err := testHasher("pepper-two").VerifyPassword("longenough1", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := testHasher("pepper")

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	} {
		_, err := h.VerifyPassword("pw", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, encoded)
	}

	_, err := h.VerifyPassword("pw", "$argon2id$v=16$m=8192,t=1,p=1$c2FsdA$aGFzaA")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher("pepper")
	encoded, err := weak.HashPassword("longenough1")
	require.NoError(t, err)

	assert.False(t, weak.NeedsRehash(encoded))

	strong := NewHasherWithParams(Argon2Params{
		Memory: 16 * 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, []byte("pepper"))
	assert.True(t, strong.NeedsRehash(encoded))
	assert.True(t, strong.NeedsRehash("garbage"))
}

func TestDigestIsScopedByPurpose(t *testing.T) {
	h := testHasher("pepper")

	otp := h.Digest(PurposeOTP, "123456")
	assert.Len(t, otp, 64)
	assert.Equal(t, otp, h.Digest(PurposeOTP, "123456"))
	assert.NotEqual(t, otp, h.Digest(PurposeResetToken, "123456"))
	assert.NotEqual(t, otp, testHasher("other").Digest(PurposeOTP, "123456"))

	assert.True(t, DigestEqual(otp, h.Digest(PurposeOTP, "123456")))
	assert.False(t, DigestEqual(otp, h.Digest(PurposeOTP, "654321")))
}
