package otp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/otp/otptest"
)

func TestMemoryStoreContract(t *testing.T) {
	otptest.RunStoreContract(t, func(t *testing.T) otp.Store {
		return otp.NewMemoryStore()
	})
}

func TestGenerateCodeRange(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := otp.GenerateCode()
		require.NoError(t, err)
		require.NoError(t, otp.ValidateCode(code))
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}

func TestValidateCode(t *testing.T) {
	assert.NoError(t, otp.ValidateCode("123456"))
	assert.ErrorIs(t, otp.ValidateCode("12345"), otp.ErrMalformedCode)
	assert.ErrorIs(t, otp.ValidateCode("１２３４５６"), otp.ErrMalformedCode)
	assert.ErrorIs(t, otp.ValidateCode("abcdef"), otp.ErrMalformedCode)
}

func TestCooldownErrorUnwraps(t *testing.T) {
	err := error(&otp.CooldownError{RetryAfter: 12 * time.Second})
	assert.True(t, errors.Is(err, otp.ErrCooldown))
	assert.Contains(t, err.Error(), "12s")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", otp.OutcomeOK.String())
	assert.Equal(t, "exhausted", otp.OutcomeExhausted.String())
	assert.Equal(t, "not_found", otp.OutcomeNotFound.String())
}
