// Package otptest holds the behavioural suite every otp.Store must pass.
package otptest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/util"
)

const email = "a@b.com"

// never issued: generated codes start at 100000
const wrongCode = "000000"

type harness struct {
	engine *otp.Engine
	clock  *util.FakeClock
}

func newHarness(t *testing.T, store otp.Store) harness {
	t.Helper()

	clock := util.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	digester := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, []byte("test-pepper"))

	engine := otp.NewEngine(store, digester, clock, otp.Config{
		TTL:            10 * time.Minute,
		MaxAttempts:    3,
		ResendCooldown: 30 * time.Second,
	}, nil)
	return harness{engine: engine, clock: clock}
}

// RunStoreContract drives an Engine over stores built by newStore.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) otp.Store) {
	ctx := context.Background()

	t.Run("correct code verifies once", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)
		require.NoError(t, otp.ValidateCode(issued.Code))
		assert.Equal(t, h.clock.Now().Add(10*time.Minute), issued.ExpiresAt)

		res, err := h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)

		res, err = h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeNotFound, res.Outcome)
	})

	t.Run("three mismatches exhaust the challenge", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		res, err := h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)
		assert.Equal(t, otp.Result{Outcome: otp.OutcomeMismatch, Remaining: 2}, res)

		res, err = h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)
		assert.Equal(t, otp.Result{Outcome: otp.OutcomeMismatch, Remaining: 1}, res)

		res, err = h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeExhausted, res.Outcome)

		// the fourth attempt finds nothing, even with the right code
		res, err = h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeNotFound, res.Outcome)
	})

	t.Run("mismatch then correct code succeeds", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		res, err := h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)

		res, err = h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("expired code is rejected and cleared", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		h.clock.Advance(10*time.Minute + time.Second)

		res, err := h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeExpired, res.Outcome)

		res, err = h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeNotFound, res.Outcome)
	})

	t.Run("code is valid up to the expiry instant", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		h.clock.Advance(10 * time.Minute)

		res, err := h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("reissue supersedes the earlier code and resets attempts", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		first, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)
		_, err = h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)

		second, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		if first.Code != second.Code {
			res, err := h.engine.Verify(ctx, email, first.Code)
			require.NoError(t, err)
			assert.Equal(t, otp.Result{Outcome: otp.OutcomeMismatch, Remaining: 2}, res)
		}

		res, err := h.engine.Verify(ctx, email, second.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("malformed code does not consume an attempt", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		for _, bad := range []string{"", "12345", "1234567", "12a456", " 12345"} {
			_, err := h.engine.Verify(ctx, email, bad)
			assert.ErrorIs(t, err, otp.ErrMalformedCode, bad)
		}

		res, err := h.engine.Verify(ctx, email, wrongCode)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)

		res, err = h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("challenges are per email", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		a, err := h.engine.Issue(ctx, "a@b.com")
		require.NoError(t, err)
		_, err = h.engine.Issue(ctx, "c@d.com")
		require.NoError(t, err)

		res, err := h.engine.Verify(ctx, "c@d.com", wrongCode)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeMismatch, res.Outcome)

		res, err = h.engine.Verify(ctx, "a@b.com", a.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("resend honours the cooldown", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		_, err := h.engine.Resend(ctx, email)
		require.NoError(t, err)

		h.clock.Advance(10 * time.Second)
		_, err = h.engine.Resend(ctx, email)
		require.Error(t, err)
		assert.ErrorIs(t, err, otp.ErrCooldown)

		var cooldown *otp.CooldownError
		require.True(t, errors.As(err, &cooldown))
		assert.Equal(t, 20*time.Second, cooldown.RetryAfter)

		h.clock.Advance(21 * time.Second)
		issued, err := h.engine.Resend(ctx, email)
		require.NoError(t, err)

		res, err := h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeOK, res.Outcome)
	})

	t.Run("issue starts the cooldown", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		_, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)

		_, err = h.engine.Resend(ctx, email)
		assert.ErrorIs(t, err, otp.ErrCooldown)
	})

	t.Run("clear removes the challenge", func(t *testing.T) {
		h := newHarness(t, newStore(t))

		issued, err := h.engine.Issue(ctx, email)
		require.NoError(t, err)
		require.NoError(t, h.engine.Clear(ctx, email))

		res, err := h.engine.Verify(ctx, email, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeNotFound, res.Outcome)
	})
}
