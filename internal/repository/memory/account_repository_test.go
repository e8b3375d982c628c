package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

func newAccount(email, username string) *models.Account {
	return &models.Account{
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$hash",
		Role:         models.RoleUser,
		IsActive:     true,
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(util.NewFakeClock(time.Unix(1_700_000_000, 0)))

	acc := newAccount("a@b.com", "alice")
	require.NoError(t, repo.Create(ctx, acc))
	assert.NotEmpty(t, acc.ID)

	byEmail, err := repo.FindByEmail(ctx, "a@b.com", repository.Public)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byEmail.ID)
	assert.Empty(t, byEmail.PasswordHash)

	withPw, err := repo.FindByID(ctx, acc.ID, repository.WithPassword)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$hash", withPw.PasswordHash)

	byName, err := repo.FindByUsername(ctx, "ALICE", repository.Public)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byName.ID)

	_, err = repo.FindByEmail(ctx, "nobody@b.com", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(nil)

	require.NoError(t, repo.Create(ctx, newAccount("a@b.com", "alice")))

	err := repo.Create(ctx, newAccount("a@b.com", "bob"))
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	err = repo.Create(ctx, newAccount("c@d.com", "Alice"))
	assert.ErrorIs(t, err, repository.ErrDuplicateUsername)

	assert.Equal(t, 1, repo.Len())
}

func TestSaveHonoursProjection(t *testing.T) {
	ctx := context.Background()
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	repo := NewAccountRepository(clock)

	acc := newAccount("a@b.com", "alice")
	require.NoError(t, repo.Create(ctx, acc))

	expires := clock.Now().Add(time.Hour)
	withReset, err := repo.FindByID(ctx, acc.ID, repository.WithReset)
	require.NoError(t, err)
	withReset.ResetTokenHash = "digest"
	withReset.ResetExpiresAt = &expires
	require.NoError(t, repo.Save(ctx, withReset, repository.WithReset))

	// a public-projection save must not wipe the password or the reset
	public, err := repo.FindByID(ctx, acc.ID, repository.Public)
	require.NoError(t, err)
	public.FirstName = "Ada"
	require.NoError(t, repo.Save(ctx, public, repository.Public))

	full, err := repo.FindByResetToken(ctx, "digest", repository.WithPassword|repository.WithReset)
	require.NoError(t, err)
	assert.Equal(t, "Ada", full.FirstName)
	assert.Equal(t, "$argon2id$hash", full.PasswordHash)
	require.NotNil(t, full.ResetExpiresAt)
	assert.True(t, expires.Equal(*full.ResetExpiresAt))

	full.ClearReset()
	require.NoError(t, repo.Save(ctx, full, repository.WithReset))
	_, err = repo.FindByResetToken(ctx, "digest", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSaveUnknownAccount(t *testing.T) {
	repo := NewAccountRepository(nil)
	err := repo.Save(context.Background(), &models.Account{ID: "missing"}, repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(nil)

	acc := newAccount("a@b.com", "alice")
	acc.AreasOfInterest = []string{"go"}
	require.NoError(t, repo.Create(ctx, acc))

	got, err := repo.FindByID(ctx, acc.ID, repository.Public)
	require.NoError(t, err)
	got.AreasOfInterest[0] = "mutated"

	again, err := repo.FindByID(ctx, acc.ID, repository.Public)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, again.AreasOfInterest)
}
