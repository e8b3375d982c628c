package scylla

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

func TestInsertBindsEveryColumn(t *testing.T) {
	st := newStatements()
	columns := strings.Count(accountColumns, ",") + 1
	assert.Equal(t, columns, strings.Count(st.InsertAccount, "?"))
}

func TestClaimsUseLightweightTransactions(t *testing.T) {
	st := newStatements()
	assert.True(t, strings.HasSuffix(st.ClaimEmail, "IF NOT EXISTS"))
	assert.True(t, strings.HasSuffix(st.ClaimUsername, "IF NOT EXISTS"))
	assert.Contains(t, st.ReleaseEmail, "IF account_id = ?")
	assert.Contains(t, st.ReleaseUsername, "IF account_id = ?")
	assert.Contains(t, st.InsertResetIndex, "USING TTL ?")
}

func TestUsernameKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, usernameKey("Alice"), usernameKey("alice"))
}

func TestNullableTime(t *testing.T) {
	assert.Nil(t, nullableTime(nil))

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, nullableTime(&ts))
}

func TestSchemaCoversLookupTables(t *testing.T) {
	joined := strings.Join(schema, "\n")
	for _, table := range []string{"accounts", "accounts_by_email", "accounts_by_username", "accounts_by_reset_token"} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

type prefixEncryptor struct{}

func (prefixEncryptor) EncryptString(_ context.Context, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return "enc:" + s, nil
}

func (prefixEncryptor) DecryptString(_ context.Context, s string) (string, error) {
	return strings.TrimPrefix(s, "enc:"), nil
}

func newTestRepository(t *testing.T) (*AccountRepository, *fakeCQL, *util.FakeClock) {
	t.Helper()
	db := newFakeCQL()
	clock := util.NewFakeClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewAccountRepository(db, prefixEncryptor{}, clock, zap.NewNop()), db, clock
}

func newAccount(email, username string) *models.Account {
	return &models.Account{
		Email:         email,
		Username:      username,
		PasswordHash:  "argon-hash",
		EmailVerified: true,
		Role:          models.RoleUser,
		IsActive:      true,
		Phone:         "+15550100",
	}
}

func TestCreateAndLoadByProjection(t *testing.T) {
	repo, db, _ := newTestRepository(t)
	ctx := context.Background()

	acct := newAccount("a@b.com", "Alice")
	require.NoError(t, repo.Create(ctx, acct))
	require.NotEmpty(t, acct.ID)
	assert.Equal(t, "enc:+15550100", db.column("accounts", acct.ID, "phone_encrypted"))

	pub, err := repo.FindByEmail(ctx, "a@b.com", repository.Public)
	require.NoError(t, err)
	assert.Empty(t, pub.PasswordHash)
	assert.Equal(t, "+15550100", pub.Phone)
	assert.NotContains(t, db.lastSelect(), "password_hash")
	assert.NotContains(t, db.lastSelect(), "reset_token_hash")

	withPw, err := repo.FindByUsername(ctx, "ALICE", repository.WithPassword)
	require.NoError(t, err)
	assert.Equal(t, "argon-hash", withPw.PasswordHash)
	assert.Contains(t, db.lastSelect(), "password_hash")

	_, err = repo.FindByID(ctx, "missing", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAccount("a@b.com", "alice")))
	err := repo.Create(ctx, newAccount("a@b.com", "other"))
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)
}

func TestCreateReleasesEmailWhenUsernameTaken(t *testing.T) {
	repo, db, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAccount("a@b.com", "alice")))

	err := repo.Create(ctx, newAccount("c@d.com", "Alice"))
	assert.ErrorIs(t, err, repository.ErrDuplicateUsername)
	assert.False(t, db.has("accounts_by_email", "c@d.com"))

	require.NoError(t, repo.Create(ctx, newAccount("c@d.com", "carol")))
}

func TestCreateReleasesEmailWhenUsernameClaimFails(t *testing.T) {
	repo, db, _ := newTestRepository(t)
	db.failOn[newStatements().ClaimUsername] = errors.New("timeout")

	err := repo.Create(context.Background(), newAccount("a@b.com", "alice"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicateUsername)
	assert.False(t, db.has("accounts_by_email", "a@b.com"))
}

func TestCreateReleasesClaimsWhenInsertFails(t *testing.T) {
	repo, db, _ := newTestRepository(t)
	ctx := context.Background()
	insert := newStatements().InsertAccount
	db.failOn[insert] = errors.New("write timeout")

	require.Error(t, repo.Create(ctx, newAccount("a@b.com", "alice")))
	assert.False(t, db.has("accounts_by_email", "a@b.com"))
	assert.False(t, db.has("accounts_by_username", "alice"))

	delete(db.failOn, insert)
	require.NoError(t, repo.Create(ctx, newAccount("a@b.com", "alice")))
}

func TestSaveUnknownAccountIsNotFound(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	acct := newAccount("a@b.com", "alice")
	acct.ID = "ghost"

	err := repo.Save(context.Background(), acct, repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSaveOnlyWritesRequestedSecrets(t *testing.T) {
	repo, db, _ := newTestRepository(t)
	ctx := context.Background()
	acct := newAccount("a@b.com", "alice")
	require.NoError(t, repo.Create(ctx, acct))

	pub, err := repo.FindByID(ctx, acct.ID, repository.Public)
	require.NoError(t, err)
	pub.FirstName = "Ada"
	require.NoError(t, repo.Save(ctx, pub, repository.Public))

	assert.Equal(t, "argon-hash", db.column("accounts", acct.ID, "password_hash"))
	assert.Equal(t, "Ada", db.column("accounts", acct.ID, "first_name"))
}

func setReset(t *testing.T, repo *AccountRepository, clock *util.FakeClock, id, hash string) {
	t.Helper()
	ctx := context.Background()
	acct, err := repo.FindByID(ctx, id, repository.WithReset)
	require.NoError(t, err)
	if hash == "" {
		acct.ClearReset()
	} else {
		exp := clock.Now().Add(time.Hour)
		acct.ResetTokenHash = hash
		acct.ResetExpiresAt = &exp
	}
	require.NoError(t, repo.Save(ctx, acct, repository.WithReset))
}

func TestNewResetChallengeReplacesIndex(t *testing.T) {
	repo, db, clock := newTestRepository(t)
	ctx := context.Background()
	acct := newAccount("a@b.com", "alice")
	require.NoError(t, repo.Create(ctx, acct))

	setReset(t, repo, clock, acct.ID, "digest-1")
	found, err := repo.FindByResetToken(ctx, "digest-1", repository.Public)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, found.ID)
	assert.Empty(t, found.ResetTokenHash)

	setReset(t, repo, clock, acct.ID, "digest-2")
	assert.False(t, db.has("accounts_by_reset_token", "digest-1"))
	assert.True(t, db.has("accounts_by_reset_token", "digest-2"))

	_, err = repo.FindByResetToken(ctx, "digest-1", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	found, err = repo.FindByResetToken(ctx, "digest-2", repository.WithReset)
	require.NoError(t, err)
	assert.Equal(t, "digest-2", found.ResetTokenHash)
	require.NotNil(t, found.ResetExpiresAt)
	assert.Equal(t, clock.Now().Add(time.Hour), *found.ResetExpiresAt)
}

func TestStaleResetIndexRowIsRejected(t *testing.T) {
	repo, db, clock := newTestRepository(t)
	ctx := context.Background()
	acct := newAccount("a@b.com", "alice")
	require.NoError(t, repo.Create(ctx, acct))

	setReset(t, repo, clock, acct.ID, "digest-1")
	db.failOn[newStatements().DeleteResetIndex] = errors.New("unavailable")
	setReset(t, repo, clock, acct.ID, "digest-2")

	// the old index row survived but no longer matches the account
	require.True(t, db.has("accounts_by_reset_token", "digest-1"))
	_, err := repo.FindByResetToken(ctx, "digest-1", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	delete(db.failOn, newStatements().DeleteResetIndex)
	setReset(t, repo, clock, acct.ID, "")
	assert.False(t, db.has("accounts_by_reset_token", "digest-2"))
	_, err = repo.FindByResetToken(ctx, "digest-2", repository.Public)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
