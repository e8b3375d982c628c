package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

// FieldEncryptor seals personal fields before they reach the database.
type FieldEncryptor interface {
	EncryptString(ctx context.Context, plaintext string) (string, error)
	DecryptString(ctx context.Context, stored string) (string, error)
}

// BatchEntry is one statement of a logged batch.
type BatchEntry struct {
	Stmt   string
	Values []any
}

// CQL is the part of the Scylla session the account repository uses.
// *ScyllaClient implements it. Scan returns gocql.ErrNotFound for a
// missing row.
type CQL interface {
	Exec(ctx context.Context, stmt string, values ...any) error
	ExecCAS(ctx context.Context, stmt string, values ...any) (bool, error)
	ExecBatch(ctx context.Context, entries []BatchEntry) error
	Scan(ctx context.Context, stmt string, values []any, dest ...any) error
	HealthCheck(ctx context.Context) error
}

// AccountRepository stores accounts in Scylla. Email and username
// uniqueness is claimed with lightweight transactions on the lookup tables
// before the account row is written.
type AccountRepository struct {
	db        CQL
	st        Statements
	encryptor FieldEncryptor
	clock     util.Clock
	logger    *zap.Logger
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(db CQL, encryptor FieldEncryptor, clock util.Clock, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:        db,
		st:        newStatements(),
		encryptor: encryptor,
		clock:     clock,
		logger:    logger,
	}
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

// selectAccount reads the profile columns plus the secret columns p asks for.
func selectAccount(p repository.Projection) string {
	cols := profileColumns
	if p.Has(repository.WithPassword) {
		cols += `, password_hash`
	}
	if p.Has(repository.WithReset) {
		cols += `, reset_token_hash, reset_expires_at`
	}
	return `SELECT ` + cols + ` FROM accounts WHERE account_id = ?`
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	applied, err := r.db.ExecCAS(ctx, r.st.ClaimEmail, account.Email, account.ID)
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !applied {
		return repository.ErrDuplicateEmail
	}

	applied, err = r.db.ExecCAS(ctx, r.st.ClaimUsername, usernameKey(account.Username), account.ID)
	if err != nil || !applied {
		r.releaseEmail(ctx, account.Email, account.ID)
		if err != nil {
			return fmt.Errorf("claim username: %w", err)
		}
		return repository.ErrDuplicateUsername
	}

	phone, err := r.encryptor.EncryptString(ctx, account.Phone)
	if err != nil {
		r.releaseClaims(ctx, account)
		return fmt.Errorf("encrypt phone: %w", err)
	}

	now := r.clock.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	err = r.db.Exec(ctx, r.st.InsertAccount,
		account.ID, account.Email, account.Username, account.PasswordHash,
		account.EmailVerified, account.Role, account.IsActive,
		account.FirstName, account.LastName, phone, account.ProfileImage,
		account.AreasOfInterest, account.ResetTokenHash, nullableTime(account.ResetExpiresAt),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		r.releaseClaims(ctx, account)
		return fmt.Errorf("insert account: %w", err)
	}

	r.logger.Info("Account created",
		zap.String("account_id", account.ID),
		util.Email("email", account.Email))
	return nil
}

func (r *AccountRepository) releaseEmail(ctx context.Context, email, id string) {
	if _, err := r.db.ExecCAS(ctx, r.st.ReleaseEmail, email, id); err != nil {
		r.logger.Error("Failed to release email claim", util.Email("email", email), zap.Error(err))
	}
}

func (r *AccountRepository) releaseClaims(ctx context.Context, account *models.Account) {
	r.releaseEmail(ctx, account.Email, account.ID)
	if _, err := r.db.ExecCAS(ctx, r.st.ReleaseUsername, usernameKey(account.Username), account.ID); err != nil {
		r.logger.Error("Failed to release username claim", zap.String("username", account.Username), zap.Error(err))
	}
}

// Save writes the profile columns, plus the password hash and reset
// challenge when p includes them.
func (r *AccountRepository) Save(ctx context.Context, account *models.Account, p repository.Projection) error {
	var currentReset string
	if err := r.db.Scan(ctx, r.st.SelectResetTokenFor, []any{account.ID}, &currentReset); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}

	phone, err := r.encryptor.EncryptString(ctx, account.Phone)
	if err != nil {
		return fmt.Errorf("encrypt phone: %w", err)
	}

	now := r.clock.Now()
	batch := []BatchEntry{{
		Stmt: r.st.UpdateProfile,
		Values: []any{
			account.EmailVerified, account.Role, account.IsActive, account.FirstName,
			account.LastName, phone, account.ProfileImage, account.AreasOfInterest, now,
			account.ID,
		},
	}}
	if p.Has(repository.WithPassword) {
		batch = append(batch, BatchEntry{Stmt: r.st.UpdatePassword, Values: []any{account.PasswordHash, account.ID}})
	}
	if p.Has(repository.WithReset) {
		batch = append(batch, BatchEntry{
			Stmt:   r.st.UpdateReset,
			Values: []any{account.ResetTokenHash, nullableTime(account.ResetExpiresAt), account.ID},
		})
	}
	if err := r.db.ExecBatch(ctx, batch); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	account.UpdatedAt = now

	if p.Has(repository.WithReset) {
		r.syncResetIndex(ctx, account, currentReset, now)
	}
	return nil
}

// syncResetIndex keeps the token lookup table pointing at the live
// challenge. Index rows expire with the challenge.
func (r *AccountRepository) syncResetIndex(ctx context.Context, account *models.Account, previous string, now time.Time) {
	if previous != "" && previous != account.ResetTokenHash {
		if err := r.db.Exec(ctx, r.st.DeleteResetIndex, previous); err != nil {
			r.logger.Warn("Failed to drop stale reset index", zap.String("account_id", account.ID), zap.Error(err))
		}
	}
	if account.ResetTokenHash == "" || account.ResetExpiresAt == nil {
		return
	}
	ttl := int(account.ResetExpiresAt.Sub(now) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	if err := r.db.Exec(ctx, r.st.InsertResetIndex, account.ResetTokenHash, account.ID, ttl); err != nil {
		r.logger.Error("Failed to index reset token", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (r *AccountRepository) FindByID(ctx context.Context, id string, p repository.Projection) (*models.Account, error) {
	return r.load(ctx, id, p)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string, p repository.Projection) (*models.Account, error) {
	id, err := r.lookup(ctx, r.st.SelectIDByEmail, email)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, id, p)
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string, p repository.Projection) (*models.Account, error) {
	id, err := r.lookup(ctx, r.st.SelectIDByUsername, usernameKey(username))
	if err != nil {
		return nil, err
	}
	return r.load(ctx, id, p)
}

func (r *AccountRepository) FindByResetToken(ctx context.Context, tokenHash string, p repository.Projection) (*models.Account, error) {
	id, err := r.lookup(ctx, r.st.SelectIDByReset, tokenHash)
	if err != nil {
		return nil, err
	}
	account, err := r.load(ctx, id, p|repository.WithReset)
	if err != nil {
		return nil, err
	}
	// The index row can outlive a consumed or replaced challenge.
	if account.ResetTokenHash != tokenHash {
		return nil, repository.ErrNotFound
	}
	p.Apply(account)
	return account, nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *AccountRepository) lookup(ctx context.Context, stmt, key string) (string, error) {
	var id string
	if err := r.db.Scan(ctx, stmt, []any{key}, &id); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("lookup account: %w", err)
	}
	return id, nil
}

func (r *AccountRepository) load(ctx context.Context, id string, p repository.Projection) (*models.Account, error) {
	var (
		a            models.Account
		phone        string
		resetExpires time.Time
	)
	dest := []any{
		&a.ID, &a.Email, &a.Username, &a.EmailVerified, &a.Role, &a.IsActive,
		&a.FirstName, &a.LastName, &phone, &a.ProfileImage, &a.AreasOfInterest,
		&a.CreatedAt, &a.UpdatedAt,
	}
	if p.Has(repository.WithPassword) {
		dest = append(dest, &a.PasswordHash)
	}
	if p.Has(repository.WithReset) {
		dest = append(dest, &a.ResetTokenHash, &resetExpires)
	}

	if err := r.db.Scan(ctx, selectAccount(p), []any{id}, dest...); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		r.logger.Error("Failed to load account", zap.String("account_id", id), zap.Error(err))
		return nil, fmt.Errorf("load account: %w", err)
	}

	var err error
	if a.Phone, err = r.encryptor.DecryptString(ctx, phone); err != nil {
		return nil, fmt.Errorf("decrypt phone: %w", err)
	}
	if !resetExpires.IsZero() {
		t := resetExpires.UTC()
		a.ResetExpiresAt = &t
	}
	return &a, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
