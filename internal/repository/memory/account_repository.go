package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

// AccountRepository keeps accounts in process. It backs development runs and tests.
type AccountRepository struct {
	mu         sync.RWMutex
	byID       map[string]models.Account
	byEmail    map[string]string
	byUsername map[string]string
	byReset    map[string]string
	clock      util.Clock
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(clock util.Clock) *AccountRepository {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &AccountRepository{
		byID:       make(map[string]models.Account),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		byReset:    make(map[string]string),
		clock:      clock,
	}
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

func (r *AccountRepository) Create(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[account.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	if _, ok := r.byUsername[usernameKey(account.Username)]; ok {
		return repository.ErrDuplicateUsername
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := r.clock.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	r.byID[account.ID] = copyAccount(account)
	r.byEmail[account.Email] = account.ID
	r.byUsername[usernameKey(account.Username)] = account.ID
	if account.ResetTokenHash != "" {
		r.byReset[account.ResetTokenHash] = account.ID
	}
	return nil
}

// Save writes the public fields of account. Secret fields are written only
// when p includes them, so a caller holding a public projection cannot blank
// a password or a pending reset.
func (r *AccountRepository) Save(_ context.Context, account *models.Account, p repository.Projection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[account.ID]
	if !ok {
		return repository.ErrNotFound
	}

	next := copyAccount(account)
	next.Email = current.Email
	next.Username = current.Username
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = r.clock.Now()
	if !p.Has(repository.WithPassword) {
		next.PasswordHash = current.PasswordHash
	}
	if !p.Has(repository.WithReset) {
		next.ResetTokenHash = current.ResetTokenHash
		next.ResetExpiresAt = current.ResetExpiresAt
	}

	if current.ResetTokenHash != "" && current.ResetTokenHash != next.ResetTokenHash {
		delete(r.byReset, current.ResetTokenHash)
	}
	if next.ResetTokenHash != "" {
		r.byReset[next.ResetTokenHash] = next.ID
	}

	r.byID[next.ID] = next
	account.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *AccountRepository) FindByID(_ context.Context, id string, p repository.Projection) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.project(id, p)
}

func (r *AccountRepository) FindByEmail(_ context.Context, email string, p repository.Projection) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.project(id, p)
}

func (r *AccountRepository) FindByUsername(_ context.Context, username string, p repository.Projection) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[usernameKey(username)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.project(id, p)
}

func (r *AccountRepository) FindByResetToken(_ context.Context, tokenHash string, p repository.Projection) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReset[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.project(id, p)
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *AccountRepository) project(id string, p repository.Projection) (*models.Account, error) {
	stored, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyAccount(&stored)
	p.Apply(&out)
	return &out, nil
}

func copyAccount(a *models.Account) models.Account {
	out := *a
	if a.AreasOfInterest != nil {
		out.AreasOfInterest = append([]string(nil), a.AreasOfInterest...)
	}
	if a.ResetExpiresAt != nil {
		t := *a.ResetExpiresAt
		out.ResetExpiresAt = &t
	}
	return out
}
