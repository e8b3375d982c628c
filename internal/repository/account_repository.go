package repository

import (
	"context"
	"errors"

	"otp-auth-service/internal/models"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

// Projection selects which secret fields a lookup returns. The zero value
// excludes the password hash and the reset challenge.
type Projection uint8

const (
	WithPassword Projection = 1 << iota
	WithReset

	Public Projection = 0
)

func (p Projection) Has(f Projection) bool { return p&f == f }

// Apply blanks out every secret field not requested by p.
func (p Projection) Apply(a *models.Account) {
	if !p.Has(WithPassword) {
		a.PasswordHash = ""
	}
	if !p.Has(WithReset) {
		a.ClearReset()
	}
}

// AccountRepository is the credential store. Emails are passed already
// normalised; implementations compare them exactly. Save writes secret
// fields only when the projection includes them.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	Save(ctx context.Context, account *models.Account, p Projection) error
	FindByID(ctx context.Context, id string, p Projection) (*models.Account, error)
	FindByEmail(ctx context.Context, email string, p Projection) (*models.Account, error)
	FindByUsername(ctx context.Context, username string, p Projection) (*models.Account, error)
	FindByResetToken(ctx context.Context, tokenHash string, p Projection) (*models.Account, error)
	HealthCheck(ctx context.Context) error
}
