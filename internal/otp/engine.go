package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/util"
)

const (
	CodeLength = 6
	codeMin    = 100000
	codeSpan   = 900000 // codes fall in [100000, 999999]

	DefaultTTL            = 10 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultResendCooldown = 30 * time.Second
)

var (
	ErrMalformedCode = errors.New("otp code must be exactly 6 digits")
	ErrCooldown      = errors.New("otp resend cooldown active")
)

// CooldownError is returned by Resend inside the cooldown window.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrCooldown, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// Outcome is the verdict of a single verification attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeExpired
	OutcomeMismatch
	OutcomeExhausted
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeExpired:
		return "expired"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	// Remaining is the number of attempts left after a mismatch.
	Remaining int
}

// Challenge is the stored state for one email. Only the digest of the code
// is kept.
type Challenge struct {
	Email       string
	CodeDigest  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// Issued is handed to the caller for delivery. Code is the only plaintext copy.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Store persists at most one challenge per email. Verify must apply the
// compare, the attempt increment and the clear as one atomic step.
type Store interface {
	// Put replaces any challenge for ch.Email and starts its resend cooldown.
	Put(ctx context.Context, ch Challenge, cooldown time.Duration) error
	Verify(ctx context.Context, email, digest string, now time.Time) (Result, error)
	Delete(ctx context.Context, email string) error
	// ClaimCooldown returns 0 and records an issuance at now when the
	// previous one is older than cooldown; otherwise the time left.
	ClaimCooldown(ctx context.Context, email string, cooldown time.Duration, now time.Time) (time.Duration, error)
}

// Digester derives keyed digests; *hashing.Hasher satisfies it.
type Digester interface {
	Digest(purpose, value string) string
}

type Config struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ResendCooldown < 0 {
		c.ResendCooldown = 0
	}
	return c
}

// Engine issues and verifies one-time codes. Emails must already be normalised.
type Engine struct {
	store    Store
	digester Digester
	clock    util.Clock
	cfg      Config
	logger   *zap.Logger
	random   func() (string, error)
}

func NewEngine(store Store, digester Digester, clock util.Clock, cfg Config, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		digester: digester,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		random:   GenerateCode,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// GenerateCode draws a uniform code from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// ValidateCode accepts exactly six ASCII digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrMalformedCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrMalformedCode
		}
	}
	return nil
}

func (e *Engine) digest(email, code string) string {
	return e.digester.Digest(hashing.PurposeOTP, email+":"+code)
}

// Issue creates a fresh challenge, superseding any earlier code for email.
func (e *Engine) Issue(ctx context.Context, email string) (*Issued, error) {
	code, err := e.random()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	ch := Challenge{
		Email:       email,
		CodeDigest:  e.digest(email, code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.cfg.TTL),
		Attempts:    0,
		MaxAttempts: e.cfg.MaxAttempts,
	}
	if err := e.store.Put(ctx, ch, e.cfg.ResendCooldown); err != nil {
		return nil, fmt.Errorf("failed to store otp challenge: %w", err)
	}

	e.logger.Debug("OTP challenge issued",
		util.Email("email", email),
		util.Time("expires_at", ch.ExpiresAt),
	)
	return &Issued{Code: code, ExpiresAt: ch.ExpiresAt}, nil
}

// Resend is Issue guarded by the per-email cooldown.
func (e *Engine) Resend(ctx context.Context, email string) (*Issued, error) {
	if e.cfg.ResendCooldown > 0 {
		wait, err := e.store.ClaimCooldown(ctx, email, e.cfg.ResendCooldown, e.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to check otp cooldown: %w", err)
		}
		if wait > 0 {
			return nil, &CooldownError{RetryAfter: wait}
		}
	}
	return e.Issue(ctx, email)
}

// Verify checks code against the active challenge. A malformed code is
// rejected without consuming an attempt.
func (e *Engine) Verify(ctx context.Context, email, code string) (Result, error) {
	if err := ValidateCode(code); err != nil {
		return Result{}, err
	}

	res, err := e.store.Verify(ctx, email, e.digest(email, code), e.clock.Now())
	if err != nil {
		return Result{}, fmt.Errorf("failed to verify otp: %w", err)
	}

	e.logger.Debug("OTP verification",
		util.Email("email", email),
		util.String("outcome", res.Outcome.String()),
		util.Int("remaining", res.Remaining),
	)
	return res, nil
}

// Clear drops any active challenge for email.
func (e *Engine) Clear(ctx context.Context, email string) error {
	return e.store.Delete(ctx, email)
}
