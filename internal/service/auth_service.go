package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/token"
	"otp-auth-service/internal/util"
)

const resetTokenBytes = 32

// PasswordHasher is satisfied by *hashing.Hasher.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
	Digest(purpose, value string) string
}

// AuthConfig is the account policy the service enforces.
type AuthConfig struct {
	PasswordMinLength int
	ResetTokenTTL     time.Duration
	FrontendURL       string
}

func NewAuthConfig(cfg *config.Config) AuthConfig {
	return AuthConfig{
		PasswordMinLength: cfg.Auth.PasswordMinLength,
		ResetTokenTTL:     cfg.Auth.ResetTokenTTL,
		FrontendURL:       cfg.Auth.FrontendURL,
	}
}

type Dependencies struct {
	Accounts repository.AccountRepository
	OTP      *otp.Engine
	Tokens   *token.Issuer
	Hasher   PasswordHasher
	Mailer   *notify.Mailer
	Audit    *audit.Recorder
	Clock    util.Clock
	Logger   *zap.Logger
}

// Session is what a successful sign-in returns.
type Session struct {
	Account models.PublicProfile
	Tokens  *token.Pair
}

// OTPDispatch describes an issued code. Delivered is false when the
// notifier failed; the code is still valid.
type OTPDispatch struct {
	Email     string
	ExpiresAt time.Time
	Delivered bool
}

// AuthService orchestrates registration, password and OTP sign-in,
// password reset and the session lifecycle.
type AuthService struct {
	accounts  repository.AccountRepository
	otp       *otp.Engine
	tokens    *token.Issuer
	hasher    PasswordHasher
	mailer    *notify.Mailer
	audit     *audit.Recorder
	clock     util.Clock
	logger    *zap.Logger
	cfg       AuthConfig
	dummyHash string
}

func NewAuthService(deps Dependencies, cfg AuthConfig) *AuthService {
	if cfg.PasswordMinLength < 1 {
		cfg.PasswordMinLength = 8
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	clock := deps.Clock
	if clock == nil {
		clock = util.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AuthService{
		accounts: deps.Accounts,
		otp:      deps.OTP,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		mailer:   deps.Mailer,
		audit:    deps.Audit,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}

	// Unknown accounts still pay for one argon2 verification so login
	// timing does not reveal which emails are registered.
	if h, err := s.hasher.HashPassword(randomHex(16)); err == nil {
		s.dummyHash = h
	}
	return s
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest, meta RequestMeta) (*Session, error) {
	req.normalize()
	if err := req.validate(s.cfg.PasswordMinLength); err != nil {
		return nil, err
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &models.Account{
		Email:         req.Email,
		Username:      req.Username,
		PasswordHash:  hash,
		EmailVerified: true,
		Role:          models.RoleUser,
		IsActive:      true,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Phone:         req.Phone,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			s.record(meta, models.EventRegister, "", req.Email, false, map[string]interface{}{"reason": "email_taken"})
			return nil, newError(ErrEmailTaken, MsgEmailTaken)
		case errors.Is(err, repository.ErrDuplicateUsername):
			s.record(meta, models.EventRegister, "", req.Email, false, map[string]interface{}{"reason": "username_taken"})
			return nil, newError(ErrUsernameTaken, MsgUsernameTaken)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	pair, err := s.tokens.Mint(account.ID)
	if err != nil {
		return nil, err
	}

	if res := s.mailer.SendWelcome(ctx, account.Email, account.Username); !res.Success {
		s.deliveryFailed(meta, account, "welcome", res)
	}

	s.logger.Info("Account registered",
		util.String("account_id", account.ID),
		util.Email("email", account.Email),
	)
	s.record(meta, models.EventRegister, account.ID, account.Email, true, nil)

	account.PasswordHash = ""
	return &Session{Account: account.Public(), Tokens: pair}, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta RequestMeta) (*Session, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, invalid("Email and password are required")
	}
	email := util.NormalizeEmail(req.Email)

	account, err := s.accounts.FindByEmail(ctx, email, repository.WithPassword)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find account: %w", err)
	}

	if account == nil || !account.HasPassword() || !account.IsActive {
		s.burnPasswordCheck(req.Password)
		s.loginFailed(meta, account, email, "no_password_login")
		return nil, newError(ErrInvalidCredentials, MsgInvalidCredentials)
	}

	ok, err := s.hasher.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil && !errors.Is(err, hashing.ErrInvalidHash) {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.loginFailed(meta, account, email, "bad_password")
		return nil, newError(ErrInvalidCredentials, MsgInvalidCredentials)
	}

	// Checked after the password so an unverified flag is only shown to
	// someone who knows the password.
	if !account.EmailVerified {
		s.loginFailed(meta, account, email, "unverified")
		return nil, newError(ErrEmailNotVerified, MsgVerifyEmailFirst)
	}

	if s.hasher.NeedsRehash(account.PasswordHash) {
		s.rehash(ctx, account, req.Password)
	}

	pair, err := s.tokens.Mint(account.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Password login", util.String("account_id", account.ID))
	s.record(meta, models.EventLoginSuccess, account.ID, email, true, map[string]interface{}{"method": "password"})

	account.PasswordHash = ""
	return &Session{Account: account.Public(), Tokens: pair}, nil
}

func (s *AuthService) burnPasswordCheck(password string) {
	if s.dummyHash != "" {
		_, _ = s.hasher.VerifyPassword(password, s.dummyHash)
	}
}

func (s *AuthService) loginFailed(meta RequestMeta, account *models.Account, email, reason string) {
	id := ""
	if account != nil {
		id = account.ID
	}
	s.logger.Info("Login rejected", util.Email("email", email), util.String("reason", reason))
	s.record(meta, models.EventLoginFailure, id, email, false, map[string]interface{}{"reason": reason})
}

func (s *AuthService) rehash(ctx context.Context, account *models.Account, password string) {
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.logger.Warn("Password rehash failed", util.String("account_id", account.ID), util.ErrorField(err))
		return
	}
	account.PasswordHash = hash
	if err := s.accounts.Save(ctx, account, repository.WithPassword); err != nil {
		s.logger.Warn("Password rehash not saved", util.String("account_id", account.ID), util.ErrorField(err))
	}
}

// SendOTP issues a login code to an existing account. A failed delivery is
// reported in the result but does not fail the call.
func (s *AuthService) SendOTP(ctx context.Context, req EmailRequest, meta RequestMeta) (*OTPDispatch, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, invalid("Email is required")
	}
	email := util.NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	account, err := s.activeAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	issued, err := s.otp.Resend(ctx, email)
	if err != nil {
		var cd *otp.CooldownError
		if errors.As(err, &cd) {
			return nil, cooldownError(cd.RetryAfter)
		}
		return nil, fmt.Errorf("issue otp: %w", err)
	}
	s.record(meta, models.EventOTPIssued, account.ID, email, true, nil)

	res := s.mailer.SendOTP(ctx, email, issued.Code, s.otp.Config().TTL)
	if !res.Success {
		s.deliveryFailed(meta, account, "otp", res)
	}

	return &OTPDispatch{Email: email, ExpiresAt: issued.ExpiresAt, Delivered: res.Success}, nil
}

func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest, meta RequestMeta) (*Session, error) {
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		return nil, invalid("Email and OTP are required")
	}
	email := util.NormalizeEmail(req.Email)
	code := strings.TrimSpace(req.OTP)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := otp.ValidateCode(code); err != nil {
		return nil, invalid("OTP must be a 6-digit code")
	}

	account, err := s.activeAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	res, err := s.otp.Verify(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}

	switch res.Outcome {
	case otp.OutcomeOK:
	case otp.OutcomeExpired:
		s.record(meta, models.EventOTPFailed, account.ID, email, false, map[string]interface{}{"reason": "expired"})
		return nil, &OTPError{Kind: ErrOTPExpired, Message: MsgOTPExpired}
	case otp.OutcomeMismatch:
		s.record(meta, models.EventOTPFailed, account.ID, email, false, map[string]interface{}{"reason": "mismatch", "remaining": res.Remaining})
		return nil, &OTPError{Kind: ErrOTPMismatch, Message: MsgOTPInvalid, Remaining: res.Remaining}
	case otp.OutcomeExhausted:
		s.record(meta, models.EventOTPExhausted, account.ID, email, false, nil)
		return nil, &OTPError{Kind: ErrOTPExhausted, Message: MsgOTPExhausted}
	default:
		s.record(meta, models.EventOTPFailed, account.ID, email, false, map[string]interface{}{"reason": "not_found"})
		return nil, &OTPError{Kind: ErrOTPNotFound, Message: MsgOTPNotFound}
	}

	if !account.EmailVerified {
		account.MarkVerified()
		if err := s.accounts.Save(ctx, account, repository.Public); err != nil {
			return nil, fmt.Errorf("mark email verified: %w", err)
		}
	}

	pair, err := s.tokens.Mint(account.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("OTP login", util.String("account_id", account.ID))
	s.record(meta, models.EventOTPVerified, account.ID, email, true, nil)
	s.record(meta, models.EventLoginSuccess, account.ID, email, true, map[string]interface{}{"method": "otp"})
	return &Session{Account: account.Public(), Tokens: pair}, nil
}

func (s *AuthService) activeAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.accounts.FindByEmail(ctx, email, repository.Public)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrAccountNotFound, MsgRegisterFirst)
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !account.IsActive {
		return nil, newError(ErrAccountNotFound, MsgRegisterFirst)
	}
	return account, nil
}

// ForgotPassword emails a reset link when the account exists. The outcome
// is not revealed to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, req EmailRequest, meta RequestMeta) error {
	if strings.TrimSpace(req.Email) == "" {
		return invalid("Email is required")
	}
	email := util.NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return err
	}

	account, err := s.accounts.FindByEmail(ctx, email, repository.WithReset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record(meta, models.EventPasswordResetRequested, "", email, false, map[string]interface{}{"reason": "unknown_account"})
			return nil
		}
		return fmt.Errorf("find account: %w", err)
	}
	if !account.IsActive {
		s.record(meta, models.EventPasswordResetRequested, account.ID, email, false, map[string]interface{}{"reason": "inactive"})
		return nil
	}

	raw := randomHex(resetTokenBytes)
	if raw == "" {
		return errors.New("generate reset token")
	}
	expires := s.clock.Now().Add(s.cfg.ResetTokenTTL)
	account.ResetTokenHash = s.hasher.Digest(hashing.PurposeResetToken, raw)
	account.ResetExpiresAt = &expires
	if err := s.accounts.Save(ctx, account, repository.WithReset); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	s.record(meta, models.EventPasswordResetRequested, account.ID, email, true, nil)

	if res := s.mailer.SendPasswordReset(ctx, email, s.resetLink(raw), s.cfg.ResetTokenTTL); !res.Success {
		s.deliveryFailed(meta, account, "password_reset", res)
	}
	return nil
}

func (s *AuthService) resetLink(raw string) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(raw)
}

func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest, meta RequestMeta) error {
	tok := strings.TrimSpace(req.Token)
	if tok == "" || req.NewPassword == "" {
		return invalid("Token and new password are required")
	}
	if err := validatePassword(req.NewPassword, s.cfg.PasswordMinLength); err != nil {
		return err
	}

	account, err := s.accounts.FindByResetToken(ctx, s.hasher.Digest(hashing.PurposeResetToken, tok), repository.WithReset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record(meta, models.EventPasswordResetCompleted, "", "", false, map[string]interface{}{"reason": "unknown_token"})
			return newError(ErrInvalidResetToken, MsgInvalidResetToken)
		}
		return fmt.Errorf("find reset token: %w", err)
	}

	if account.ResetExpiresAt == nil || s.clock.Now().After(*account.ResetExpiresAt) {
		account.ClearReset()
		if err := s.accounts.Save(ctx, account, repository.WithReset); err != nil {
			s.logger.Warn("Failed to clear expired reset token", util.String("account_id", account.ID), util.ErrorField(err))
		}
		s.record(meta, models.EventPasswordResetCompleted, account.ID, account.Email, false, map[string]interface{}{"reason": "expired"})
		return newError(ErrInvalidResetToken, MsgResetTokenExpired)
	}

	hash, err := s.hasher.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = hash
	account.ClearReset()
	if err := s.accounts.Save(ctx, account, repository.WithPassword|repository.WithReset); err != nil {
		return fmt.Errorf("save password: %w", err)
	}

	s.logger.Info("Password reset", util.String("account_id", account.ID))
	s.record(meta, models.EventPasswordResetCompleted, account.ID, account.Email, true, nil)
	return nil
}

// RefreshToken mints a new access token. The refresh token is not rotated.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string, meta RequestMeta) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, newError(ErrUnauthorized, MsgRefreshMissing)
	}
	accountID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, newError(ErrUnauthorized, MsgRefreshInvalid)
	}
	if _, err := s.activeAccount(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", time.Time{}, newError(ErrUnauthorized, MsgRefreshInvalid)
		}
		return "", time.Time{}, err
	}

	access, expires, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		return "", time.Time{}, newError(ErrUnauthorized, MsgRefreshInvalid)
	}
	s.record(meta, models.EventTokenRefreshed, accountID, "", true, nil)
	return access, expires, nil
}

// Authenticate resolves an access token to a live account id.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", newError(ErrUnauthorized, MsgNoToken)
	}
	accountID, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return "", newError(ErrUnauthorized, MsgInvalidToken)
	}
	if _, err := s.activeAccount(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", newError(ErrUnauthorized, MsgInvalidTokenAccount)
		}
		return "", err
	}
	return accountID, nil
}

// Logout is stateless; issued tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, accountID string, meta RequestMeta) {
	s.logger.Info("Logout", util.String("account_id", accountID))
	s.record(meta, models.EventLogout, accountID, "", true, nil)
}

func (s *AuthService) GetCurrentUser(ctx context.Context, accountID string) (models.PublicProfile, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return models.PublicProfile{}, err
	}
	return account.Public(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, accountID string, req UpdateProfileRequest, meta RequestMeta) (models.PublicProfile, error) {
	if err := req.validate(); err != nil {
		return models.PublicProfile{}, err
	}

	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return models.PublicProfile{}, err
	}

	changed := make([]string, 0, 5)
	if req.FirstName != nil {
		account.FirstName = *req.FirstName
		changed = append(changed, "firstName")
	}
	if req.LastName != nil {
		account.LastName = *req.LastName
		changed = append(changed, "lastName")
	}
	if req.Phone != nil {
		account.Phone = *req.Phone
		changed = append(changed, "phone")
	}
	if req.ProfileImage != nil {
		account.ProfileImage = *req.ProfileImage
		changed = append(changed, "profileImage")
	}
	if req.AreasOfInterest != nil {
		account.AreasOfInterest = *req.AreasOfInterest
		changed = append(changed, "areasOfInterest")
	}

	if err := s.accounts.Save(ctx, account, repository.Public); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PublicProfile{}, newError(ErrAccountNotFound, MsgUserNotFound)
		}
		return models.PublicProfile{}, fmt.Errorf("save profile: %w", err)
	}

	s.record(meta, models.EventProfileUpdated, account.ID, "", true, map[string]interface{}{"fields": changed})
	return account.Public(), nil
}

func (s *AuthService) activeAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID, repository.Public)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrAccountNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !account.IsActive {
		return nil, newError(ErrAccountNotFound, MsgUserNotFound)
	}
	return account, nil
}

// HealthCheck reports whether the credential store is reachable.
func (s *AuthService) HealthCheck(ctx context.Context) error {
	return s.accounts.HealthCheck(ctx)
}

func (s *AuthService) deliveryFailed(meta RequestMeta, account *models.Account, kind string, res notify.Result) {
	s.logger.Warn("Email delivery failed",
		util.String("account_id", account.ID),
		util.String("kind", kind),
		util.String("error", res.Error),
	)
	s.record(meta, models.EventNotificationDeliveryFail, account.ID, account.Email, false, map[string]interface{}{"kind": kind})
}

func (s *AuthService) record(meta RequestMeta, eventType, accountID, email string, success bool, details map[string]interface{}) {
	s.audit.Record(audit.Entry{
		Type:      eventType,
		AccountID: accountID,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
		Success:   success,
		Details:   details,
	})
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
