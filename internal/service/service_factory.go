package service

import (
	"sync"

	"go.uber.org/zap"

	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/token"
	"otp-auth-service/internal/util"
)

// ServiceFactory assembles services from already constructed collaborators.
type ServiceFactory struct {
	accounts repository.AccountRepository
	otp      *otp.Engine
	tokens   *token.Issuer
	hasher   PasswordHasher
	mailer   *notify.Mailer
	audit    *audit.Recorder
	clock    util.Clock
	cfg      AuthConfig
	logger   *zap.Logger

	once        sync.Once
	authService *AuthService
}

func NewServiceFactory(
	accounts repository.AccountRepository,
	engine *otp.Engine,
	tokens *token.Issuer,
	hasher PasswordHasher,
	mailer *notify.Mailer,
	recorder *audit.Recorder,
	clock util.Clock,
	cfg AuthConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		accounts: accounts,
		otp:      engine,
		tokens:   tokens,
		hasher:   hasher,
		mailer:   mailer,
		audit:    recorder,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// AuthService returns the shared auth service, building it on first use.
func (f *ServiceFactory) AuthService() *AuthService {
	f.once.Do(func() {
		f.authService = NewAuthService(Dependencies{
			Accounts: f.accounts,
			OTP:      f.otp,
			Tokens:   f.tokens,
			Hasher:   f.hasher,
			Mailer:   f.mailer,
			Audit:    f.audit,
			Clock:    f.clock,
			Logger:   f.logger,
		}, f.cfg)
	})
	return f.authService
}

// Cleanup flushes the audit trail.
func (f *ServiceFactory) Cleanup() {
	f.audit.Close()
}
