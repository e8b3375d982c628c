package factory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/handler"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/repository/memory"
	redisstore "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/repository/scylla"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/tls"
	"otp-auth-service/internal/token"
	"otp-auth-service/internal/util"
)

const healthTimeout = 5 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	clock      util.Clock
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	accounts repository.AccountRepository
	otpStore otp.Store
	engine   *otp.Engine
	tokens   *token.Issuer
	notifier notify.Notifier
	recorder *audit.Recorder

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and wires every dependency. Outside
// production an unreachable Scylla or Redis degrades to the in-process
// store with a warning; in production it is fatal.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		logger: logger,
		clock:  util.SystemClock{},
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"tls", f.initializeTLS},
		{"managers", f.initializeManagers},
		{"clients", f.initializeClients},
		{"stores", f.initializeStores},
		{"tokens", f.initializeTokens},
		{"notifier", f.initializeNotifier},
		{"audit", f.initializeAudit},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	f.serviceFactory = service.NewServiceFactory(
		f.accounts,
		f.engine,
		f.tokens,
		f.hasher,
		notify.NewMailer(f.notifier),
		f.recorder,
		f.clock,
		service.NewAuthConfig(cfg),
		logger,
	)

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("account_store", cfg.Storage.Accounts),
		util.String("otp_store", cfg.Storage.OTP),
		util.String("email_provider", cfg.Email.Provider),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeTLS(ctx context.Context) error {
	if !f.config.Server.EnableTLS {
		return nil
	}
	m, err := tls.NewTLSManager(tls.Config{
		AutoCert:     f.config.Server.AutoCert,
		Domain:       f.config.Server.Domain,
		CertFile:     f.config.Server.CertFile,
		KeyFile:      f.config.Server.KeyFile,
		CertDir:      f.config.Server.AutoCertDir,
		Email:        f.config.Server.Email,
		AllowDevCert: !f.config.IsProduction(),
		HTTPSPort:    f.config.Server.TLSPort,
	}, f.logger)
	if err != nil {
		return err
	}
	f.tlsManager = m
	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)

	em, err := encryption.NewManagerFromConfig(ctx, f.config, f.logger)
	if err != nil {
		return err
	}
	f.encryptionManager = em
	f.bucketingManager = bucketing.NewManager(f.config.Bucketing)

	f.logger.Info("Managers initialized successfully",
		util.Int("event_buckets", f.config.Bucketing.EventBuckets),
	)
	return nil
}

// initializeClients connects the backends the configuration selects.
// Required clients that fail are collected; optional ones only warn.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	var required []error

	if cfg.Storage.OTP == "redis" {
		if c, err := client.NewRedisClient(cfg, f.logger); err != nil {
			required = append(required, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
		}
	}

	if cfg.Storage.Accounts == "scylla" {
		if c, err := scylla.NewScyllaClient(cfg, f.logger); err != nil {
			required = append(required, fmt.Errorf("scylla: %w", err))
		} else if err := c.EnsureSchema(ctx); err != nil {
			c.Close()
			required = append(required, fmt.Errorf("scylla schema: %w", err))
		} else {
			f.scyllaClient = c
		}
	}

	if cfg.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(cfg, f.logger); err != nil {
			if cfg.Email.Provider == "kafka" {
				required = append(required, fmt.Errorf("kafka: %w", err))
			} else {
				f.logger.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
			}
		} else {
			f.kafkaProducer = p
		}
	}

	if cfg.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(cfg, f.logger); err != nil {
			f.logger.Warn("Elasticsearch unavailable - audit events will not be indexed", util.ErrorField(err))
		} else {
			f.esClient = c
		}
	}

	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg, f.logger); err != nil {
			f.logger.Warn("ClickHouse unavailable - audit analytics disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	if len(required) == 0 {
		return nil
	}
	if cfg.IsProduction() {
		return fmt.Errorf("critical service initialization failed: %w", errors.Join(required...))
	}
	for _, err := range required {
		f.logger.Warn("Service initialization warning, falling back to in-process store", util.ErrorField(err))
	}
	return nil
}

func (f *Factory) initializeStores(ctx context.Context) error {
	if f.scyllaClient != nil {
		f.accounts = scylla.NewAccountRepository(f.scyllaClient, f.encryptionManager, f.clock, f.logger)
	} else {
		f.accounts = memory.NewAccountRepository(f.clock)
		f.logger.Warn("Using in-process account store; accounts are lost on restart")
	}

	if f.redisClient != nil {
		f.otpStore = redisstore.NewOTPStore(f.redisClient)
	} else {
		f.otpStore = otp.NewMemoryStore()
		f.logger.Warn("Using in-process OTP store; codes are not shared between instances")
	}

	f.engine = otp.NewEngine(f.otpStore, f.hasher, f.clock, otp.Config{
		TTL:            f.config.OTP.TTL,
		MaxAttempts:    f.config.OTP.MaxAttempts,
		ResendCooldown: f.config.OTP.ResendCooldown,
	}, f.logger)
	return nil
}

func (f *Factory) initializeTokens(ctx context.Context) error {
	secret := f.config.Auth.JWTSecret
	if secret == "" {
		// Validate refuses this in production.
		secret = randomSecret()
		f.logger.Warn("JWT_SECRET is not set; using an ephemeral secret, sessions will not survive a restart")
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  secret,
		RefreshSecret: f.config.Auth.RefreshTokenSecret,
		AccessTTL:     f.config.Auth.AccessTokenTTL,
		RefreshTTL:    f.config.Auth.RefreshTokenTTL,
		Issuer:        f.config.Auth.Issuer,
	}, f.clock)
	if err != nil {
		return err
	}
	f.tokens = issuer
	return nil
}

func (f *Factory) initializeNotifier(ctx context.Context) error {
	switch f.config.Email.Provider {
	case "smtp":
		f.notifier = notify.NewSMTPNotifier(f.config.Email, f.logger)
	case "kafka":
		if f.kafkaProducer == nil {
			return errors.New("EMAIL_PROVIDER=kafka but no Kafka producer is available")
		}
		f.notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.NotificationTopic, f.config.Email.Timeout, f.logger)
	default:
		f.notifier = notify.NewLogNotifier(f.logger, f.config.IsDevelopment())
	}
	return nil
}

func (f *Factory) initializeAudit(ctx context.Context) error {
	if !f.config.Audit.Enabled {
		return nil
	}

	var sinks []audit.Sink
	if f.clickhouseClient != nil {
		sink := audit.NewClickHouseSink(f.clickhouseClient)
		if err := sink.EnsureSchema(ctx); err != nil {
			f.logger.Warn("ClickHouse audit schema unavailable", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.AuditIndex))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, audit.NewLogSink(f.logger))
	}

	f.recorder = audit.NewRecorder(audit.Config{BufferSize: f.config.Audit.BufferSize},
		sinks, f.hasher, f.bucketingManager, f.clock, f.logger)

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	f.logger.Info("Audit recorder started", zap.Strings("sinks", names))
	return nil
}

// HealthCheck checks every configured dependency concurrently. A nil
// value means healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	checks := map[string]func(context.Context) error{}
	if f.accounts != nil {
		checks["accounts"] = f.accounts.HealthCheck
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var mu sync.Mutex
	results := make(map[string]error, len(checks)+1)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if dropped := f.recorder.Dropped(); dropped > 0 {
		results["audit"] = fmt.Errorf("%d audit events dropped", dropped)
	} else if f.recorder != nil {
		results["audit"] = nil
	}
	return results
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		// Flush audit first; its sinks use the clients closed below.
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		} else {
			f.recorder.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		f.logger.Info("Factory shutdown completed")
		util.Sync()
	})
	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

// AuthHandler builds the HTTP handler for the auth routes.
func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(f.serviceFactory.AuthService(), handler.AuthHandlerOptions{
		Production: f.config.IsProduction(),
		AccessTTL:  f.tokens.AccessTTL(),
		RefreshTTL: f.tokens.RefreshTTL(),
	}, f.logger)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
