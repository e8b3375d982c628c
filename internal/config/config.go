package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Auth          AuthConfig
	OTP           OTPConfig
	Email         EmailConfig
	Audit         AuditConfig
	Storage       StorageConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	// RequireHTTPS rejects plain requests not forwarded by a TLS proxy.
	RequireHTTPS   bool
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	TLS      TLSFiles
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	TLS      TLSFiles
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	NotificationTopic string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	TLS      TLSFiles
}

// TLSFiles points at PEM files for a backend connection. An empty CAFile
// means the system roots; CertFile and KeyFile enable client certificates.
type TLSFiles struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// KMSConfig controls field encryption. With KMS disabled, data keys are
// wrapped by LocalKey (base64, 32 bytes) instead.
type KMSConfig struct {
	Enabled  bool
	KeyID    string
	Region   string
	LocalKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type BucketingConfig struct {
	EventBuckets int
}

// AuthConfig carries token secrets and account policy.
type AuthConfig struct {
	JWTSecret          string
	RefreshTokenSecret string
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	PasswordMinLength  int
	FrontendURL        string
}

type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// EmailConfig selects and configures the outbound notifier.
// Provider is one of "smtp", "kafka" or "log".
type EmailConfig struct {
	Provider     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	FromName     string
	Timeout      time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// StorageConfig picks the credential store and OTP store backends.
// Accounts is "scylla" or "memory"; OTP is "redis" or "memory".
type StorageConfig struct {
	Accounts string
	OTP      string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			TLSPort:        getEnvInt("TLS_PORT", 8443),
			EnableTLS:      getEnvBool("ENABLE_TLS", false),
			AutoCert:       getEnvBool("AUTO_CERT", false),
			Domain:         getEnv("DOMAIN", "localhost"),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RequireHTTPS:   getEnvBool("REQUIRE_HTTPS", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
			TLS: TLSFiles{
				CAFile:   getEnv("REDIS_TLS_CA_FILE", ""),
				CertFile: getEnv("REDIS_TLS_CERT_FILE", ""),
				KeyFile:  getEnv("REDIS_TLS_KEY_FILE", ""),
			},
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			TLS: TLSFiles{
				CAFile:   getEnv("SCYLLA_CA_FILE", ""),
				CertFile: getEnv("SCYLLA_CERT_FILE", ""),
				KeyFile:  getEnv("SCYLLA_KEY_FILE", ""),
			},
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvBool("KAFKA_ENABLED", false),
			Brokers:           getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "auth.notifications.email"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "auth-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "auth"),
			TLS: TLSFiles{
				CAFile: getEnv("CLICKHOUSE_CA_FILE", ""),
			},
		},
		KMS: KMSConfig{
			Enabled:  getEnvBool("KMS_ENABLED", false),
			KeyID:    getEnv("KMS_KEY_ID", ""),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			LocalKey: getEnv("ENCRYPTION_LOCAL_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            getEnv("HASH_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET", ""),
			RefreshTokenSecret: getEnv("REFRESH_TOKEN_SECRET", ""),
			Issuer:             getEnv("JWT_ISSUER", "otp-auth-service"),
			AccessTokenTTL:     getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL:    getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			ResetTokenTTL:      getEnvDuration("RESET_TOKEN_TTL", time.Hour),
			PasswordMinLength:  getEnvInt("PASSWORD_MIN_LENGTH", 8),
			FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		OTP: OTPConfig{
			TTL:            getEnvDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown: getEnvDuration("OTP_RESEND_COOLDOWN", 30*time.Second),
		},
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "log"),
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("SMTP_FROM", "noreply@example.com"),
			FromName:     getEnv("SMTP_FROM_NAME", "Auth Service"),
			Timeout:      getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Audit: AuditConfig{
			Enabled:    getEnvBool("AUDIT_ENABLED", true),
			BufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1024),
		},
		Storage: StorageConfig{
			Accounts: getEnv("ACCOUNT_STORE", "scylla"),
			OTP:      getEnv("OTP_STORE", "redis"),
		},
	}

	return cfg
}

// Validate reports configuration that would make the service unsafe or unusable.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
	}
	// Password hashes, OTP digests and reset digests are keyed by the pepper,
	// so every instance and every restart must share it.
	if c.Hashing.Pepper == "" && c.IsProduction() {
		errs = append(errs, errors.New("HASH_PEPPER is required in production"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTP.ResendCooldown < 0 {
		errs = append(errs, errors.New("OTP_RESEND_COOLDOWN must not be negative"))
	}
	if c.Auth.PasswordMinLength < 1 {
		errs = append(errs, errors.New("PASSWORD_MIN_LENGTH must be at least 1"))
	}
	switch c.Email.Provider {
	case "smtp", "kafka", "log":
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider))
	}
	if c.Email.Provider == "kafka" && !c.Kafka.Enabled {
		errs = append(errs, errors.New("EMAIL_PROVIDER=kafka requires KAFKA_ENABLED"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.Bucketing.EventBuckets < 1 {
		errs = append(errs, errors.New("EVENT_BUCKETS must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
