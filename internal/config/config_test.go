package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("OTP_TTL", "")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 8, cfg.Auth.PasswordMinLength)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "access-secret")
	t.Setenv("HASH_PEPPER", "shared-pepper")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("AUDIT_ENABLED", "false")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "access-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Audit.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingSecretInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRequiresPepperInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "access-secret")
	t.Setenv("HASH_PEPPER", "")

	cfg := LoadConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HASH_PEPPER")
	assert.NotContains(t, err.Error(), "JWT_SECRET")

	t.Setenv("HASH_PEPPER", "shared-pepper")
	require.NoError(t, LoadConfig().Validate())

	// outside production an ephemeral pepper is tolerated
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("HASH_PEPPER", "")
	require.NoError(t, LoadConfig().Validate())
}

func TestValidateRejectsKafkaProviderWithoutKafka(t *testing.T) {
	cfg := LoadConfig()
	cfg.Email.Provider = "kafka"
	cfg.Kafka.Enabled = false

	require.Error(t, cfg.Validate())
}

func TestMalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("OTP_MAX_ATTEMPTS", "three")
	t.Setenv("ACCESS_TOKEN_TTL", "a day")

	cfg := LoadConfig()

	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenTTL)
}
