package encryption

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
)

func newLocalManager(t *testing.T) *Manager {
	t.Helper()
	keys, err := NewLocalKeyService(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return NewManager(keys, zap.NewNop())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newLocalManager(t)
	ctx := context.Background()

	env, err := m.EncryptField(ctx, "+1 555 0100")
	require.NoError(t, err)
	assert.Equal(t, "local", env.KeyID)
	assert.Equal(t, "v1", env.Version)
	assert.NotContains(t, env.EncryptedValue, "555")

	m.ClearCache()
	plain, err := m.DecryptField(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "+1 555 0100", plain)
	assert.Equal(t, 1, m.CacheSize())
}

func TestEncryptStringEmptyStaysEmpty(t *testing.T) {
	m := newLocalManager(t)

	stored, err := m.EncryptString(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, stored)

	plain, err := m.DecryptString(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncryptStringRoundTrip(t *testing.T) {
	m := newLocalManager(t)
	ctx := context.Background()

	stored, err := m.EncryptString(ctx, "secret")
	require.NoError(t, err)

	other, err := m.EncryptString(ctx, "secret")
	require.NoError(t, err)
	assert.NotEqual(t, stored, other)

	plain, err := m.DecryptString(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
}

func TestDecryptWithWrongMasterKeyFails(t *testing.T) {
	m := newLocalManager(t)
	stored, err := m.EncryptString(context.Background(), "secret")
	require.NoError(t, err)

	otherKeys, err := NewLocalKeyService(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	other := NewManager(otherKeys, zap.NewNop())

	_, err = other.DecryptString(context.Background(), stored)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestDecryptRejectsGarbage(t *testing.T) {
	m := newLocalManager(t)
	_, err := m.DecryptString(context.Background(), "not json")
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestLocalKeyServiceRequires32Bytes(t *testing.T) {
	_, err := NewLocalKeyService([]byte("short"))
	assert.Error(t, err)
}

func TestNewManagerFromConfigLocal(t *testing.T) {
	cfg := &config.Config{KMS: config.KMSConfig{
		LocalKey: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)),
	}}
	m, err := NewManagerFromConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	stored, err := m.EncryptString(context.Background(), "x")
	require.NoError(t, err)
	plain, err := m.DecryptString(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, "x", plain)

	cfg.KMS.LocalKey = "%%%"
	_, err = NewManagerFromConfig(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
