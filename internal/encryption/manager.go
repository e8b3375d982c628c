package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
)

// EncryptedData is an envelope: the value sealed with a per-field data key,
// plus that data key wrapped by the key service.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// KeyService wraps and unwraps data keys.
type KeyService interface {
	GenerateDataKey(ctx context.Context) (plaintext, wrapped []byte, keyID string, err error)
	Decrypt(ctx context.Context, wrapped []byte) ([]byte, error)
}

type Manager struct {
	keys     KeyService
	keyCache sync.Map // wrapped DEK (base64) -> plaintext DEK
	logger   *zap.Logger
}

func NewManager(keys KeyService, logger *zap.Logger) *Manager {
	return &Manager{keys: keys, logger: logger}
}

// NewManagerFromConfig uses AWS KMS when enabled, otherwise a local master
// key. An unset local key is replaced by a random one, which makes stored
// ciphertext unreadable after a restart.
func NewManagerFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		logger.Info("Field encryption using AWS KMS", zap.String("region", cfg.KMS.Region))
		return NewManager(&KMSKeyService{client: kms.NewFromConfig(awsCfg), keyID: cfg.KMS.KeyID}, logger), nil
	}

	var master []byte
	if cfg.KMS.LocalKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.KMS.LocalKey)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_LOCAL_KEY is not base64: %w", err)
		}
		master = decoded
	} else {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("failed to generate local master key: %w", err)
		}
		logger.Warn("ENCRYPTION_LOCAL_KEY not set, using an ephemeral key; encrypted fields will not survive a restart")
	}

	local, err := NewLocalKeyService(master)
	if err != nil {
		return nil, err
	}
	return NewManager(local, logger), nil
}

// EncryptField seals plaintext under a fresh data key.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dek, wrapped, keyID, err := m.keys.GenerateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed, err := seal(dek, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrappedB64 := base64.StdEncoding.EncodeToString(wrapped)
	m.keyCache.Store(wrappedB64, dek)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK:   wrappedB64,
		KeyID:          keyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("%w: empty envelope", ErrDecryptionFailed)
	}

	var dek []byte
	if cached, ok := m.keyCache.Load(data.EncryptedDEK); ok {
		dek = cached.([]byte)
	} else {
		wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		dek, err = m.keys.Decrypt(ctx, wrapped)
		if err != nil {
			return "", fmt.Errorf("%w: failed to unwrap DEK: %v", ErrDecryptionFailed, err)
		}
		m.keyCache.Store(data.EncryptedDEK, dek)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(dek, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// EncryptString returns the envelope as JSON, ready for a text column.
// Empty input stays empty.
func (m *Manager) EncryptString(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	env, err := m.EncryptField(ctx, plaintext)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(raw), nil
}

func (m *Manager) DecryptString(ctx context.Context, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	var env EncryptedData
	if err := json.Unmarshal([]byte(stored), &env); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	return m.DecryptField(ctx, &env)
}

func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}

func (m *Manager) CacheSize() int {
	count := 0
	m.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// KMSKeyService generates AES-256 data keys with AWS KMS.
type KMSKeyService struct {
	client *kms.Client
	keyID  string
}

func (k *KMSKeyService) GenerateDataKey(ctx context.Context) ([]byte, []byte, string, error) {
	out, err := k.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(k.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, k.keyID, nil
}

func (k *KMSKeyService) Decrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(k.keyID),
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// LocalKeyService wraps data keys with AES-GCM under an in-process master key.
type LocalKeyService struct {
	master []byte
}

func NewLocalKeyService(master []byte) (*LocalKeyService, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("local master key must be 32 bytes, got %d", len(master))
	}
	return &LocalKeyService{master: master}, nil
}

func (l *LocalKeyService) GenerateDataKey(ctx context.Context) ([]byte, []byte, string, error) {
	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, nil, "", err
	}
	wrapped, err := seal(l.master, dek)
	if err != nil {
		return nil, nil, "", err
	}
	return dek, wrapped, localKeyID, nil
}

func (l *LocalKeyService) Decrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	return open(l.master, wrapped)
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
