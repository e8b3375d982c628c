package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// Digest purposes keep a code, a reset token and an email from ever
// producing interchangeable digests.
const (
	PurposeOTP        = "otp"
	PurposeResetToken = "reset"
	PurposeEmail      = "email"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes passwords with argon2id and derives keyed digests for
// short-lived secrets. The pepper never leaves the process.
type Hasher struct {
	params Argon2Params
	pepper []byte
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	pepper := []byte(cfg.Hashing.Pepper)
	if len(pepper) == 0 {
		pepper = make([]byte, 32)
		if _, err := rand.Read(pepper); err != nil {
			util.Fatal("Failed to generate pepper", zap.Error(err))
		}
		util.Warn("HASH_PEPPER not set; using an ephemeral pepper, stored passwords will not verify after restart")
	}

	return NewHasherWithParams(params, pepper)
}

func NewHasherWithParams(params Argon2Params, pepper []byte) *Hasher {
	return &Hasher{
		params: params,
		pepper: append([]byte(nil), pepper...),
	}
}

// HashPassword returns a PHC string: $argon2id$v=19$m=..,t=..,p=..$salt$hash
func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		h.peppered(password),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword recomputes the hash with the parameters recorded in encoded.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	p, salt, expected, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		h.peppered(password),
		salt,
		p.Iterations,
		p.Memory,
		p.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, _, key, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return p.Memory < h.params.Memory ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism ||
		uint32(len(key)) != h.params.KeyLength
}

// Digest is a hex HMAC-SHA256 of value under the pepper, scoped by purpose.
func (h *Hasher) Digest(purpose, value string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// DigestEqual compares two hex digests in constant time.
func DigestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Hasher) peppered(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte("password"))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

func decodePHC(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return p, nil, nil, ErrInvalidHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}

	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Iterations == 0 || parallelism == 0 || parallelism > 255 {
		return p, nil, nil, ErrInvalidHash
	}
	p.Parallelism = uint8(parallelism)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return p, salt, key, nil
}
