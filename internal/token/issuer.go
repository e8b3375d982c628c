package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"otp-auth-service/internal/util"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("token signing secret is not configured")
)

// Claims carries the account id; sessions are stateless.
type Claims struct {
	AccountID string `json:"uid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

type Config struct {
	AccessSecret string
	// RefreshSecret falls back to AccessSecret when empty.
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type Pair struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Issuer mints and checks HS256 access and refresh tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	clock         util.Clock
}

func NewIssuer(cfg Config, clock util.Clock) (*Issuer, error) {
	if cfg.AccessSecret == "" {
		return nil, ErrMissingSecret
	}
	refresh := cfg.RefreshSecret
	if refresh == "" {
		refresh = cfg.AccessSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if clock == nil {
		clock = util.SystemClock{}
	}

	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(refresh),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		clock:         clock,
	}, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Mint issues a fresh access and refresh token for accountID.
func (i *Issuer) Mint(accountID string) (*Pair, error) {
	access, accessExp, err := i.sign(accountID, TypeAccess, i.accessTTL, i.accessSecret)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.sign(accountID, TypeRefresh, i.refreshTTL, i.refreshSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself stays valid until it expires.
func (i *Issuer) Refresh(refreshToken string) (string, time.Time, error) {
	accountID, err := i.VerifyRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return i.sign(accountID, TypeAccess, i.accessTTL, i.accessSecret)
}

func (i *Issuer) VerifyAccess(tokenString string) (string, error) {
	return i.verify(tokenString, TypeAccess, i.accessSecret)
}

func (i *Issuer) VerifyRefresh(tokenString string) (string, error) {
	return i.verify(tokenString, TypeRefresh, i.refreshSecret)
}

func (i *Issuer) sign(accountID, typ string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := i.clock.Now()
	exp := now.Add(ttl)

	claims := Claims{
		AccountID: accountID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

func (i *Issuer) verify(tokenString, typ string, secret []byte) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.clock.Now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	// a refresh token must never pass as an access token, even with a shared secret
	if claims.Type != typ || claims.AccountID == "" {
		return "", ErrInvalidToken
	}
	return claims.AccountID, nil
}
