package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/otp"
)

const (
	otpPrefix         = "otp:"
	otpCooldownPrefix = "otp_cooldown:"

	// records outlive their expiry slightly so Verify can still answer "expired"
	expiryGrace = time.Minute
)

// verifyChallengeLua compares, counts and clears in one step.
// KEYS[1] = challenge hash
// ARGV[1] = provided digest
// ARGV[2] = now in unix milliseconds
//
// Returns {status, remaining}; status is ok, expired, mismatch, exhausted or not_found.
var verifyChallengeLua = goredis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'digest', 'expires_at', 'attempts', 'max_attempts')
if not data[1] then
  return {'not_found', 0}
end

local now = tonumber(ARGV[2])
if now > tonumber(data[2]) then
  redis.call('DEL', KEYS[1])
  return {'expired', 0}
end

local attempts = tonumber(data[3])
local maxAttempts = tonumber(data[4])

if data[1] ~= ARGV[1] then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {'exhausted', 0}
  end
  redis.call('HSET', KEYS[1], 'attempts', attempts)
  return {'mismatch', maxAttempts - attempts}
end

redis.call('DEL', KEYS[1])
return {'ok', 0}
`)

// claimCooldownLua records an issuance unless the previous one is too recent.
// KEYS[1] = cooldown key
// ARGV[1] = now in unix milliseconds
// ARGV[2] = cooldown in milliseconds
//
// Returns 0 when claimed, otherwise the milliseconds left.
var claimCooldownLua = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = redis.call('GET', KEYS[1])
if last then
  local elapsed = now - tonumber(last)
  if elapsed < window then
    return window - elapsed
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', window)
return 0
`)

// OTPStore keeps one challenge hash per email under otp:<email>.
type OTPStore struct {
	client *client.RedisClient
}

var _ otp.Store = (*OTPStore)(nil)

func NewOTPStore(client *client.RedisClient) *OTPStore {
	return &OTPStore{client: client}
}

func challengeKey(email string) string { return otpPrefix + email }
func cooldownKey(email string) string  { return otpCooldownPrefix + email }

func (s *OTPStore) Put(ctx context.Context, ch otp.Challenge, cooldown time.Duration) error {
	key := challengeKey(ch.Email)
	ttl := ch.ExpiresAt.Sub(ch.IssuedAt) + expiryGrace

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"digest", ch.CodeDigest,
		"issued_at", ch.IssuedAt.UnixMilli(),
		"expires_at", ch.ExpiresAt.UnixMilli(),
		"attempts", ch.Attempts,
		"max_attempts", ch.MaxAttempts,
	)
	pipe.PExpire(ctx, key, ttl)
	if cooldown > 0 {
		pipe.Set(ctx, cooldownKey(ch.Email), ch.IssuedAt.UnixMilli(), cooldown)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store otp challenge: %w", err)
	}
	return nil
}

func (s *OTPStore) Verify(ctx context.Context, email, digest string, now time.Time) (otp.Result, error) {
	raw, err := verifyChallengeLua.Run(ctx, s.client.Client,
		[]string{challengeKey(email)},
		digest,
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return otp.Result{}, fmt.Errorf("otp verify script failed: %w", err)
	}
	if len(raw) != 2 {
		return otp.Result{}, fmt.Errorf("otp verify script returned %d values", len(raw))
	}

	status, _ := raw[0].(string)
	remaining, _ := raw[1].(int64)

	switch status {
	case "ok":
		return otp.Result{Outcome: otp.OutcomeOK}, nil
	case "expired":
		return otp.Result{Outcome: otp.OutcomeExpired}, nil
	case "mismatch":
		return otp.Result{Outcome: otp.OutcomeMismatch, Remaining: int(remaining)}, nil
	case "exhausted":
		return otp.Result{Outcome: otp.OutcomeExhausted}, nil
	case "not_found":
		return otp.Result{Outcome: otp.OutcomeNotFound}, nil
	default:
		return otp.Result{}, fmt.Errorf("otp verify script returned unknown status %q", status)
	}
}

func (s *OTPStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, challengeKey(email))
}

func (s *OTPStore) ClaimCooldown(ctx context.Context, email string, cooldown time.Duration, now time.Time) (time.Duration, error) {
	left, err := claimCooldownLua.Run(ctx, s.client.Client,
		[]string{cooldownKey(email)},
		strconv.FormatInt(now.UnixMilli(), 10),
		cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("otp cooldown script failed: %w", err)
	}
	return time.Duration(left) * time.Millisecond, nil
}
