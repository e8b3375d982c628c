package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
)

const redisHealthKey = "healthcheck:otp-auth-service"

// RedisClient holds the pool backing OTP challenges and resend cooldowns.
type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisClient dials Redis from a redis:// or rediss:// URL. rediss
// connections verify against REDIS_TLS_CA_FILE and present a client
// certificate when one is configured.
func NewRedisClient(cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	opts, err := redisOptions(cfg.Redis)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize),
		zap.Bool("tls_enabled", opts.TLSConfig != nil))

	return &RedisClient{Client: rdb, logger: logger}, nil
}

func redisOptions(rc config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.Password == "" {
		opts.Password = rc.Password
	}
	if rc.DB != 0 {
		opts.DB = rc.DB
	}
	if rc.PoolSize > 0 {
		opts.PoolSize = rc.PoolSize
		opts.MinIdleConns = max(rc.PoolSize/4, 1)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if strings.HasPrefix(rc.URL, "rediss://") {
		host := opts.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		tlsCfg, err := backendTLS(rc.TLS, host)
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}
	return opts, nil
}

func (r *RedisClient) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// HealthCheck pings and round-trips a short-lived key, since a replica in
// read-only mode still answers PING.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if err := r.Client.Set(ctx, redisHealthKey, "1", 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	return r.Client.Del(ctx, redisHealthKey).Err()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) TxPipeline() redis.Pipeliner {
	return r.Client.TxPipeline()
}
