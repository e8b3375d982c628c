package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/config"
)

func TestClickhouseAddr(t *testing.T) {
	cases := []struct {
		raw    string
		addr   string
		secure bool
	}{
		{"localhost:9000", "localhost:9000", false},
		{"clickhouse.internal", "clickhouse.internal:9000", false},
		{"https://ch.example.com", "ch.example.com:9440", true},
		{"clickhouses://ch.example.com:9441", "ch.example.com:9441", true},
		{"tcp://10.0.0.5:9000", "10.0.0.5:9000", false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			addr, secure, err := clickhouseAddr(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.addr, addr)
			assert.Equal(t, tc.secure, secure)
		})
	}

	_, _, err := clickhouseAddr("ftp://ch.example.com")
	assert.Error(t, err)
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{
		URL:      "redis://localhost:6380/2",
		Password: "fallback",
		PoolSize: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "fallback", opts.Password)
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, 2, opts.MinIdleConns)
	assert.Nil(t, opts.TLSConfig)

	opts, err = redisOptions(config.RedisConfig{URL: "redis://:inurl@localhost:6379/0", Password: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "inurl", opts.Password)

	opts, err = redisOptions(config.RedisConfig{URL: "rediss://cache.example.com:6380"})
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache.example.com", opts.TLSConfig.ServerName)

	_, err = redisOptions(config.RedisConfig{
		URL: "rediss://cache.example.com:6380",
		TLS: config.TLSFiles{CAFile: "/nonexistent/ca.pem"},
	})
	assert.Error(t, err)
}
