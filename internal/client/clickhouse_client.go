package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
)

// ClickHouseClient writes the security event log.
type ClickHouseClient struct {
	conn   driver.Conn
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewClickHouseClient opens a native-protocol connection. TLS is used in
// production and for https:// or clickhouses:// URLs.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	addr, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}
	secure = secure || cfg.IsProduction()

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
		Compression:      &ch.Compression{Method: ch.CompressionLZ4},
	}

	if secure {
		host, _, _ := net.SplitHostPort(addr)
		tlsCfg, err := backendTLS(chConfig.TLS, host)
		if err != nil {
			return nil, fmt.Errorf("clickhouse tls: %w", err)
		}
		opts.TLS = tlsCfg
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", addr, err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, logger: logger}, nil
}

// clickhouseAddr turns CLICKHOUSE_URL into a native-protocol host:port.
// Ports default to 9000, or 9440 for secure schemes.
func clickhouseAddr(raw string) (addr string, secure bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid ClickHouse URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", false, fmt.Errorf("invalid ClickHouse URL %q: missing host", raw)
	}

	switch u.Scheme {
	case "https", "clickhouses":
		secure = true
	case "http", "clickhouse", "tcp":
	default:
		return "", false, fmt.Errorf("unsupported ClickHouse scheme %q", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = "9000"
		if secure {
			port = "9440"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), secure, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert appends every row to one prepared batch and sends it.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return err
	}
	c.logger.Info("ClickHouse connection closed")
	return nil
}
