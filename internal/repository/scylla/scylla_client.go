package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_id        text PRIMARY KEY,
		email             text,
		username          text,
		password_hash     text,
		email_verified    boolean,
		role              text,
		is_active         boolean,
		first_name        text,
		last_name         text,
		phone_encrypted   text,
		profile_image     text,
		areas_of_interest list<text>,
		reset_token_hash  text,
		reset_expires_at  timestamp,
		created_at        timestamp,
		updated_at        timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_email (
		email      text PRIMARY KEY,
		account_id text
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_username (
		username_key text PRIMARY KEY,
		account_id   text
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_reset_token (
		token_hash text PRIMARY KEY,
		account_id text
	)`,
}

// Statements is the CQL the account repository runs. gocql prepares each
// statement on first use and caches it per connection.
type Statements struct {
	ClaimEmail          string
	ClaimUsername       string
	ReleaseEmail        string
	ReleaseUsername     string
	InsertAccount       string
	SelectIDByEmail     string
	SelectIDByUsername  string
	SelectIDByReset     string
	UpdateProfile       string
	UpdatePassword      string
	UpdateReset         string
	InsertResetIndex    string
	DeleteResetIndex    string
	SelectResetTokenFor string
}

const accountColumns = `account_id, email, username, password_hash, email_verified, role,
	is_active, first_name, last_name, phone_encrypted, profile_image,
	areas_of_interest, reset_token_hash, reset_expires_at, created_at, updated_at`

// profileColumns are read for every projection; secret columns are only
// selected when the projection asks for them.
const profileColumns = `account_id, email, username, email_verified, role, is_active,
	first_name, last_name, phone_encrypted, profile_image, areas_of_interest,
	created_at, updated_at`

func newStatements() Statements {
	return Statements{
		ClaimEmail:         `INSERT INTO accounts_by_email (email, account_id) VALUES (?, ?) IF NOT EXISTS`,
		ClaimUsername:      `INSERT INTO accounts_by_username (username_key, account_id) VALUES (?, ?) IF NOT EXISTS`,
		ReleaseEmail:       `DELETE FROM accounts_by_email WHERE email = ? IF account_id = ?`,
		ReleaseUsername:    `DELETE FROM accounts_by_username WHERE username_key = ? IF account_id = ?`,
		InsertAccount:      `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		SelectIDByEmail:    `SELECT account_id FROM accounts_by_email WHERE email = ?`,
		SelectIDByUsername: `SELECT account_id FROM accounts_by_username WHERE username_key = ?`,
		SelectIDByReset:    `SELECT account_id FROM accounts_by_reset_token WHERE token_hash = ?`,
		UpdateProfile: `UPDATE accounts SET email_verified = ?, role = ?, is_active = ?, first_name = ?,
			last_name = ?, phone_encrypted = ?, profile_image = ?, areas_of_interest = ?, updated_at = ?
			WHERE account_id = ?`,
		UpdatePassword:      `UPDATE accounts SET password_hash = ? WHERE account_id = ?`,
		UpdateReset:         `UPDATE accounts SET reset_token_hash = ?, reset_expires_at = ? WHERE account_id = ?`,
		InsertResetIndex:    `INSERT INTO accounts_by_reset_token (token_hash, account_id) VALUES (?, ?) USING TTL ?`,
		DeleteResetIndex:    `DELETE FROM accounts_by_reset_token WHERE token_hash = ?`,
		SelectResetTokenFor: `SELECT reset_token_hash FROM accounts WHERE account_id = ?`,
	}
}

type ScyllaClient struct {
	Session *gocql.Session
	logger  *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if tlsFiles := scyllaConfig.TLS; tlsFiles.CAFile != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 tlsFiles.CAFile,
			CertPath:               tlsFiles.CertFile,
			KeyPath:                tlsFiles.KeyFile,
			EnableHostVerification: cfg.IsProduction(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		logger:  logger,
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the account tables in the session keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Exec(ctx context.Context, stmt string, values ...any) error {
	return s.Session.Query(stmt, values...).WithContext(ctx).Exec()
}

// ExecCAS runs a lightweight transaction and reports whether it applied.
func (s *ScyllaClient) ExecCAS(ctx context.Context, stmt string, values ...any) (bool, error) {
	return s.Session.Query(stmt, values...).WithContext(ctx).MapScanCAS(map[string]any{})
}

// ExecBatch applies entries as one logged batch.
func (s *ScyllaClient) ExecBatch(ctx context.Context, entries []BatchEntry) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, e := range entries {
		batch.Query(e.Stmt, e.Values...)
	}
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// Scan reads one row into dest, retrying failures other than a missing
// row. A missing row is gocql.ErrNotFound.
func (s *ScyllaClient) Scan(ctx context.Context, stmt string, values []any, dest ...any) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := s.Session.Query(stmt, values...).WithContext(ctx).Scan(dest...)
		if err == nil || errors.Is(err, gocql.ErrNotFound) {
			return err
		}
		lastErr = err
		if i == 2 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return lastErr
}
