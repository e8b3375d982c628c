package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"otp-auth-service/internal/models"
)

const clickhouseSchema = `CREATE TABLE IF NOT EXISTS security_events (
	event_id     String,
	event_bucket UInt16,
	event_date   Date,
	event_time   DateTime64(3, 'UTC'),
	event_type   LowCardinality(String),
	account_id   String,
	email_hash   String,
	ip_address   String,
	user_agent   String,
	request_id   String,
	success      Bool,
	details      String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_type, event_bucket, event_time)
TTL event_date + INTERVAL 1 YEAR`

const clickhouseInsert = `INSERT INTO security_events (
	event_id, event_bucket, event_date, event_time, event_type, account_id,
	email_hash, ip_address, user_agent, request_id, success, details)`

// BatchInserter is satisfied by client.ClickHouseClient.
type BatchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

type ClickHouseSink struct {
	db BatchInserter
}

func NewClickHouseSink(db BatchInserter) *ClickHouseSink {
	return &ClickHouseSink{db: db}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureSchema creates the events table when missing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, clickhouseSchema); err != nil {
		return fmt.Errorf("create security_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.EventID,
			uint16(e.EventBucket),
			e.EventTime,
			e.EventTime,
			e.EventType,
			e.AccountID,
			e.EmailHash,
			e.IPAddress,
			e.UserAgent,
			e.RequestID,
			e.Success,
			e.Details,
		})
	}
	return s.db.BatchInsert(ctx, clickhouseInsert, rows)
}

// Indexer is satisfied by client.ESClient.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink writes one document per event into monthly indices
// named <prefix>-YYYY.MM.
type ElasticsearchSink struct {
	es     Indexer
	prefix string
}

func NewElasticsearchSink(es Indexer, prefix string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, prefix: prefix}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	var failures []string
	for _, e := range events {
		index := s.prefix + "-" + e.EventTime.UTC().Format("2006.01")
		if err := s.es.IndexDocument(ctx, index, e.EventID, e); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d events not indexed: %s", len(failures), len(events), strings.Join(failures, "; "))
	}
	return nil
}

// LogSink writes events to the application log. Used when no analytics
// store is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	for _, e := range events {
		s.logger.Info("security event",
			zap.String("event_type", e.EventType),
			zap.String("account_id", e.AccountID),
			zap.Bool("success", e.Success),
			zap.String("request_id", e.RequestID),
		)
	}
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(ctx context.Context, events []models.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Events() []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SecurityEvent(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *MemorySink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}
