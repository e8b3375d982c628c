package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	return errors.New("store offline")
}

type fakeClickHouse struct {
	mu    sync.Mutex
	ddl   []string
	query string
	rows  [][]interface{}
}

func (f *fakeClickHouse) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ddl = append(f.ddl, query)
	return nil
}

func (f *fakeClickHouse) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	f.rows = append(f.rows, data...)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indices []string
	ids     []string
	failID  string
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failID {
		return errors.New("mapping conflict")
	}
	f.indices = append(f.indices, index)
	f.ids = append(f.ids, id)
	return nil
}

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, sinks ...Sink) *Recorder {
	t.Helper()
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, []byte("pepper"))
	buckets := bucketing.NewManager(config.BucketingConfig{EventBuckets: 8})
	return NewRecorder(Config{BufferSize: 16, BatchSize: 4, FlushInterval: time.Hour}, sinks, hasher, buckets, util.NewFakeClock(start), zap.NewNop())
}

func TestRecorderFlushesOnClose(t *testing.T) {
	sink := NewMemorySink()
	r := newTestRecorder(t, sink)

	r.Record(Entry{Type: models.EventRegister, AccountID: "acc-1", Email: "A@B.com", Success: true})
	r.Record(Entry{Type: models.EventLoginFailure, Email: "a@b.com", Details: map[string]interface{}{"reason": "bad_password"}})
	r.Close()

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, []string{models.EventRegister, models.EventLoginFailure}, sink.Types())

	first := events[0]
	assert.NotEmpty(t, first.EventID)
	assert.Equal(t, "2025-06-01", first.EventDate)
	assert.Equal(t, start, first.EventTime)
	assert.Less(t, first.EventBucket, 8)
	assert.True(t, first.Success)

	assert.NotEmpty(t, first.EmailHash)
	assert.NotContains(t, first.EmailHash, "@")
	assert.Equal(t, first.EmailHash, events[1].EmailHash, "digest is over the normalized email")
	assert.Equal(t, `{"reason":"bad_password"}`, events[1].Details)
}

func TestRecorderFlushesFullBatches(t *testing.T) {
	sink := NewMemorySink()
	r := newTestRecorder(t, sink)
	defer r.Close()

	for i := 0; i < 4; i++ {
		r.Record(Entry{Type: models.EventOTPIssued, AccountID: "acc"})
	}

	assert.Eventually(t, func() bool { return len(sink.Events()) == 4 }, time.Second, 10*time.Millisecond)
}

func TestRecorderIgnoresAfterClose(t *testing.T) {
	sink := NewMemorySink()
	r := newTestRecorder(t, sink)
	r.Close()
	r.Close()

	r.Record(Entry{Type: models.EventLogout})
	assert.Empty(t, sink.Events())
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Record(Entry{Type: models.EventLogout})
	r.Close()
	assert.Zero(t, r.Dropped())
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	sink := NewMemorySink()
	r := newTestRecorder(t, failingSink{}, sink)

	r.Record(Entry{Type: models.EventLogout, AccountID: "acc"})
	r.Close()

	assert.Len(t, sink.Events(), 1)
}

func TestClickHouseSinkRows(t *testing.T) {
	db := &fakeClickHouse{}
	sink := NewClickHouseSink(db)
	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.Len(t, db.ddl, 1)
	assert.Contains(t, db.ddl[0], "CREATE TABLE IF NOT EXISTS security_events")

	r := newTestRecorder(t, sink)
	r.Record(Entry{Type: models.EventOTPVerified, AccountID: "acc-9", Success: true})
	r.Close()

	require.Len(t, db.rows, 1)
	assert.True(t, strings.HasPrefix(db.query, "INSERT INTO security_events"))
	row := db.rows[0]
	require.Len(t, row, 12)
	assert.Equal(t, models.EventOTPVerified, row[4])
	assert.Equal(t, "acc-9", row[5])
	assert.Equal(t, true, row[10])
}

func TestElasticsearchSinkMonthlyIndex(t *testing.T) {
	es := &fakeIndexer{}
	sink := NewElasticsearchSink(es, "auth-security-events")

	events := []models.SecurityEvent{
		{EventID: "e1", EventTime: start},
		{EventID: "e2", EventTime: start},
	}
	require.NoError(t, sink.Write(context.Background(), events))
	assert.Equal(t, []string{"auth-security-events-2025.06", "auth-security-events-2025.06"}, es.indices)

	es.failID = "e2"
	err := sink.Write(context.Background(), events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}
