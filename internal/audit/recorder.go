package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	sinkWriteTimeout     = 10 * time.Second
)

// Entry is what callers report; the Recorder fills in identity, time and
// partitioning.
type Entry struct {
	Type      string
	AccountID string
	Email     string
	IPAddress string
	UserAgent string
	RequestID string
	Success   bool
	Details   map[string]interface{}
}

// Sink persists a batch of events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []models.SecurityEvent) error
}

type Digester interface {
	Digest(purpose, value string) string
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Recorder queues events on a buffered channel and a single worker writes
// them in batches to every sink. Record never blocks: a full buffer drops
// the event and counts it. A nil *Recorder records nothing.
type Recorder struct {
	cfg       Config
	sinks     []Sink
	digester  Digester
	buckets   *bucketing.Manager
	clock     util.Clock
	logger    *zap.Logger
	ch        chan models.SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewRecorder(cfg Config, sinks []Sink, digester Digester, buckets *bucketing.Manager, clock util.Clock, logger *zap.Logger) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	r := &Recorder{
		cfg:      cfg,
		sinks:    sinks,
		digester: digester,
		buckets:  buckets,
		clock:    clock,
		logger:   logger,
		ch:       make(chan models.SecurityEvent, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) Record(e Entry) {
	if r == nil || r.closed.Load() {
		return
	}

	event := r.build(e)
	select {
	case r.ch <- event:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Audit buffer full, event dropped", zap.String("event_type", e.Type))
	}
}

func (r *Recorder) build(e Entry) models.SecurityEvent {
	now := r.clock.Now()
	event := models.SecurityEvent{
		EventID:   uuid.NewString(),
		EventTime: now,
		EventDate: now.UTC().Format("2006-01-02"),
		EventType: e.Type,
		AccountID: e.AccountID,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
		Success:   e.Success,
	}
	if e.Email != "" && r.digester != nil {
		event.EmailHash = r.digester.Digest(hashing.PurposeEmail, util.NormalizeEmail(e.Email))
	}
	if r.buckets != nil {
		event.EventDate = r.buckets.Day(now)
		key := event.AccountID
		if key == "" {
			key = event.EmailHash
		}
		event.EventBucket = r.buckets.EventBucket(key)
	}
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			event.Details = string(raw)
		}
	}
	return event
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = make([]models.SecurityEvent, 0, r.cfg.BatchSize)
	}

	for {
		select {
		case event := <-r.ch:
			batch = append(batch, event)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			for {
				select {
				case event := <-r.ch:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// write fans the batch out to every sink. A failing sink is logged and
// does not stop the others.
func (r *Recorder) write(batch []models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, batch); err != nil {
				r.logger.Error("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.Int("events", len(batch)),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops accepting events and flushes what is queued.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
