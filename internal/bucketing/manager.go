// Package bucketing assigns audit events to bounded partitions.
package bucketing

import (
	"time"

	"github.com/spaolacci/murmur3"

	"otp-auth-service/internal/config"
)

// Manager hashes a partition key with murmur3 so one busy account cannot
// grow a single (event_type, day) partition without bound.
type Manager struct {
	buckets uint64
}

func NewManager(cfg config.BucketingConfig) *Manager {
	n := cfg.EventBuckets
	if n < 1 {
		n = 1
	}
	return &Manager{buckets: uint64(n)}
}

// EventBucket returns a stable bucket in [0, Buckets()) for key.
func (m *Manager) EventBucket(key string) int {
	return int(murmur3.Sum64([]byte(key)) % m.buckets)
}

// Day is the UTC date partition for t.
func (m *Manager) Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func (m *Manager) Buckets() int {
	return int(m.buckets)
}
