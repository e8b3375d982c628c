package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"otp-auth-service/internal/config"
)

func TestEventBucketIsStableAndInRange(t *testing.T) {
	m := NewManager(config.BucketingConfig{EventBuckets: 16})

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("acct-%d", i)
		b := m.EventBucket(key)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, m.EventBucket(key))
	}
}

func TestEventBucketSpreadsKeys(t *testing.T) {
	m := NewManager(config.BucketingConfig{EventBuckets: 8})

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[m.EventBucket(fmt.Sprintf("id-%d", i))] = true
	}
	assert.Len(t, seen, 8)
}

func TestNonPositiveBucketCountClamps(t *testing.T) {
	m := NewManager(config.BucketingConfig{})
	assert.Equal(t, 0, m.EventBucket("x"))
	assert.Equal(t, 1, m.Buckets())
}

func TestDayUsesUTC(t *testing.T) {
	m := NewManager(config.BucketingConfig{EventBuckets: 1})
	loc := time.FixedZone("UTC+10", 10*3600)
	ts := time.Date(2025, 1, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2025-01-01", m.Day(ts))
}
