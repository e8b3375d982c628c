package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", NormalizeEmail("  A@B.Com "))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("a@b.com"))
	assert.False(t, IsValidEmail("a@b"))
	assert.False(t, IsValidEmail("a b@c.com"))
	assert.False(t, IsValidEmail(""))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<img onerror=x>"))
	assert.True(t, ContainsSuspicious("{{ .Secret }}"))
	assert.False(t, ContainsSuspicious("Ada Lovelace"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("alice@example.com"))
	assert.Equal(t, "***", MaskEmail("nobody"))
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(10 * time.Minute)
	assert.Equal(t, start.Add(10*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
