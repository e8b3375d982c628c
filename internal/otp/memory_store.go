package otp

import (
	"context"
	"sync"
	"time"

	"otp-auth-service/internal/hashing"
)

// MemoryStore keeps challenges in process behind a single mutex.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	lastIssued map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]Challenge),
		lastIssued: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Put(_ context.Context, ch Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.Email] = ch
	s.lastIssued[ch.Email] = ch.IssuedAt
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, email, digest string, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[email]
	if !ok {
		return Result{Outcome: OutcomeNotFound}, nil
	}
	if now.After(ch.ExpiresAt) {
		delete(s.challenges, email)
		return Result{Outcome: OutcomeExpired}, nil
	}
	if !hashing.DigestEqual(ch.CodeDigest, digest) {
		ch.Attempts++
		if ch.Attempts >= ch.MaxAttempts {
			delete(s.challenges, email)
			return Result{Outcome: OutcomeExhausted}, nil
		}
		s.challenges[email] = ch
		return Result{Outcome: OutcomeMismatch, Remaining: ch.MaxAttempts - ch.Attempts}, nil
	}

	delete(s.challenges, email)
	return Result{Outcome: OutcomeOK}, nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, email)
	return nil
}

func (s *MemoryStore) ClaimCooldown(_ context.Context, email string, cooldown time.Duration, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastIssued[email]; ok {
		if elapsed := now.Sub(last); elapsed < cooldown {
			return cooldown - elapsed, nil
		}
	}
	s.lastIssued[email] = now
	return 0, nil
}
