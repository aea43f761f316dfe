package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/reservio/internal/clock"
)

// MemoryStore is the single-process fallback used when no redis address is
// configured, and the store the tests run against.
type MemoryStore struct {
	clock clock.Clock

	mu     sync.Mutex
	leases map[string]time.Time
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:  clk,
		leases: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Claim(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if expiry, ok := s.leases[key]; ok && now.Before(expiry) {
		return ErrAlreadyClaimed
	}
	s.leases[key] = now.Add(ttl)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, key)
	return nil
}
