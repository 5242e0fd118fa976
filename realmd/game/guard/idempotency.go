package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Idempotency drops exact duplicate submissions inside a short window.
// It is distinct from the rate limiter: that caps throughput, this
// suppresses replays of one specific request (double-click, client
// retry after a dropped ack).
type Idempotency struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]time.Time
	nowFn   func() time.Time
}

func NewIdempotency(ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Idempotency{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

// Fingerprint builds the deterministic key for one request.
func Fingerprint(playerID snowflake.ID, action string, payload string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", playerID, action, payload)))
	return hex.EncodeToString(sum[:])
}

// CheckAndMark returns false if an unexpired entry for the fingerprint
// exists, otherwise records it and returns true. The check and the mark
// are one step so interleaved handlers cannot both pass.
func (s *Idempotency) CheckAndMark(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if expiry, ok := s.entries[fingerprint]; ok && now.Before(expiry) {
		return false
	}
	s.entries[fingerprint] = now.Add(s.ttl)
	return true
}

func (s *Idempotency) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for fp, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, fp)
		}
	}
}

// Run evicts expired fingerprints until ctx is cancelled.
func (s *Idempotency) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
