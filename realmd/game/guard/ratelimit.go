package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// staleAfter controls how long an untouched window survives before the
// background sweep drops it, bounding memory across many players.
const staleAfter = 5 * time.Minute

type window struct {
	count   int
	resetAt time.Time
	touched time.Time
}

// RateLimiter is a fixed one-second-window request counter per player.
// One instance exists per operation class, each with its own limit tuned
// to that action's legitimate burst rate.
type RateLimiter struct {
	class   string
	limit   int
	window  time.Duration
	mu      sync.Mutex
	windows map[snowflake.ID]*window
	nowFn   func() time.Time
}

func NewRateLimiter(class string, limit int) *RateLimiter {
	return &RateLimiter{
		class:   class,
		limit:   limit,
		window:  time.Second,
		windows: make(map[snowflake.ID]*window),
		nowFn:   time.Now,
	}
}

// Allow reports whether the player may perform another action in the
// current window. A rejected request does not advance the counter.
func (rl *RateLimiter) Allow(playerID snowflake.ID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	w, ok := rl.windows[playerID]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[playerID] = &window{count: 1, resetAt: now.Add(rl.window), touched: now}
		return true
	}

	w.touched = now
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	removed := 0
	for id, w := range rl.windows {
		if now.Sub(w.touched) > staleAfter {
			delete(rl.windows, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Swept stale rate limit windows",
			slog.String("class", rl.class),
			slog.Int("removed", removed))
	}
}

// Run evicts stale windows until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}
