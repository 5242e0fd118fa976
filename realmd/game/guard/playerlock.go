package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

const (
	// lockDuration is a safety net: a lock older than this is considered
	// leaked (crashed operation) and reclaimed by the sweeper. Every
	// well-behaved caller unlocks on all exit paths long before this.
	lockDuration  = 30 * time.Second
	sweepInterval = 15 * time.Second
)

// LockTable is the advisory per-player transaction lock. Lock never
// blocks: a second concurrent acquisition fails fast and the caller is
// expected to retry from the top.
type LockTable struct {
	locks sync.Map // snowflake.ID -> time.Time (expiry)
	nowFn func() time.Time
}

func NewLockTable() *LockTable {
	return &LockTable{nowFn: time.Now}
}

// Lock attempts to take the player's transaction lock. Returns false if
// it is already held.
func (t *LockTable) Lock(playerID snowflake.ID) bool {
	now := t.nowFn()
	expiry := now.Add(lockDuration)

	if actual, loaded := t.locks.LoadOrStore(playerID, expiry); loaded {
		if now.Before(actual.(time.Time)) {
			return false
		}
		// Expired hold left by a crashed operation; take it over.
		t.locks.Store(playerID, expiry)
	}
	return true
}

func (t *LockTable) Unlock(playerID snowflake.ID) {
	t.locks.Delete(playerID)
}

// Held reports whether the player's lock is currently taken. Used by
// autosave to skip players that are mid-commit.
func (t *LockTable) Held(playerID snowflake.ID) bool {
	v, ok := t.locks.Load(playerID)
	return ok && t.nowFn().Before(v.(time.Time))
}

func (t *LockTable) sweep() {
	now := t.nowFn()
	t.locks.Range(func(key, value interface{}) bool {
		if now.After(value.(time.Time)) {
			t.locks.Delete(key)
			slog.Warn("Reclaimed expired transaction lock",
				slog.String("type", "txn"),
				slog.Any("player_id", key))
		}
		return true
	})
}

// Run sweeps leaked locks until ctx is cancelled.
func (t *LockTable) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}
