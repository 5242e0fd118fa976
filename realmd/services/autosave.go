package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/duskridge/realmd/realmd/cache"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game/guard"
)

const maxConcurrentFlushes = 4

// Autosave periodically writes dirty cached player state to storage.
// Players with a transaction in flight are skipped; the coordinator
// flushes and reloads them itself, and writing underneath it would race
// the commit.
type Autosave struct {
	cache    *cache.PlayerCache
	locks    *guard.LockTable
	interval time.Duration
}

func NewAutosave(playerCache *cache.PlayerCache, locks *guard.LockTable, interval time.Duration) *Autosave {
	return &Autosave{
		cache:    playerCache,
		locks:    locks,
		interval: interval,
	}
}

// Attach subscribes to the event bus so that players involved in recent
// activity stay resident in the cache.
func (a *Autosave) Attach(bus *events.Bus) {
	bus.Subscribe(func(e events.Event) {
		if e.PlayerID != 0 {
			a.cache.Touch(e.PlayerID)
		}
		if e.OtherID != 0 {
			a.cache.Touch(e.OtherID)
		}
	})
}

// Run flushes on a fixed interval until the context is cancelled, then
// performs one final pass so shutdown does not drop mutations.
func (a *Autosave) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.Pass(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			a.Pass(ctx)
		}
	}
}

// Pass flushes every dirty player once, a bounded number at a time.
func (a *Autosave) Pass(ctx context.Context) {
	dirty := a.cache.DirtyPlayers()
	if len(dirty) == 0 {
		return
	}

	start := time.Now()
	sem := semaphore.NewWeighted(maxConcurrentFlushes)
	g, gctx := errgroup.WithContext(ctx)

	var flushed, skipped int
	for _, id := range dirty {
		if a.locks.Held(id) {
			skipped++
			continue
		}
		playerID := id
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		flushed++
		g.Go(func() error {
			defer sem.Release(1)
			if err := a.cache.Flush(gctx, playerID); err != nil {
				slog.Error("Autosave flush failed",
					slog.String("type", "db"),
					slog.Any("player_id", playerID),
					slog.Any("error", err))
			}
			return nil
		})
	}
	g.Wait()

	slog.Debug("Autosave pass complete",
		slog.String("type", "sys"),
		slog.Int("flushed", flushed),
		slog.Int("skipped", skipped),
		slog.Duration("took", time.Since(start)))
}

// FlushPlayer saves one player immediately, used on disconnect.
func (a *Autosave) FlushPlayer(ctx context.Context, playerID snowflake.ID) error {
	if a.locks.Held(playerID) {
		return nil
	}
	return a.cache.Flush(ctx, playerID)
}
