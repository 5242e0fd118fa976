package transaction

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
	"github.com/duskridge/realmd/realmd/logger"
)

const (
	maxAttempts = 3
	backoffBase = 10 * time.Millisecond
)

// Coordinator executes named atomic operations against persisted
// inventory/bank state: lock every affected player, flush their caches,
// run a serializable transaction that re-validates against row-locked
// state, then reload caches and emit reconciliation events.
type Coordinator struct {
	store   Store
	cache   Cache
	locks   Locks
	catalog Catalog
	bus     *events.Bus
}

func NewCoordinator(store Store, cache Cache, locks Locks, catalog Catalog, bus *events.Bus) *Coordinator {
	return &Coordinator{
		store:   store,
		cache:   cache,
		locks:   locks,
		catalog: catalog,
		bus:     bus,
	}
}

func sortedUnique(ids []snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// run is the shared protocol. Locks are taken in ascending player-ID
// order so two operations over the same pair can never deadlock on each
// other, and released in reverse on every exit path.
func (c *Coordinator) run(ctx context.Context, op string, players []snowflake.ID, fn func(ctx context.Context, tx Tx) error) error {
	ids := sortedUnique(players)

	acquired := make([]snowflake.ID, 0, len(ids))
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			c.locks.Unlock(acquired[i])
		}
	}()

	for _, id := range ids {
		if !c.locks.Lock(id) {
			return game.E(game.CodeServerError, "player %d has a transaction in flight, try again", id)
		}
		acquired = append(acquired, id)
	}

	for _, id := range ids {
		if err := c.cache.Flush(ctx, id); err != nil {
			return game.E(game.CodeServerError, "failed to flush player %d: %v", id, err)
		}
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err = c.store.RunInTx(ctx, fn)
		logger.LogTxn(op, attempt, time.Since(start), err)

		if err == nil || !c.store.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		// Jittered backoff so colliding retries spread out instead of
		// stampeding back into the same rows.
		backoff := backoffBase*time.Duration(attempt) + time.Duration(rand.Int63n(int64(backoffBase)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		if c.store.IsRetryable(err) {
			return game.E(game.CodeServerError, "storage conflict on %s, try again", op)
		}
		return err
	}

	// The commit is durable at this point. A failed reload leaves a
	// stale cache, which the next Get or autosave pass corrects, so it
	// must not fail the operation.
	for _, id := range ids {
		if rerr := c.cache.Reload(ctx, id); rerr != nil {
			slog.Error("Failed to reload player cache after commit",
				slog.String("type", "txn"),
				slog.String("op", op),
				slog.Any("player_id", id),
				slog.Any("error", rerr))
		}
	}
	return nil
}

func (c *Coordinator) emitReconciliation(t events.Type, playerID snowflake.ID, stacks []events.ItemStack) {
	if len(stacks) == 0 {
		return
	}
	e := events.New(t)
	e.PlayerID = playerID
	e.Items = stacks
	c.bus.Publish(e)
}
