package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/database/repositories"
	"github.com/duskridge/realmd/realmd/logger"
)

// PlayerState is the in-memory working copy of one player's containers.
// Handlers mutate it freely between persistence points; the autosave
// loop and the transaction coordinator decide when it hits storage.
type PlayerState struct {
	Inventory []models.InventoryEntry
	Bank      []models.BankEntry

	dirty    bool
	loadedAt time.Time
}

func (s *PlayerState) Dirty() bool {
	return s.dirty
}

// PlayerCache keeps recently active players' state resident, bounded by
// an LRU. Evicting a dirty player flushes it first so nothing is lost.
type PlayerCache struct {
	mu       sync.Mutex
	entries  *lru.Cache // snowflake.ID -> *PlayerState
	invRepo  repositories.InventoryRepository
	bankRepo repositories.BankRepository
}

func NewPlayerCache(size int, invRepo repositories.InventoryRepository, bankRepo repositories.BankRepository) (*PlayerCache, error) {
	c := &PlayerCache{invRepo: invRepo, bankRepo: bankRepo}

	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache index: %w", err)
	}
	c.entries = entries
	return c, nil
}

func (c *PlayerCache) onEvict(key, value interface{}) {
	st := value.(*PlayerState)
	if !st.dirty {
		return
	}

	playerID := key.(snowflake.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.writeState(ctx, playerID, st); err != nil {
		slog.Error("Failed to flush evicted player state",
			slog.String("type", "db"),
			slog.Any("player_id", playerID),
			slog.Any("error", err))
		return
	}
	slog.Debug("Flushed evicted player state",
		slog.String("type", "db"),
		slog.Any("player_id", playerID))
}

func (c *PlayerCache) load(ctx context.Context, playerID snowflake.ID) (*PlayerState, error) {
	inv, err := c.invRepo.GetByPlayerID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	bank, err := c.bankRepo.GetByPlayerID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return &PlayerState{Inventory: inv, Bank: bank, loadedAt: time.Now()}, nil
}

func (c *PlayerCache) writeState(ctx context.Context, playerID snowflake.ID, st *PlayerState) error {
	start := time.Now()
	err := c.invRepo.ReplaceForPlayer(ctx, playerID, st.Inventory)
	if err == nil {
		err = c.bankRepo.ReplaceForPlayer(ctx, playerID, st.Bank)
	}
	logger.LogQuery(fmt.Sprintf("flush player %d containers", playerID), time.Since(start), err)
	if err != nil {
		return err
	}
	st.dirty = false
	return nil
}

// Get returns the player's cached state, loading it from storage on a
// miss.
func (c *PlayerCache) Get(ctx context.Context, playerID snowflake.ID) (*PlayerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Get(playerID); ok {
		return v.(*PlayerState), nil
	}

	st, err := c.load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player %d: %w", playerID, err)
	}
	c.entries.Add(playerID, st)
	return st, nil
}

// markDirty flags a resident player as having unsaved mutations. The
// flush, eviction, and autosave paths all key off this flag.
func (c *PlayerCache) markDirty(playerID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Peek(playerID); ok {
		v.(*PlayerState).dirty = true
	}
}

// Flush writes the player's cached state through to storage if dirty.
func (c *PlayerCache) Flush(ctx context.Context, playerID snowflake.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Peek(playerID)
	if !ok {
		return nil
	}
	st := v.(*PlayerState)
	if !st.dirty {
		return nil
	}
	return c.writeState(ctx, playerID, st)
}

// Reload discards the cached copy and re-reads from storage. Called
// after a coordinator commit so autosave can never write back the
// pre-commit state.
func (c *PlayerCache) Reload(ctx context.Context, playerID snowflake.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.load(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to reload player %d: %w", playerID, err)
	}
	c.entries.Add(playerID, st)
	return nil
}

// Touch refreshes the player's recency so active players stay resident.
func (c *PlayerCache) Touch(playerID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Get(playerID)
}

// DirtyPlayers lists residents with unsaved mutations, for autosave.
func (c *PlayerCache) DirtyPlayers() []snowflake.ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []snowflake.ID
	for _, key := range c.entries.Keys() {
		if v, ok := c.entries.Peek(key); ok && v.(*PlayerState).dirty {
			ids = append(ids, key.(snowflake.ID))
		}
	}
	return ids
}
