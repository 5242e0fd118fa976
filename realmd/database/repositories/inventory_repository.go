package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/uptrace/bun"
)

type InventoryRepository interface {
	DB() *bun.DB
	GetByPlayerID(ctx context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error)
	GetBySlot(ctx context.Context, playerID snowflake.ID, slotIndex int) (*models.InventoryEntry, error)
	ReplaceForPlayer(ctx context.Context, playerID snowflake.ID, entries []models.InventoryEntry) error
}

type inventoryRepository struct {
	db *bun.DB
}

func NewInventoryRepository(db *bun.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) DB() *bun.DB {
	return r.db
}

func (r *inventoryRepository) GetByPlayerID(ctx context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error) {
	var entries []models.InventoryEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("player_id = ?", playerID).
		Order("slot_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return entries, nil
}

func (r *inventoryRepository) GetBySlot(ctx context.Context, playerID snowflake.ID, slotIndex int) (*models.InventoryEntry, error) {
	entry := new(models.InventoryEntry)
	err := r.db.NewSelect().
		Model(entry).
		Where("player_id = ? AND slot_index = ?", playerID, slotIndex).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("slot %d is empty", slotIndex)
		}
		return nil, fmt.Errorf("failed to get inventory slot: %w", err)
	}
	return entry, nil
}

// ReplaceForPlayer swaps a player's full inventory in one transaction.
// Used by the cache flush path, which always writes whole snapshots.
func (r *inventoryRepository) ReplaceForPlayer(ctx context.Context, playerID snowflake.ID, entries []models.InventoryEntry) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.InventoryEntry)(nil)).
			Where("player_id = ?", playerID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear inventory: %w", err)
		}

		if len(entries) == 0 {
			return nil
		}

		now := time.Now()
		for i := range entries {
			entries[i].ID = 0
			entries[i].PlayerID = playerID
			entries[i].UpdatedAt = now
		}
		if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
			return fmt.Errorf("failed to write inventory: %w", err)
		}
		return nil
	})
}
