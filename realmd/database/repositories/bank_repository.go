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

type BankRepository interface {
	DB() *bun.DB
	GetByPlayerID(ctx context.Context, playerID snowflake.ID) ([]models.BankEntry, error)
	GetByItem(ctx context.Context, playerID snowflake.ID, itemID int64) (*models.BankEntry, error)
	ReplaceForPlayer(ctx context.Context, playerID snowflake.ID, entries []models.BankEntry) error
}

type bankRepository struct {
	db *bun.DB
}

func NewBankRepository(db *bun.DB) BankRepository {
	return &bankRepository{db: db}
}

func (r *bankRepository) DB() *bun.DB {
	return r.db
}

func (r *bankRepository) GetByPlayerID(ctx context.Context, playerID snowflake.ID) ([]models.BankEntry, error) {
	var entries []models.BankEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("player_id = ?", playerID).
		Order("slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}
	return entries, nil
}

func (r *bankRepository) GetByItem(ctx context.Context, playerID snowflake.ID, itemID int64) (*models.BankEntry, error) {
	entry := new(models.BankEntry)
	err := r.db.NewSelect().
		Model(entry).
		Where("player_id = ? AND item_id = ?", playerID, itemID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no bank stack for item %d", itemID)
		}
		return nil, fmt.Errorf("failed to get bank stack: %w", err)
	}
	return entry, nil
}

func (r *bankRepository) ReplaceForPlayer(ctx context.Context, playerID snowflake.ID, entries []models.BankEntry) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.BankEntry)(nil)).
			Where("player_id = ?", playerID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear bank: %w", err)
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
			return fmt.Errorf("failed to write bank: %w", err)
		}
		return nil
	})
}
