package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/game/transaction"
)

// TxStore runs coordinator operations as serializable transactions.
// Reads inside the transaction take FOR UPDATE row locks, so conflicting
// operations either wait or abort with a retryable SQLSTATE.
type TxStore struct {
	db *bun.DB
}

func NewTxStore(db *DB) *TxStore {
	return &TxStore{db: db.BunDB()}
}

func (s *TxStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx transaction.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &bunTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsRetryable matches the SQLSTATEs a serializable workload produces
// under contention: serialization failure, deadlock, and the duplicate
// key that loses an insert race against a unique index.
func (s *TxStore) IsRetryable(err error) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Field('C') {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type bunTx struct {
	tx bun.Tx
}

func (t *bunTx) InventoryForUpdate(ctx context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error) {
	var entries []models.InventoryEntry
	err := t.tx.NewSelect().
		Model(&entries).
		Where("player_id = ?", playerID).
		Order("slot_index ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory of player %d: %w", playerID, err)
	}
	return entries, nil
}

func (t *bunTx) BankForUpdate(ctx context.Context, playerID snowflake.ID) ([]models.BankEntry, error) {
	var entries []models.BankEntry
	err := t.tx.NewSelect().
		Model(&entries).
		Where("player_id = ?", playerID).
		Order("slot ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock bank of player %d: %w", playerID, err)
	}
	return entries, nil
}

func (t *bunTx) PlayerForUpdate(ctx context.Context, playerID snowflake.ID) (*models.Player, error) {
	player := new(models.Player)
	err := t.tx.NewSelect().
		Model(player).
		Where("id = ?", playerID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock player %d: %w", playerID, err)
	}
	return player, nil
}

func (t *bunTx) DeleteInventorySlot(ctx context.Context, playerID snowflake.ID, slotIndex int) error {
	_, err := t.tx.NewDelete().
		Model((*models.InventoryEntry)(nil)).
		Where("player_id = ? AND slot_index = ?", playerID, slotIndex).
		Exec(ctx)
	return err
}

func (t *bunTx) SetInventoryQuantity(ctx context.Context, playerID snowflake.ID, slotIndex int, quantity int64) error {
	res, err := t.tx.NewUpdate().
		Model((*models.InventoryEntry)(nil)).
		Set("quantity = ?", quantity).
		Where("player_id = ? AND slot_index = ?", playerID, slotIndex).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("no inventory row at slot %d for player %d", slotIndex, playerID)
	}
	return nil
}

func (t *bunTx) InsertInventoryEntry(ctx context.Context, entry *models.InventoryEntry) error {
	_, err := t.tx.NewInsert().
		Model(entry).
		Exec(ctx)
	return err
}

func (t *bunTx) DeleteBankEntry(ctx context.Context, playerID snowflake.ID, itemID int64) error {
	_, err := t.tx.NewDelete().
		Model((*models.BankEntry)(nil)).
		Where("player_id = ? AND item_id = ?", playerID, itemID).
		Exec(ctx)
	return err
}

func (t *bunTx) SetBankQuantity(ctx context.Context, playerID snowflake.ID, itemID int64, quantity int64) error {
	res, err := t.tx.NewUpdate().
		Model((*models.BankEntry)(nil)).
		Set("quantity = ?", quantity).
		Where("player_id = ? AND item_id = ?", playerID, itemID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("no bank row for item %d of player %d", itemID, playerID)
	}
	return nil
}

func (t *bunTx) InsertBankEntry(ctx context.Context, entry *models.BankEntry) error {
	_, err := t.tx.NewInsert().
		Model(entry).
		Exec(ctx)
	return err
}

func (t *bunTx) SetPlayerCoins(ctx context.Context, playerID snowflake.ID, coins int64) error {
	res, err := t.tx.NewUpdate().
		Model((*models.Player)(nil)).
		Set("coins = ?", coins).
		Where("id = ?", playerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("player %d not found", playerID)
	}
	return nil
}
