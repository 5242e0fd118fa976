package transaction

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/database/models"
)

// Tx is one open database transaction. Every *ForUpdate read takes
// row-level locks, so concurrent transactions touching the same rows
// serialize inside the database regardless of what the callers believed
// when they validated.
type Tx interface {
	InventoryForUpdate(ctx context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error)
	BankForUpdate(ctx context.Context, playerID snowflake.ID) ([]models.BankEntry, error)
	PlayerForUpdate(ctx context.Context, playerID snowflake.ID) (*models.Player, error)

	DeleteInventorySlot(ctx context.Context, playerID snowflake.ID, slotIndex int) error
	SetInventoryQuantity(ctx context.Context, playerID snowflake.ID, slotIndex int, quantity int64) error
	InsertInventoryEntry(ctx context.Context, entry *models.InventoryEntry) error

	DeleteBankEntry(ctx context.Context, playerID snowflake.ID, itemID int64) error
	SetBankQuantity(ctx context.Context, playerID snowflake.ID, itemID int64, quantity int64) error
	InsertBankEntry(ctx context.Context, entry *models.BankEntry) error

	SetPlayerCoins(ctx context.Context, playerID snowflake.ID, coins int64) error
}

// Store opens serializable transactions and classifies their failures.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// IsRetryable reports whether err is a transient storage conflict
	// (serialization failure, deadlock, unique-constraint race) worth
	// retrying, as opposed to a validation failure.
	IsRetryable(err error) bool
}

// Cache is the slice of the player cache the coordinator needs: write
// pending mutations down before the transaction, refresh after commit.
type Cache interface {
	Flush(ctx context.Context, playerID snowflake.ID) error
	Reload(ctx context.Context, playerID snowflake.ID) error
}

// Locks is the advisory per-player transaction lock table.
type Locks interface {
	Lock(playerID snowflake.ID) bool
	Unlock(playerID snowflake.ID)
}

// Catalog answers item-definition questions during commit-time
// validation.
type Catalog interface {
	Tradeable(itemID int64) bool
	Stackable(itemID int64) bool
}
