package models

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"
)

// InventoryEntry is one occupied inventory slot. Non-stackable items keep
// quantity 1 and occupy a row per physical item; stackable items aggregate
// into a single row.
type InventoryEntry struct {
	bun.BaseModel `bun:"table:inventory_entries,alias:inv"`

	ID        int64        `bun:"id,pk,autoincrement"`
	PlayerID  snowflake.ID `bun:"player_id,notnull"`
	ItemID    int64        `bun:"item_id,notnull"`
	Quantity  int64        `bun:"quantity,notnull,default:1"`
	SlotIndex int          `bun:"slot_index,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
