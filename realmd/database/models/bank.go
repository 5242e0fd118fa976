package models

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"
)

// BankEntry is one bank stack. The bank always stacks: at most one row per
// (player_id, item_id), enforced by a unique index.
type BankEntry struct {
	bun.BaseModel `bun:"table:bank_entries,alias:b"`

	ID       int64        `bun:"id,pk,autoincrement"`
	PlayerID snowflake.ID `bun:"player_id,notnull"`
	ItemID   int64        `bun:"item_id,notnull"`
	Quantity int64        `bun:"quantity,notnull"`
	Slot     int          `bun:"slot,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
