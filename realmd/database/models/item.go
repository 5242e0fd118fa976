package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ItemDefinition struct {
	bun.BaseModel `bun:"table:item_definitions,alias:i"`

	ID        int64  `bun:"id,pk"`
	Name      string `bun:"name,notnull"`
	Stackable bool   `bun:"stackable,notnull,default:false"`
	Tradeable bool   `bun:"tradeable,notnull,default:true"`
	Value     int64  `bun:"value,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
