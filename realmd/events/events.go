package events

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type Type string

const (
	TradeRequested Type = "trade.requested"
	TradeAccepted  Type = "trade.accepted"
	TradeCancelled Type = "trade.cancelled"
	TradeCompleted Type = "trade.completed"

	// Reconciliation events: a coordinator committed a mutation and the
	// player's cache has been reloaded. Autosave and client sync key off
	// these so stale cached state is never written back over the commit.
	ItemAdded   Type = "item.added"
	ItemRemoved Type = "item.removed"
)

type ItemStack struct {
	ItemID   int64 `json:"itemId" bson:"item_id"`
	Quantity int64 `json:"quantity" bson:"quantity"`
}

type Event struct {
	ID       snowflake.ID `bson:"_id"`
	Type     Type         `bson:"type"`
	At       time.Time    `bson:"at"`
	PlayerID snowflake.ID `bson:"player_id,omitempty"`
	OtherID  snowflake.ID `bson:"other_id,omitempty"`
	TradeID  string       `bson:"trade_id,omitempty"`
	Reason   string       `bson:"reason,omitempty"`
	Items    []ItemStack  `bson:"items,omitempty"`
}

// New stamps an event with a fresh snowflake ID and the current time.
func New(t Type) Event {
	now := time.Now()
	return Event{ID: snowflake.New(now), Type: t, At: now}
}
