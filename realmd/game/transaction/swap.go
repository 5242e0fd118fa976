package transaction

import (
	"context"
	"sort"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
	"github.com/duskridge/realmd/realmd/game/trade"
)

type SwapResult struct {
	TradeID           string
	InitiatorReceives []events.ItemStack
	RecipientReceives []events.ItemStack
}

// slotState is the planned post-swap content of one inventory slot.
type slotState struct {
	itemID int64
	qty    int64
}

// ExecuteTradeSwap delivers a finalized trade plan atomically: both
// inventories are re-validated under row locks, removals are applied
// before insertions so vacated slots become usable within the same
// operation, and either everything commits or nothing does.
func (c *Coordinator) ExecuteTradeSwap(ctx context.Context, plan *trade.Completed) (*SwapResult, error) {
	err := c.run(ctx, "trade_swap", []snowflake.ID{plan.InitiatorID, plan.RecipientID}, func(ctx context.Context, tx Tx) error {
		return c.applySwap(ctx, tx, plan)
	})
	if err != nil {
		return nil, err
	}

	c.emitReconciliation(events.ItemRemoved, plan.InitiatorID, plan.RecipientReceives())
	c.emitReconciliation(events.ItemAdded, plan.InitiatorID, plan.InitiatorReceives())
	c.emitReconciliation(events.ItemRemoved, plan.RecipientID, plan.InitiatorReceives())
	c.emitReconciliation(events.ItemAdded, plan.RecipientID, plan.RecipientReceives())

	return &SwapResult{
		TradeID:           plan.TradeID,
		InitiatorReceives: plan.InitiatorReceives(),
		RecipientReceives: plan.RecipientReceives(),
	}, nil
}

func (c *Coordinator) applySwap(ctx context.Context, tx Tx, plan *trade.Completed) error {
	type side struct {
		playerID snowflake.ID
		gives    []trade.OfferItem
		fullCode game.Code
		original map[int]slotState // locked rows as read
		planned  map[int]slotState // rows after removals and merges
	}

	sides := [2]*side{
		{playerID: plan.InitiatorID, gives: plan.InitiatorGives, fullCode: game.CodeInventoryFullInitiator},
		{playerID: plan.RecipientID, gives: plan.RecipientGives, fullCode: game.CodeInventoryFullRecipient},
	}

	for _, s := range sides {
		entries, err := tx.InventoryForUpdate(ctx, s.playerID)
		if err != nil {
			return err
		}
		s.original = make(map[int]slotState, len(entries))
		for _, e := range entries {
			s.original[e.SlotIndex] = slotState{itemID: e.ItemID, qty: e.Quantity}
		}
	}

	// Re-validate every offered item against the locked rows, then plan
	// the removals. The offer was checked when it was placed, but time
	// has passed since.
	for _, s := range sides {
		s.planned = make(map[int]slotState, len(s.original))
		for slot, st := range s.original {
			s.planned[slot] = st
		}
		for _, offer := range s.gives {
			st, ok := s.planned[offer.InventorySlot]
			if !ok || st.itemID != offer.ItemID || st.qty < offer.Quantity {
				return game.E(game.CodeItemChanged,
					"slot %d of player %d no longer holds %d x item %d",
					offer.InventorySlot, s.playerID, offer.Quantity, offer.ItemID)
			}
			if !c.catalog.Tradeable(offer.ItemID) {
				return game.E(game.CodeUntradeableItem, "item %d cannot be traded", offer.ItemID)
			}
			if st.qty == offer.Quantity {
				delete(s.planned, offer.InventorySlot)
			} else {
				s.planned[offer.InventorySlot] = slotState{itemID: st.itemID, qty: st.qty - offer.Quantity}
			}
		}
	}

	// Route each incoming item: stackable items merge into a surviving
	// stack when one exists, everything else claims a free slot. Free
	// includes slots vacated by the receiver's own removals above.
	type insert struct {
		itemID int64
		qty    int64
	}
	var inserts [2][]insert

	for i := range sides {
		giver, receiver := sides[i], sides[1-i]
		for _, offer := range giver.gives {
			if c.catalog.Stackable(offer.ItemID) {
				if slot := findStack(receiver.planned, offer.ItemID); slot >= 0 {
					st := receiver.planned[slot]
					if st.qty > game.MaxQuantity-offer.Quantity {
						return game.E(receiver.fullCode,
							"player %d cannot hold %d more of item %d",
							receiver.playerID, offer.Quantity, offer.ItemID)
					}
					receiver.planned[slot] = slotState{itemID: st.itemID, qty: st.qty + offer.Quantity}
					continue
				}
			}
			inserts[1-i] = append(inserts[1-i], insert{itemID: offer.ItemID, qty: offer.Quantity})
		}
		if len(receiver.planned)+len(inserts[1-i]) > game.InventorySlots {
			return game.E(receiver.fullCode,
				"player %d needs %d free slots", receiver.playerID, len(inserts[1-i]))
		}
	}

	// Apply. Deletes and quantity updates first so slots freed by this
	// operation exist before insertions claim them.
	for i, s := range sides {
		slots := make([]int, 0, len(s.original))
		for slot := range s.original {
			slots = append(slots, slot)
		}
		sort.Ints(slots)

		for _, slot := range slots {
			planned, kept := s.planned[slot]
			switch {
			case !kept:
				if err := tx.DeleteInventorySlot(ctx, s.playerID, slot); err != nil {
					return err
				}
			case planned.qty != s.original[slot].qty:
				if err := tx.SetInventoryQuantity(ctx, s.playerID, slot, planned.qty); err != nil {
					return err
				}
			}
		}

		used := make(map[int]bool, len(s.planned))
		for slot := range s.planned {
			used[slot] = true
		}
		for _, ins := range inserts[i] {
			slot := lowestFreeSlot(used, game.InventorySlots)
			if slot < 0 {
				return game.E(s.fullCode, "player %d ran out of slots", s.playerID)
			}
			used[slot] = true
			if err := tx.InsertInventoryEntry(ctx, &models.InventoryEntry{
				PlayerID:  s.playerID,
				ItemID:    ins.itemID,
				Quantity:  ins.qty,
				SlotIndex: slot,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func findStack(planned map[int]slotState, itemID int64) int {
	best := -1
	for slot, st := range planned {
		if st.itemID == itemID && (best < 0 || slot < best) {
			best = slot
		}
	}
	return best
}

// lowestFreeSlot returns the smallest unused index below limit, counting
// slots vacated earlier in this same operation as free.
func lowestFreeSlot(used map[int]bool, limit int) int {
	for slot := 0; slot < limit; slot++ {
		if !used[slot] {
			return slot
		}
	}
	return -1
}
