package transaction

import (
	"context"
	"sort"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
)

// BankOpResult reports what a deposit/withdraw actually moved.
type BankOpResult struct {
	ItemID       int64
	Quantity     int64
	BankQuantity int64 // resulting bank stack size, 0 if the stack is gone
}

// Deposit moves quantity of itemID from the player's inventory into
// their bank. The bank stacks: the amount lands on the existing stack if
// one exists, otherwise on the lowest free bank slot. For non-stackable
// items additional rows of the same item are gathered lowest-slot-first
// when the named slot alone cannot cover the quantity.
func (c *Coordinator) Deposit(ctx context.Context, playerID snowflake.ID, inventorySlot int, itemID int64, quantity int64) (*BankOpResult, error) {
	result := &BankOpResult{ItemID: itemID, Quantity: quantity}

	err := c.run(ctx, "bank_deposit", []snowflake.ID{playerID}, func(ctx context.Context, tx Tx) error {
		inv, err := tx.InventoryForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		bank, err := tx.BankForUpdate(ctx, playerID)
		if err != nil {
			return err
		}

		sources, err := gatherSources(inv, inventorySlot, itemID, quantity)
		if err != nil {
			return err
		}

		newQty, err := placeInBank(ctx, tx, playerID, bank, itemID, quantity)
		if err != nil {
			return err
		}
		result.BankQuantity = newQty

		for _, src := range sources {
			if src.take == src.entry.Quantity {
				if err := tx.DeleteInventorySlot(ctx, playerID, src.entry.SlotIndex); err != nil {
					return err
				}
			} else {
				if err := tx.SetInventoryQuantity(ctx, playerID, src.entry.SlotIndex, src.entry.Quantity-src.take); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emitReconciliation(events.ItemRemoved, playerID, []events.ItemStack{{ItemID: itemID, Quantity: quantity}})
	return result, nil
}

// Withdraw moves quantity of itemID from the player's bank into their
// inventory. Stackable items land on an existing inventory stack if one
// exists, else on the lowest free slot; non-stackable items take one
// free slot per unit.
func (c *Coordinator) Withdraw(ctx context.Context, playerID snowflake.ID, itemID int64, quantity int64) (*BankOpResult, error) {
	result := &BankOpResult{ItemID: itemID, Quantity: quantity}

	err := c.run(ctx, "bank_withdraw", []snowflake.ID{playerID}, func(ctx context.Context, tx Tx) error {
		inv, err := tx.InventoryForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		bank, err := tx.BankForUpdate(ctx, playerID)
		if err != nil {
			return err
		}

		stack := bankStack(bank, itemID)
		if stack == nil || stack.Quantity < quantity {
			return game.E(game.CodeItemChanged, "bank no longer holds %d x item %d", quantity, itemID)
		}

		if err := placeInInventory(ctx, tx, c.catalog, playerID, inv, itemID, quantity); err != nil {
			return err
		}

		result.BankQuantity = stack.Quantity - quantity
		if result.BankQuantity == 0 {
			return tx.DeleteBankEntry(ctx, playerID, itemID)
		}
		return tx.SetBankQuantity(ctx, playerID, itemID, result.BankQuantity)
	})
	if err != nil {
		return nil, err
	}

	c.emitReconciliation(events.ItemAdded, playerID, []events.ItemStack{{ItemID: itemID, Quantity: quantity}})
	return result, nil
}

// TransferCoinPouch moves coins between the player's pouch and their
// bank coin stack, in either direction.
func (c *Coordinator) TransferCoinPouch(ctx context.Context, playerID snowflake.ID, amount int64, toBank bool) (*BankOpResult, error) {
	result := &BankOpResult{ItemID: game.CoinsItemID, Quantity: amount}

	err := c.run(ctx, "coin_transfer", []snowflake.ID{playerID}, func(ctx context.Context, tx Tx) error {
		player, err := tx.PlayerForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		bank, err := tx.BankForUpdate(ctx, playerID)
		if err != nil {
			return err
		}

		if toBank {
			if player.Coins < amount {
				return game.E(game.CodeItemChanged, "pouch holds only %d coins", player.Coins)
			}
			newQty, err := placeInBank(ctx, tx, playerID, bank, game.CoinsItemID, amount)
			if err != nil {
				return err
			}
			result.BankQuantity = newQty
			return tx.SetPlayerCoins(ctx, playerID, player.Coins-amount)
		}

		stack := bankStack(bank, game.CoinsItemID)
		if stack == nil || stack.Quantity < amount {
			return game.E(game.CodeItemChanged, "bank no longer holds %d coins", amount)
		}
		if player.Coins > game.MaxQuantity-amount {
			return game.E(game.CodeInvalidQuantity, "coin pouch would overflow")
		}

		result.BankQuantity = stack.Quantity - amount
		if result.BankQuantity == 0 {
			if err := tx.DeleteBankEntry(ctx, playerID, game.CoinsItemID); err != nil {
				return err
			}
		} else if err := tx.SetBankQuantity(ctx, playerID, game.CoinsItemID, result.BankQuantity); err != nil {
			return err
		}
		return tx.SetPlayerCoins(ctx, playerID, player.Coins+amount)
	})
	if err != nil {
		return nil, err
	}

	eventType := events.ItemRemoved
	if !toBank {
		eventType = events.ItemAdded
	}
	c.emitReconciliation(eventType, playerID, []events.ItemStack{{ItemID: game.CoinsItemID, Quantity: amount}})
	return result, nil
}

type source struct {
	entry models.InventoryEntry
	take  int64
}

// gatherSources picks the inventory rows a deposit drains: the named
// slot first, then further rows of the same item lowest-slot-first.
func gatherSources(inv []models.InventoryEntry, inventorySlot int, itemID int64, quantity int64) ([]source, error) {
	var primary *models.InventoryEntry
	var extras []models.InventoryEntry
	for i := range inv {
		if inv[i].ItemID != itemID {
			continue
		}
		if inv[i].SlotIndex == inventorySlot {
			primary = &inv[i]
		} else {
			extras = append(extras, inv[i])
		}
	}
	if primary == nil {
		return nil, game.E(game.CodeItemChanged, "slot %d no longer holds item %d", inventorySlot, itemID)
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].SlotIndex < extras[j].SlotIndex })

	remaining := quantity
	sources := []source{}
	for _, entry := range append([]models.InventoryEntry{*primary}, extras...) {
		if remaining == 0 {
			break
		}
		take := entry.Quantity
		if take > remaining {
			take = remaining
		}
		sources = append(sources, source{entry: entry, take: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, game.E(game.CodeItemChanged, "only %d x item %d available", quantity-remaining, itemID)
	}
	return sources, nil
}

func bankStack(bank []models.BankEntry, itemID int64) *models.BankEntry {
	for i := range bank {
		if bank[i].ItemID == itemID {
			return &bank[i]
		}
	}
	return nil
}

// placeInBank adds quantity onto the existing stack, or opens a new one
// on the lowest free bank slot. Overflow is checked before any addition.
func placeInBank(ctx context.Context, tx Tx, playerID snowflake.ID, bank []models.BankEntry, itemID int64, quantity int64) (int64, error) {
	if stack := bankStack(bank, itemID); stack != nil {
		if stack.Quantity > game.MaxQuantity-quantity {
			return 0, game.E(game.CodeBankFull, "bank stack of item %d would overflow", itemID)
		}
		newQty := stack.Quantity + quantity
		return newQty, tx.SetBankQuantity(ctx, playerID, itemID, newQty)
	}

	if len(bank) >= game.BankSlots {
		return 0, game.E(game.CodeBankFull, "bank has no free slots")
	}
	used := make(map[int]bool, len(bank))
	for _, entry := range bank {
		used[entry.Slot] = true
	}
	slot := lowestFreeSlot(used, game.BankSlots)
	return quantity, tx.InsertBankEntry(ctx, &models.BankEntry{
		PlayerID: playerID,
		ItemID:   itemID,
		Quantity: quantity,
		Slot:     slot,
	})
}

// placeInInventory lands a withdrawn quantity: merge onto an existing
// stack for stackable items, otherwise one new row per unit on the
// lowest free slots.
func placeInInventory(ctx context.Context, tx Tx, catalog Catalog, playerID snowflake.ID, inv []models.InventoryEntry, itemID int64, quantity int64) error {
	used := make(map[int]bool, len(inv))
	for _, entry := range inv {
		used[entry.SlotIndex] = true
	}

	if catalog.Stackable(itemID) {
		for _, entry := range inv {
			if entry.ItemID == itemID {
				if entry.Quantity > game.MaxQuantity-quantity {
					return game.E(game.CodeInventoryFull, "inventory stack of item %d would overflow", itemID)
				}
				return tx.SetInventoryQuantity(ctx, playerID, entry.SlotIndex, entry.Quantity+quantity)
			}
		}
		slot := lowestFreeSlot(used, game.InventorySlots)
		if slot < 0 {
			return game.E(game.CodeInventoryFull, "inventory has no free slots")
		}
		return tx.InsertInventoryEntry(ctx, &models.InventoryEntry{
			PlayerID:  playerID,
			ItemID:    itemID,
			Quantity:  quantity,
			SlotIndex: slot,
		})
	}

	if quantity > int64(game.InventorySlots) {
		return game.E(game.CodeInventoryFull, "cannot withdraw %d non-stackable items at once", quantity)
	}
	for i := int64(0); i < quantity; i++ {
		slot := lowestFreeSlot(used, game.InventorySlots)
		if slot < 0 {
			return game.E(game.CodeInventoryFull, "inventory has no free slots")
		}
		used[slot] = true
		if err := tx.InsertInventoryEntry(ctx, &models.InventoryEntry{
			PlayerID:  playerID,
			ItemID:    itemID,
			Quantity:  1,
			SlotIndex: slot,
		}); err != nil {
			return err
		}
	}
	return nil
}
