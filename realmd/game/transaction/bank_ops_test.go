package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/game"
)

func TestDeposit_StacksOntoExistingBankRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 0, ItemID: itemRune, Quantity: 10},
		models.InventoryEntry{SlotIndex: 4, ItemID: itemRune, Quantity: 15},
	)
	f.store.setBank(alice)

	r1, err := f.coord.Deposit(ctx, alice, 0, itemRune, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), r1.BankQuantity)

	// The second deposit hits a simulated serialization conflict first,
	// retries, and still lands on the same bank stack.
	f.store.failBefore = f.store.attempts + 1
	r2, err := f.coord.Deposit(ctx, alice, 4, itemRune, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(25), r2.BankQuantity)

	assert.Equal(t, int64(25), f.store.bank[alice][itemRune].Quantity)
	assert.Empty(t, f.store.inv[alice])
	assert.Empty(t, f.locks.held)
}

func TestDeposit_GathersNonStackableRows(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 2, ItemID: itemWhip, Quantity: 1},
		models.InventoryEntry{SlotIndex: 7, ItemID: itemWhip, Quantity: 1},
		models.InventoryEntry{SlotIndex: 11, ItemID: itemWhip, Quantity: 1},
	)
	f.store.setBank(alice)

	// Depositing 2 from slot 7 drains slot 7 first, then the lowest
	// remaining row of the same item.
	r, err := f.coord.Deposit(ctx, alice, 7, itemWhip, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.BankQuantity)

	assert.NotContains(t, f.store.inv[alice], 7)
	assert.NotContains(t, f.store.inv[alice], 2)
	assert.Contains(t, f.store.inv[alice], 11)
}

func TestDeposit_SlotMismatchIsItemChanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 0, ItemID: itemRune, Quantity: 10},
	)
	f.store.setBank(alice)

	_, err := f.coord.Deposit(ctx, alice, 3, itemRune, 10)
	assert.Equal(t, game.CodeItemChanged, game.CodeOf(err))

	_, err = f.coord.Deposit(ctx, alice, 0, itemRune, 11)
	assert.Equal(t, game.CodeItemChanged, game.CodeOf(err))
}

func TestDeposit_BankStackOverflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 0, ItemID: itemRune, Quantity: 2},
	)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemRune, Quantity: game.MaxQuantity - 1},
	)

	_, err := f.coord.Deposit(ctx, alice, 0, itemRune, 2)
	assert.Equal(t, game.CodeBankFull, game.CodeOf(err))
	assert.Equal(t, game.MaxQuantity-1, f.store.bank[alice][itemRune].Quantity)
	assert.Equal(t, int64(2), f.store.inv[alice][0].Quantity)

	// Exactly reaching the cap is fine.
	_, err = f.coord.Deposit(ctx, alice, 0, itemRune, 1)
	require.NoError(t, err)
	assert.Equal(t, game.MaxQuantity, f.store.bank[alice][itemRune].Quantity)
}

func TestDeposit_NoFreeBankSlots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 0, ItemID: itemRune, Quantity: 5},
	)
	full := make([]models.BankEntry, game.BankSlots)
	for i := range full {
		full[i] = models.BankEntry{Slot: i, ItemID: 10000 + int64(i), Quantity: 1}
	}
	f.store.setBank(alice, full...)

	_, err := f.coord.Deposit(ctx, alice, 0, itemRune, 5)
	assert.Equal(t, game.CodeBankFull, game.CodeOf(err))
}

func TestWithdraw_StackableMergesIntoInventory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 6, ItemID: itemRune, Quantity: 40},
	)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemRune, Quantity: 100},
	)

	r, err := f.coord.Withdraw(ctx, alice, itemRune, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), r.BankQuantity)

	assert.Equal(t, int64(100), f.store.inv[alice][6].Quantity)
	assert.Equal(t, int64(40), f.store.bank[alice][itemRune].Quantity)
}

func TestWithdraw_DrainedStackRowRemoved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemRune, Quantity: 100},
	)

	r, err := f.coord.Withdraw(ctx, alice, itemRune, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.BankQuantity)
	assert.NotContains(t, f.store.bank[alice], itemRune)
	assert.Equal(t, int64(100), f.store.inv[alice][0].Quantity)
}

func TestWithdraw_NonStackableTakesOneSlotPerUnit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice,
		models.InventoryEntry{SlotIndex: 0, ItemID: itemRune, Quantity: 10},
		models.InventoryEntry{SlotIndex: 2, ItemID: itemWhip, Quantity: 1},
	)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemWhip, Quantity: 5},
	)

	_, err := f.coord.Withdraw(ctx, alice, itemWhip, 3)
	require.NoError(t, err)

	// Three new rows of quantity 1 on the lowest free slots, the
	// existing whip row untouched.
	assert.Equal(t, int64(1), f.store.inv[alice][1].Quantity)
	assert.Equal(t, itemWhip, f.store.inv[alice][1].ItemID)
	assert.Equal(t, itemWhip, f.store.inv[alice][3].ItemID)
	assert.Equal(t, itemWhip, f.store.inv[alice][4].ItemID)
	assert.Equal(t, int64(2), f.store.bank[alice][itemWhip].Quantity)
}

func TestWithdraw_InventoryFull(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	full := make([]models.InventoryEntry, game.InventorySlots)
	for i := range full {
		full[i] = models.InventoryEntry{SlotIndex: i, ItemID: 1000 + int64(i), Quantity: 1}
	}
	f.store.setInventory(alice, full...)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemWhip, Quantity: 5},
	)

	_, err := f.coord.Withdraw(ctx, alice, itemWhip, 1)
	assert.Equal(t, game.CodeInventoryFull, game.CodeOf(err))
	assert.Equal(t, int64(5), f.store.bank[alice][itemWhip].Quantity)
}

func TestWithdraw_MoreThanBanked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setInventory(alice)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: itemRune, Quantity: 50},
	)

	_, err := f.coord.Withdraw(ctx, alice, itemRune, 51)
	assert.Equal(t, game.CodeItemChanged, game.CodeOf(err))
}

func TestTransferCoinPouch_BothDirections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setPlayer(alice, 1000)
	f.store.setInventory(alice)
	f.store.setBank(alice)

	r, err := f.coord.TransferCoinPouch(ctx, alice, 600, true)
	require.NoError(t, err)
	assert.Equal(t, int64(600), r.BankQuantity)
	assert.Equal(t, int64(400), f.store.players[alice].Coins)

	r, err = f.coord.TransferCoinPouch(ctx, alice, 600, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.BankQuantity)
	assert.Equal(t, int64(1000), f.store.players[alice].Coins)
	assert.NotContains(t, f.store.bank[alice], game.CoinsItemID)
}

func TestTransferCoinPouch_InsufficientAndOverflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.setPlayer(alice, 100)
	f.store.setInventory(alice)
	f.store.setBank(alice,
		models.BankEntry{Slot: 0, ItemID: game.CoinsItemID, Quantity: game.MaxQuantity},
	)

	_, err := f.coord.TransferCoinPouch(ctx, alice, 101, true)
	assert.Equal(t, game.CodeItemChanged, game.CodeOf(err))

	// The pouch cannot absorb the full banked amount on top of what it
	// already holds.
	_, err = f.coord.TransferCoinPouch(ctx, alice, game.MaxQuantity, false)
	assert.Equal(t, game.CodeInvalidQuantity, game.CodeOf(err))
	assert.Equal(t, int64(100), f.store.players[alice].Coins)
}
