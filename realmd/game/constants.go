package game

// MaxQuantity is the largest quantity a single stack may hold.
const MaxQuantity int64 = 1<<31 - 1

const (
	// InventorySlots is the number of slots in a player's inventory and,
	// by extension, the most items one side can put into a trade.
	InventorySlots = 28

	// BankSlots caps the number of distinct stacks a bank can hold.
	BankSlots = 400

	// CoinsItemID is the item definition backing the coin pouch.
	CoinsItemID int64 = 995
)
