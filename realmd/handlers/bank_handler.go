package handlers

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"github.com/duskridge/realmd/realmd/game"
	"github.com/duskridge/realmd/realmd/game/guard"
	"github.com/duskridge/realmd/realmd/game/transaction"
	"github.com/duskridge/realmd/realmd/services"
)

// BankHandler fronts deposits, withdrawals, and coin transfers. Static
// bounds are rejected here before anything touches the database; the
// coordinator re-validates ownership under row locks.
type BankHandler struct {
	coordinator *transaction.Coordinator
	catalog     *services.ItemCatalog
	limiter     *guard.RateLimiter
	idem        *guard.Idempotency
}

func NewBankHandler(coordinator *transaction.Coordinator, catalog *services.ItemCatalog, limiter *guard.RateLimiter, idem *guard.Idempotency) *BankHandler {
	return &BankHandler{
		coordinator: coordinator,
		catalog:     catalog,
		limiter:     limiter,
		idem:        idem,
	}
}

func (h *BankHandler) admit(playerID snowflake.ID, action, payload string) Response {
	if !h.limiter.Allow(playerID) {
		return failCode(game.CodeRateLimited, "too many bank actions, slow down")
	}
	if !h.idem.CheckAndMark(guard.Fingerprint(playerID, action, payload)) {
		return failCode(game.CodeDuplicate, "request already being processed")
	}
	return Response{Success: true}
}

func validQuantity(quantity int64) bool {
	return quantity > 0 && quantity <= game.MaxQuantity
}

const maxSearchResults = 20

// SearchItems fuzzy-matches catalog items by name, backing the bank
// search box. Read-only, so only the rate limiter applies.
func (h *BankHandler) SearchItems(playerID snowflake.ID, query string, limit int) Response {
	if !h.limiter.Allow(playerID) {
		return failCode(game.CodeRateLimited, "too many bank actions, slow down")
	}
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}
	return ok(h.catalog.SearchByName(query, limit))
}

func (h *BankHandler) Deposit(ctx context.Context, playerID snowflake.ID, inventorySlot int, itemID int64, quantity int64) Response {
	if r := h.admit(playerID, "bank_deposit", fmt.Sprintf("%d|%d|%d", inventorySlot, itemID, quantity)); !r.Success {
		return r
	}

	if !validQuantity(quantity) {
		return failCode(game.CodeInvalidQuantity, fmt.Sprintf("quantity %d out of range", quantity))
	}
	if inventorySlot < 0 || inventorySlot >= game.InventorySlots {
		return failCode(game.CodeInvalidSlot, fmt.Sprintf("inventory slot %d out of range", inventorySlot))
	}
	if !h.catalog.Known(itemID) {
		return failCode(game.CodeItemChanged, fmt.Sprintf("unknown item %d", itemID))
	}

	result, err := h.coordinator.Deposit(ctx, playerID, inventorySlot, itemID, quantity)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (h *BankHandler) Withdraw(ctx context.Context, playerID snowflake.ID, itemID int64, quantity int64) Response {
	if r := h.admit(playerID, "bank_withdraw", fmt.Sprintf("%d|%d", itemID, quantity)); !r.Success {
		return r
	}

	if !validQuantity(quantity) {
		return failCode(game.CodeInvalidQuantity, fmt.Sprintf("quantity %d out of range", quantity))
	}
	if !h.catalog.Known(itemID) {
		return failCode(game.CodeItemChanged, fmt.Sprintf("unknown item %d", itemID))
	}

	result, err := h.coordinator.Withdraw(ctx, playerID, itemID, quantity)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (h *BankHandler) TransferCoins(ctx context.Context, playerID snowflake.ID, amount int64, toBank bool) Response {
	if r := h.admit(playerID, "coin_transfer", fmt.Sprintf("%d|%t", amount, toBank)); !r.Success {
		return r
	}

	if !validQuantity(amount) {
		return failCode(game.CodeInvalidQuantity, fmt.Sprintf("amount %d out of range", amount))
	}

	result, err := h.coordinator.TransferCoinPouch(ctx, playerID, amount, toBank)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}
