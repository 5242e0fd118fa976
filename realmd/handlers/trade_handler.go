package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disgoorg/snowflake/v2"

	"github.com/duskridge/realmd/realmd/cache"
	"github.com/duskridge/realmd/realmd/database/repositories"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
	"github.com/duskridge/realmd/realmd/game/guard"
	"github.com/duskridge/realmd/realmd/game/trade"
	"github.com/duskridge/realmd/realmd/game/transaction"
	"github.com/duskridge/realmd/realmd/services"
)

// TradeHandler fronts the trade FSM. Every mutating request passes the
// same gauntlet: rate limit, duplicate suppression, static validation,
// and only then the session manager. State that survives the manager is
// only trusted again at commit time, under row locks.
type TradeHandler struct {
	manager     *trade.Manager
	coordinator *transaction.Coordinator
	catalog     *services.ItemCatalog
	playerCache *cache.PlayerCache
	playerRepo  repositories.PlayerRepository
	saver       *services.Autosave
	limiter     *guard.RateLimiter
	idem        *guard.Idempotency
	bus         *events.Bus
}

func NewTradeHandler(
	manager *trade.Manager,
	coordinator *transaction.Coordinator,
	catalog *services.ItemCatalog,
	playerCache *cache.PlayerCache,
	playerRepo repositories.PlayerRepository,
	saver *services.Autosave,
	limiter *guard.RateLimiter,
	idem *guard.Idempotency,
	bus *events.Bus,
) *TradeHandler {
	return &TradeHandler{
		manager:     manager,
		coordinator: coordinator,
		catalog:     catalog,
		playerCache: playerCache,
		playerRepo:  playerRepo,
		saver:       saver,
		limiter:     limiter,
		idem:        idem,
		bus:         bus,
	}
}

func (h *TradeHandler) admit(playerID snowflake.ID, action, payload string) Response {
	if !h.limiter.Allow(playerID) {
		return failCode(game.CodeRateLimited, "too many trade actions, slow down")
	}
	if !h.idem.CheckAndMark(guard.Fingerprint(playerID, action, payload)) {
		return failCode(game.CodeDuplicate, "request already being processed")
	}
	return Response{Success: true}
}

// RequestTrade opens a pending trade request from initiator to
// recipient.
func (h *TradeHandler) RequestTrade(ctx context.Context, initiatorID, recipientID snowflake.ID) Response {
	if r := h.admit(initiatorID, "trade_request", fmt.Sprintf("%d", recipientID)); !r.Success {
		return r
	}

	initiator, err := h.playerRepo.GetByID(ctx, initiatorID)
	if err != nil {
		return fail(game.E(game.CodeInvalidTrade, "unknown player %d", initiatorID))
	}
	recipient, err := h.playerRepo.GetByID(ctx, recipientID)
	if err != nil {
		return fail(game.E(game.CodeInvalidTrade, "unknown player %d", recipientID))
	}

	s, err := h.manager.CreateTradeRequest(
		trade.PlayerRef{ID: initiator.ID, DisplayName: initiator.DisplayName},
		trade.PlayerRef{ID: recipient.ID, DisplayName: recipient.DisplayName},
	)
	if err != nil {
		return fail(err)
	}
	return ok(s)
}

// RespondToTrade handles the recipient's accept or decline.
func (h *TradeHandler) RespondToTrade(ctx context.Context, tradeID string, playerID snowflake.ID, accept bool) Response {
	if r := h.admit(playerID, "trade_respond", fmt.Sprintf("%s|%t", tradeID, accept)); !r.Success {
		return r
	}

	s, err := h.manager.RespondToTradeRequest(tradeID, playerID, accept)
	if err != nil {
		return fail(err)
	}
	return ok(s)
}

// AddItem puts quantity of itemID from inventorySlot onto the player's
// side of the trade window. Ownership is checked against the cached
// inventory here for fast feedback; the authoritative check happens
// again at completion under row locks.
func (h *TradeHandler) AddItem(ctx context.Context, playerID snowflake.ID, inventorySlot int, itemID int64, quantity int64) Response {
	if r := h.admit(playerID, "trade_add", fmt.Sprintf("%d|%d|%d", inventorySlot, itemID, quantity)); !r.Success {
		return r
	}

	if quantity <= 0 || quantity > game.MaxQuantity {
		return failCode(game.CodeInvalidQuantity, fmt.Sprintf("quantity %d out of range", quantity))
	}
	if inventorySlot < 0 || inventorySlot >= game.InventorySlots {
		return failCode(game.CodeInvalidSlot, fmt.Sprintf("inventory slot %d out of range", inventorySlot))
	}
	if !h.catalog.Tradeable(itemID) {
		return failCode(game.CodeUntradeableItem, fmt.Sprintf("item %d cannot be traded", itemID))
	}

	state, err := h.playerCache.Get(ctx, playerID)
	if err != nil {
		return fail(err)
	}
	owned := false
	for _, entry := range state.Inventory {
		if entry.SlotIndex == inventorySlot && entry.ItemID == itemID && entry.Quantity >= quantity {
			owned = true
			break
		}
	}
	if !owned {
		return failCode(game.CodeItemChanged, fmt.Sprintf("slot %d does not hold %d x item %d", inventorySlot, quantity, itemID))
	}

	s, err := h.manager.AddItem(playerID, inventorySlot, itemID, quantity)
	if err != nil {
		return fail(err)
	}
	return ok(s)
}

func (h *TradeHandler) RemoveItem(ctx context.Context, playerID snowflake.ID, tradeSlot int) Response {
	if r := h.admit(playerID, "trade_remove", fmt.Sprintf("%d", tradeSlot)); !r.Success {
		return r
	}

	s, err := h.manager.RemoveItem(playerID, tradeSlot)
	if err != nil {
		return fail(err)
	}
	return ok(s)
}

// SetAccepted flips the player's acceptance flag and drives whatever
// that unlocks: both accepted on the offer screen advances to
// confirmation, both accepted on the confirmation screen executes the
// swap.
func (h *TradeHandler) SetAccepted(ctx context.Context, playerID snowflake.ID, accepted bool) Response {
	s, inTrade := h.manager.PlayerSession(playerID)
	if !inTrade {
		return failCode(game.CodeNotInTrade, fmt.Sprintf("player %d is not trading", playerID))
	}
	// The fingerprint is scoped by status so accepting the offer screen
	// and then the confirmation screen are distinct requests.
	if r := h.admit(playerID, "trade_accept", fmt.Sprintf("%t|%s", accepted, s.Status)); !r.Success {
		return r
	}

	readiness, err := h.manager.SetAcceptance(playerID, accepted)
	if err != nil {
		return fail(err)
	}

	switch readiness {
	case trade.ReadyToConfirm:
		s, err := h.manager.MoveToConfirmation(playerID)
		if err != nil {
			return fail(err)
		}
		return ok(s)

	case trade.ReadyToComplete:
		plan, err := h.manager.CompleteTrade(playerID)
		if err != nil {
			return fail(err)
		}
		result, err := h.coordinator.ExecuteTradeSwap(ctx, plan)
		if err != nil {
			h.abortCompletedPlan(plan, err)
			return fail(err)
		}

		e := events.New(events.TradeCompleted)
		e.TradeID = plan.TradeID
		e.PlayerID = plan.InitiatorID
		e.OtherID = plan.RecipientID
		e.Items = plan.InitiatorReceives()
		h.bus.Publish(e)

		return ok(result)
	}

	return ok(nil)
}

// abortCompletedPlan notifies both sides that a finalized trade failed
// to deliver. The session is already gone at this point, so the
// cancellation events are published here rather than by the manager.
func (h *TradeHandler) abortCompletedPlan(plan *trade.Completed, cause error) {
	reason := trade.ReasonServerError
	switch game.CodeOf(cause) {
	case game.CodeItemChanged, game.CodeUntradeableItem,
		game.CodeInventoryFullInitiator, game.CodeInventoryFullRecipient:
		reason = trade.ReasonInvalidItems
	}

	slog.Warn("Trade delivery failed",
		slog.String("type", "trade"),
		slog.String("trade_id", plan.TradeID),
		slog.String("reason", string(reason)),
		slog.Any("error", cause))

	for _, p := range []snowflake.ID{plan.InitiatorID, plan.RecipientID} {
		e := events.New(events.TradeCancelled)
		e.TradeID = plan.TradeID
		e.PlayerID = p
		e.Reason = string(reason)
		h.bus.Publish(e)
	}
}

// Cancel abandons the player's current trade.
func (h *TradeHandler) Cancel(ctx context.Context, playerID snowflake.ID) Response {
	if r := h.admit(playerID, "trade_cancel", ""); !r.Success {
		return r
	}

	s, err := h.manager.CancelTrade(playerID, trade.ReasonCancelled)
	if err != nil {
		return fail(err)
	}
	return ok(s)
}

// HandleDisconnect tears down the player's trade and saves their state.
// A swap already handed to the coordinator is not interrupted; the
// session is gone by then and the commit stands.
func (h *TradeHandler) HandleDisconnect(ctx context.Context, playerID snowflake.ID) {
	if h.manager.IsPlayerInTrade(playerID) {
		if _, err := h.manager.CancelTrade(playerID, trade.ReasonDisconnected); err != nil {
			slog.Error("Failed to cancel trade on disconnect",
				slog.String("type", "trade"),
				slog.Any("player_id", playerID),
				slog.Any("error", err))
		}
	}
	if err := h.saver.FlushPlayer(ctx, playerID); err != nil {
		slog.Error("Failed to flush player on disconnect",
			slog.String("type", "db"),
			slog.Any("player_id", playerID),
			slog.Any("error", err))
	}
}

// HandleDeath cancels the player's trade with its own reason so the
// client can message it distinctly.
func (h *TradeHandler) HandleDeath(playerID snowflake.ID) {
	if h.manager.IsPlayerInTrade(playerID) {
		h.manager.CancelTrade(playerID, trade.ReasonPlayerDied)
	}
}
