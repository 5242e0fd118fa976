package trade

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusConfirming Status = "confirming"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the complete FSM. Anything absent here is an illegal
// move; cancellation is legal from every non-terminal state.
var transitions = map[Status]map[Status]bool{
	StatusPending:    {StatusActive: true, StatusCancelled: true},
	StatusActive:     {StatusConfirming: true, StatusCancelled: true},
	StatusConfirming: {StatusCompleted: true, StatusCancelled: true},
}

type CancelReason string

const (
	ReasonDeclined     CancelReason = "declined"
	ReasonCancelled    CancelReason = "cancelled"
	ReasonDisconnected CancelReason = "disconnected"
	ReasonPlayerDied   CancelReason = "player_died"
	ReasonServerError  CancelReason = "server_error"
	ReasonInvalidItems CancelReason = "invalid_items"
	ReasonTimeout      CancelReason = "timeout"
)

// OfferItem is one entry on one side of a trade screen. TradeSlot is the
// position on the trade window, InventorySlot the source slot the item
// will be taken from at completion time.
type OfferItem struct {
	TradeSlot     int
	InventorySlot int
	ItemID        int64
	Quantity      int64
}

type Participant struct {
	PlayerID    snowflake.ID
	DisplayName string
	Offer       []OfferItem
	Accepted    bool
}

type Session struct {
	ID        string
	Initiator Participant
	Recipient Participant
	Status    Status
	Reason    CancelReason

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// Completed is the delivery plan handed to the transaction coordinator
// once both sides confirmed: what each side gives, resolved from the
// opposing offer.
type Completed struct {
	TradeID        string
	InitiatorID    snowflake.ID
	RecipientID    snowflake.ID
	InitiatorGives []OfferItem
	RecipientGives []OfferItem
}

// InitiatorReceives summarizes what lands in the initiator's inventory.
func (c *Completed) InitiatorReceives() []events.ItemStack {
	return stacksOf(c.RecipientGives)
}

func (c *Completed) RecipientReceives() []events.ItemStack {
	return stacksOf(c.InitiatorGives)
}

func stacksOf(offer []OfferItem) []events.ItemStack {
	stacks := make([]events.ItemStack, 0, len(offer))
	for _, it := range offer {
		stacks = append(stacks, events.ItemStack{ItemID: it.ItemID, Quantity: it.Quantity})
	}
	return stacks
}

func (s *Session) transition(to Status) error {
	if !transitions[s.Status][to] {
		return game.E(game.CodeInvalidTrade, "cannot move trade %s from %s to %s", s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}

func (s *Session) terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// participant returns the side owned by playerID and the opposing side.
func (s *Session) participant(playerID snowflake.ID) (self, other *Participant, ok bool) {
	switch playerID {
	case s.Initiator.PlayerID:
		return &s.Initiator, &s.Recipient, true
	case s.Recipient.PlayerID:
		return &s.Recipient, &s.Initiator, true
	}
	return nil, nil, false
}

func (s *Session) resetAcceptance() {
	s.Initiator.Accepted = false
	s.Recipient.Accepted = false
}

// upsertItem adds quantity of itemID sourced from inventorySlot to the
// player's offer. Re-offering the same source slot replaces the quantity
// in place instead of duplicating the entry.
func (s *Session) upsertItem(playerID snowflake.ID, inventorySlot int, itemID int64, quantity int64) error {
	if s.Status != StatusActive {
		return game.E(game.CodeNotInTrade, "trade %s is not accepting offers", s.ID)
	}
	self, _, ok := s.participant(playerID)
	if !ok {
		return game.E(game.CodeNotInTrade, "player %d is not part of trade %s", playerID, s.ID)
	}
	if inventorySlot < 0 || inventorySlot >= game.InventorySlots {
		return game.E(game.CodeInvalidSlot, "inventory slot %d out of range", inventorySlot)
	}
	if quantity <= 0 || quantity > game.MaxQuantity {
		return game.E(game.CodeInvalidQuantity, "quantity %d out of range", quantity)
	}

	for i := range self.Offer {
		if self.Offer[i].InventorySlot == inventorySlot {
			self.Offer[i].ItemID = itemID
			self.Offer[i].Quantity = quantity
			s.resetAcceptance()
			return nil
		}
	}

	self.Offer = append(self.Offer, OfferItem{
		TradeSlot:     len(self.Offer),
		InventorySlot: inventorySlot,
		ItemID:        itemID,
		Quantity:      quantity,
	})
	s.resetAcceptance()
	return nil
}

// removeItem drops the entry at tradeSlot and renumbers the remainder so
// slots stay the contiguous range [0, len).
func (s *Session) removeItem(playerID snowflake.ID, tradeSlot int) error {
	if s.Status != StatusActive {
		return game.E(game.CodeNotInTrade, "trade %s is not accepting offers", s.ID)
	}
	self, _, ok := s.participant(playerID)
	if !ok {
		return game.E(game.CodeNotInTrade, "player %d is not part of trade %s", playerID, s.ID)
	}

	idx := -1
	for i := range self.Offer {
		if self.Offer[i].TradeSlot == tradeSlot {
			idx = i
			break
		}
	}
	if idx < 0 {
		return game.E(game.CodeInvalidSlot, "nothing offered at trade slot %d", tradeSlot)
	}

	self.Offer = append(self.Offer[:idx], self.Offer[idx+1:]...)
	for i := range self.Offer {
		self.Offer[i].TradeSlot = i
	}
	s.resetAcceptance()
	return nil
}

// setAccepted flips one side's flag and reports whether both sides now
// agree. The session never auto-advances: the caller decides whether
// "both agreed" means moving to confirmation or completing.
func (s *Session) setAccepted(playerID snowflake.ID, accepted bool) (bothAccepted bool, err error) {
	if s.Status != StatusActive && s.Status != StatusConfirming {
		return false, game.E(game.CodeNotInTrade, "trade %s is not awaiting acceptance", s.ID)
	}
	self, other, ok := s.participant(playerID)
	if !ok {
		return false, game.E(game.CodeNotInTrade, "player %d is not part of trade %s", playerID, s.ID)
	}

	self.Accepted = accepted
	return self.Accepted && other.Accepted, nil
}

// moveToConfirmation advances to the second trade screen. Both flags are
// wiped so a stale acceptance from the offer screen can never complete a
// trade whose contents changed.
func (s *Session) moveToConfirmation() error {
	if !s.Initiator.Accepted || !s.Recipient.Accepted {
		return game.E(game.CodeInvalidTrade, "trade %s is not fully accepted", s.ID)
	}
	if err := s.transition(StatusConfirming); err != nil {
		return err
	}
	s.resetAcceptance()
	return nil
}

// complete finalizes the session and returns the delivery plan.
func (s *Session) complete() (*Completed, error) {
	if s.Status != StatusConfirming || !s.Initiator.Accepted || !s.Recipient.Accepted {
		return nil, game.E(game.CodeInvalidTrade, "trade %s is not ready to complete", s.ID)
	}
	if err := s.transition(StatusCompleted); err != nil {
		return nil, err
	}

	initiatorGives := make([]OfferItem, len(s.Initiator.Offer))
	copy(initiatorGives, s.Initiator.Offer)
	recipientGives := make([]OfferItem, len(s.Recipient.Offer))
	copy(recipientGives, s.Recipient.Offer)

	return &Completed{
		TradeID:        s.ID,
		InitiatorID:    s.Initiator.PlayerID,
		RecipientID:    s.Recipient.PlayerID,
		InitiatorGives: initiatorGives,
		RecipientGives: recipientGives,
	}, nil
}
