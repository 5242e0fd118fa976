package trade

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
)

const (
	tradeIDLength = 6
	sweepInterval = 5 * time.Second
	maxIDRetries  = 5
)

type PlayerRef struct {
	ID          snowflake.ID
	DisplayName string
}

type Config struct {
	RequestTimeout time.Duration // pending sessions expire after this
	IdleTimeout    time.Duration // active/confirming sessions, reset on activity
	PairCooldown   time.Duration // re-request block after a cancelled trade
}

// Readiness tells the handler what "both sides accepted" means in the
// current state, since the session never auto-advances.
type Readiness int

const (
	NotReady Readiness = iota
	ReadyToConfirm
	ReadyToComplete
)

// pairKey identifies an unordered player pair for the cancel cooldown.
type pairKey struct {
	lo, hi snowflake.ID
}

func pairOf(a, b snowflake.ID) pairKey {
	if a < b {
		return pairKey{lo: a, hi: b}
	}
	return pairKey{lo: b, hi: a}
}

// Manager owns every in-progress trade session and the playerId index
// used for O(1) "is this player trading" checks. All mutations run under
// one mutex so a session can never be observed mid-transition.
type Manager struct {
	cfg Config
	bus *events.Bus

	mu        sync.Mutex
	sessions  map[string]*Session
	byPlayer  map[snowflake.ID]*Session
	cooldowns map[pairKey]time.Time
	nowFn     func() time.Time
}

func NewManager(cfg Config, bus *events.Bus) *Manager {
	return &Manager{
		cfg:       cfg,
		bus:       bus,
		sessions:  make(map[string]*Session),
		byPlayer:  make(map[snowflake.ID]*Session),
		cooldowns: make(map[pairKey]time.Time),
		nowFn:     time.Now,
	}
}

// generateTradeID creates a short unique session ID. Collisions are
// checked against live sessions only; the archive keys by snowflake.
func (m *Manager) generateTradeID() (string, error) {
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		raw := make([]byte, 8)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		id := "T-" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)[:tradeIDLength]
		if _, exists := m.sessions[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique trade ID after %d attempts", maxIDRetries)
}

// publishAfter sends queued events once the manager mutex is released.
// Listeners may be slow (archival, notification fan-out) and must never
// stall the session registry. Registered before the lock so it runs
// after the deferred unlock.
func (m *Manager) publishAfter(pending *[]events.Event) {
	for _, e := range *pending {
		m.bus.Publish(e)
	}
}

func (m *Manager) CreateTradeRequest(initiator, recipient PlayerRef) (*Session, error) {
	var pending []events.Event
	defer m.publishAfter(&pending)
	m.mu.Lock()
	defer m.mu.Unlock()

	if initiator.ID == recipient.ID {
		return nil, game.E(game.CodeSelfTrade, "cannot trade with yourself")
	}
	if _, busy := m.byPlayer[initiator.ID]; busy {
		return nil, game.E(game.CodeAlreadyInTrade, "%s is already trading", initiator.DisplayName)
	}
	if _, busy := m.byPlayer[recipient.ID]; busy {
		return nil, game.E(game.CodePlayerBusy, "%s is busy", recipient.DisplayName)
	}

	now := m.nowFn()
	if until, ok := m.cooldowns[pairOf(initiator.ID, recipient.ID)]; ok && now.Before(until) {
		return nil, game.E(game.CodeRateLimited, "please wait before trading %s again", recipient.DisplayName)
	}

	id, err := m.generateTradeID()
	if err != nil {
		return nil, game.E(game.CodeServerError, "could not open trade: %v", err)
	}

	s := &Session{
		ID:             id,
		Initiator:      Participant{PlayerID: initiator.ID, DisplayName: initiator.DisplayName},
		Recipient:      Participant{PlayerID: recipient.ID, DisplayName: recipient.DisplayName},
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.RequestTimeout),
		LastActivityAt: now,
	}
	m.sessions[id] = s
	m.byPlayer[initiator.ID] = s

	slog.Info("Trade requested",
		slog.String("type", "trade"),
		slog.String("trade_id", id),
		slog.Any("initiator", initiator.ID),
		slog.Any("recipient", recipient.ID))

	e := events.New(events.TradeRequested)
	e.TradeID = id
	e.PlayerID = initiator.ID
	e.OtherID = recipient.ID
	pending = append(pending, e)

	return s, nil
}

// RespondToTradeRequest handles the recipient's accept/decline of a
// pending request. Accepting registers the recipient in the player index
// and activates the session.
func (m *Manager) RespondToTradeRequest(tradeID string, playerID snowflake.ID, accept bool) (*Session, error) {
	var pending []events.Event
	defer m.publishAfter(&pending)
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tradeID]
	if !ok {
		return nil, game.E(game.CodeInvalidTrade, "trade %s not found", tradeID)
	}
	if s.Recipient.PlayerID != playerID {
		return nil, game.E(game.CodeInvalidTrade, "trade %s is not addressed to player %d", tradeID, playerID)
	}
	if s.Status != StatusPending {
		return nil, game.E(game.CodeInvalidTrade, "trade %s already answered", tradeID)
	}

	if !accept {
		pending = m.cancelLocked(s, ReasonDeclined, playerID)
		return s, nil
	}

	if _, busy := m.byPlayer[playerID]; busy {
		return nil, game.E(game.CodeAlreadyInTrade, "%s is already trading", s.Recipient.DisplayName)
	}

	if err := s.transition(StatusActive); err != nil {
		return nil, err
	}
	m.byPlayer[playerID] = s
	m.touchLocked(s)

	e := events.New(events.TradeAccepted)
	e.TradeID = s.ID
	e.PlayerID = playerID
	e.OtherID = s.Initiator.PlayerID
	pending = append(pending, e)

	return s, nil
}

func (m *Manager) AddItem(playerID snowflake.ID, inventorySlot int, itemID int64, quantity int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return nil, game.E(game.CodeNotInTrade, "player %d is not trading", playerID)
	}
	if err := s.upsertItem(playerID, inventorySlot, itemID, quantity); err != nil {
		return nil, err
	}
	m.touchLocked(s)
	return s, nil
}

func (m *Manager) RemoveItem(playerID snowflake.ID, tradeSlot int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return nil, game.E(game.CodeNotInTrade, "player %d is not trading", playerID)
	}
	if err := s.removeItem(playerID, tradeSlot); err != nil {
		return nil, err
	}
	m.touchLocked(s)
	return s, nil
}

func (m *Manager) SetAcceptance(playerID snowflake.ID, accepted bool) (Readiness, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return NotReady, game.E(game.CodeNotInTrade, "player %d is not trading", playerID)
	}
	both, err := s.setAccepted(playerID, accepted)
	if err != nil {
		return NotReady, err
	}
	m.touchLocked(s)

	if !both {
		return NotReady, nil
	}
	if s.Status == StatusActive {
		return ReadyToConfirm, nil
	}
	return ReadyToComplete, nil
}

func (m *Manager) MoveToConfirmation(playerID snowflake.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return nil, game.E(game.CodeNotInTrade, "player %d is not trading", playerID)
	}
	if err := s.moveToConfirmation(); err != nil {
		return nil, err
	}
	m.touchLocked(s)
	return s, nil
}

// CompleteTrade finalizes the session and tears down the indexes,
// returning the delivery plan exactly once. The caller hands the plan to
// the transaction coordinator; a second call finds no session and fails
// with INVALID_TRADE, which is what makes double completion impossible.
func (m *Manager) CompleteTrade(playerID snowflake.ID) (*Completed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return nil, game.E(game.CodeInvalidTrade, "player %d has no trade to complete", playerID)
	}
	plan, err := s.complete()
	if err != nil {
		return nil, err
	}
	m.removeLocked(s)

	slog.Info("Trade finalized",
		slog.String("type", "trade"),
		slog.String("trade_id", s.ID),
		slog.Int("initiator_items", len(plan.InitiatorGives)),
		slog.Int("recipient_items", len(plan.RecipientGives)))

	return plan, nil
}

// CancelTrade cancels whatever session the player is part of.
func (m *Manager) CancelTrade(playerID snowflake.ID, reason CancelReason) (*Session, error) {
	var pending []events.Event
	defer m.publishAfter(&pending)
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byPlayer[playerID]
	if !ok {
		return nil, game.E(game.CodeNotInTrade, "player %d is not trading", playerID)
	}
	pending = m.cancelLocked(s, reason, playerID)
	return s, nil
}

func (m *Manager) IsPlayerInTrade(playerID snowflake.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byPlayer[playerID]
	return ok
}

func (m *Manager) Session(tradeID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tradeID]
	return s, ok
}

// PlayerSession returns the session the player is currently part of.
func (m *Manager) PlayerSession(playerID snowflake.ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPlayer[playerID]
	return s, ok
}

func (m *Manager) touchLocked(s *Session) {
	s.LastActivityAt = m.nowFn()
}

func (m *Manager) removeLocked(s *Session) {
	delete(m.sessions, s.ID)
	if m.byPlayer[s.Initiator.PlayerID] == s {
		delete(m.byPlayer, s.Initiator.PlayerID)
	}
	if m.byPlayer[s.Recipient.PlayerID] == s {
		delete(m.byPlayer, s.Recipient.PlayerID)
	}
}

// cancelLocked tears the session down and returns the cancellation
// events for the caller to publish after releasing the mutex.
func (m *Manager) cancelLocked(s *Session, reason CancelReason, actorID snowflake.ID) []events.Event {
	if s.terminal() {
		return nil
	}
	s.Status = StatusCancelled
	s.Reason = reason
	m.removeLocked(s)
	m.cooldowns[pairOf(s.Initiator.PlayerID, s.Recipient.PlayerID)] = m.nowFn().Add(m.cfg.PairCooldown)

	slog.Info("Trade cancelled",
		slog.String("type", "trade"),
		slog.String("trade_id", s.ID),
		slog.String("reason", string(reason)),
		slog.Any("actor", actorID))

	// Both participants hear about the cancellation, not just the actor.
	out := make([]events.Event, 0, 2)
	for _, p := range []snowflake.ID{s.Initiator.PlayerID, s.Recipient.PlayerID} {
		e := events.New(events.TradeCancelled)
		e.TradeID = s.ID
		e.PlayerID = p
		e.OtherID = actorID
		e.Reason = string(reason)
		out = append(out, e)
	}
	return out
}

// Sweep expires pending requests past their deadline and idle sessions
// past the inactivity window. Pending requests use a hard deadline;
// active sessions an idle timeout that add/remove/accept pushes forward.
func (m *Manager) Sweep() {
	var pending []events.Event
	defer m.publishAfter(&pending)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	for _, s := range m.sessions {
		switch s.Status {
		case StatusPending:
			if now.After(s.ExpiresAt) {
				pending = append(pending, m.cancelLocked(s, ReasonTimeout, 0)...)
			}
		case StatusActive, StatusConfirming:
			if now.Sub(s.LastActivityAt) > m.cfg.IdleTimeout {
				pending = append(pending, m.cancelLocked(s, ReasonTimeout, 0)...)
			}
		}
	}

	for pair, until := range m.cooldowns {
		if now.After(until) {
			delete(m.cooldowns, pair)
		}
	}
}

// Run sweeps expired sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
