package handlers

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/duskridge/realmd/realmd/cache"
	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game"
	"github.com/duskridge/realmd/realmd/game/guard"
	"github.com/duskridge/realmd/realmd/game/trade"
	"github.com/duskridge/realmd/realmd/game/transaction"
	"github.com/duskridge/realmd/realmd/services"
)

var (
	alice = snowflake.ID(100)
	bob   = snowflake.ID(200)
)

const (
	itemWhip int64 = 4151
	itemRune int64 = 560
)

// world is the single in-memory source of truth behind both the
// repository fakes and the transaction store fake, so cache loads and
// committed transactions observe the same data.
type world struct {
	inv     map[snowflake.ID]map[int]models.InventoryEntry
	bank    map[snowflake.ID]map[int64]models.BankEntry
	players map[snowflake.ID]*models.Player
	items   []models.ItemDefinition

	txAttempts int
}

func newWorld() *world {
	return &world{
		inv:     make(map[snowflake.ID]map[int]models.InventoryEntry),
		bank:    make(map[snowflake.ID]map[int64]models.BankEntry),
		players: make(map[snowflake.ID]*models.Player),
		items: []models.ItemDefinition{
			{ID: itemRune, Name: "Death rune", Stackable: true, Tradeable: true},
			{ID: itemWhip, Name: "Abyssal whip", Stackable: false, Tradeable: true},
			{ID: 6570, Name: "Fire cape", Stackable: false, Tradeable: false},
			{ID: game.CoinsItemID, Name: "Coins", Stackable: true, Tradeable: true},
		},
	}
}

func (w *world) addPlayer(id snowflake.ID, name string, coins int64) {
	w.players[id] = &models.Player{ID: id, DisplayName: name, Coins: coins}
	w.inv[id] = make(map[int]models.InventoryEntry)
	w.bank[id] = make(map[int64]models.BankEntry)
}

func (w *world) give(id snowflake.ID, slot int, itemID, qty int64) {
	w.inv[id][slot] = models.InventoryEntry{PlayerID: id, SlotIndex: slot, ItemID: itemID, Quantity: qty}
}

func (w *world) giveBank(id snowflake.ID, slot int, itemID, qty int64) {
	w.bank[id][itemID] = models.BankEntry{PlayerID: id, Slot: slot, ItemID: itemID, Quantity: qty}
}

func (w *world) inventoryOf(id snowflake.ID) []models.InventoryEntry {
	var out []models.InventoryEntry
	for _, e := range w.inv[id] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out
}

func (w *world) bankOf(id snowflake.ID) []models.BankEntry {
	var out []models.BankEntry
	for _, e := range w.bank[id] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

type fakeInvRepo struct{ w *world }

func (r *fakeInvRepo) DB() *bun.DB { return nil }
func (r *fakeInvRepo) GetByPlayerID(_ context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error) {
	return r.w.inventoryOf(playerID), nil
}
func (r *fakeInvRepo) GetBySlot(_ context.Context, playerID snowflake.ID, slotIndex int) (*models.InventoryEntry, error) {
	if e, ok := r.w.inv[playerID][slotIndex]; ok {
		return &e, nil
	}
	return nil, fmt.Errorf("slot %d is empty", slotIndex)
}
func (r *fakeInvRepo) ReplaceForPlayer(_ context.Context, playerID snowflake.ID, entries []models.InventoryEntry) error {
	m := make(map[int]models.InventoryEntry, len(entries))
	for _, e := range entries {
		e.PlayerID = playerID
		m[e.SlotIndex] = e
	}
	r.w.inv[playerID] = m
	return nil
}

type fakeBankRepo struct{ w *world }

func (r *fakeBankRepo) DB() *bun.DB { return nil }
func (r *fakeBankRepo) GetByPlayerID(_ context.Context, playerID snowflake.ID) ([]models.BankEntry, error) {
	return r.w.bankOf(playerID), nil
}
func (r *fakeBankRepo) GetByItem(_ context.Context, playerID snowflake.ID, itemID int64) (*models.BankEntry, error) {
	if e, ok := r.w.bank[playerID][itemID]; ok {
		return &e, nil
	}
	return nil, fmt.Errorf("no bank stack for item %d", itemID)
}
func (r *fakeBankRepo) ReplaceForPlayer(_ context.Context, playerID snowflake.ID, entries []models.BankEntry) error {
	m := make(map[int64]models.BankEntry, len(entries))
	for _, e := range entries {
		e.PlayerID = playerID
		m[e.ItemID] = e
	}
	r.w.bank[playerID] = m
	return nil
}

type fakePlayerRepo struct{ w *world }

func (r *fakePlayerRepo) DB() *bun.DB { return nil }
func (r *fakePlayerRepo) Create(_ context.Context, player *models.Player) error {
	r.w.players[player.ID] = player
	return nil
}
func (r *fakePlayerRepo) GetByID(_ context.Context, id snowflake.ID) (*models.Player, error) {
	p, ok := r.w.players[id]
	if !ok {
		return nil, fmt.Errorf("player not found")
	}
	return p, nil
}
func (r *fakePlayerRepo) GetAllIDs(_ context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	for id := range r.w.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type fakeItemRepo struct{ w *world }

func (r *fakeItemRepo) DB() *bun.DB { return nil }
func (r *fakeItemRepo) GetAll(_ context.Context) ([]models.ItemDefinition, error) {
	return r.w.items, nil
}
func (r *fakeItemRepo) GetByID(_ context.Context, id int64) (*models.ItemDefinition, error) {
	for i := range r.w.items {
		if r.w.items[i].ID == id {
			return &r.w.items[i], nil
		}
	}
	return nil, fmt.Errorf("unknown item %d", id)
}
func (r *fakeItemRepo) Upsert(_ context.Context, item *models.ItemDefinition) error {
	r.w.items = append(r.w.items, *item)
	return nil
}

// memStore applies a transaction's writes only if the callback
// succeeds, against the same world the repositories read.
type memStore struct{ w *world }

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx transaction.Tx) error) error {
	s.w.txAttempts++

	tx := &memTx{
		inv:     make(map[snowflake.ID]map[int]models.InventoryEntry, len(s.w.inv)),
		bank:    make(map[snowflake.ID]map[int64]models.BankEntry, len(s.w.bank)),
		players: make(map[snowflake.ID]*models.Player, len(s.w.players)),
	}
	for id, m := range s.w.inv {
		cp := make(map[int]models.InventoryEntry, len(m))
		for k, v := range m {
			cp[k] = v
		}
		tx.inv[id] = cp
	}
	for id, m := range s.w.bank {
		cp := make(map[int64]models.BankEntry, len(m))
		for k, v := range m {
			cp[k] = v
		}
		tx.bank[id] = cp
	}
	for id, p := range s.w.players {
		cp := *p
		tx.players[id] = &cp
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.w.inv = tx.inv
	s.w.bank = tx.bank
	s.w.players = tx.players
	return nil
}

func (s *memStore) IsRetryable(err error) bool { return false }

type memTx struct {
	inv     map[snowflake.ID]map[int]models.InventoryEntry
	bank    map[snowflake.ID]map[int64]models.BankEntry
	players map[snowflake.ID]*models.Player
}

func (t *memTx) InventoryForUpdate(_ context.Context, playerID snowflake.ID) ([]models.InventoryEntry, error) {
	var out []models.InventoryEntry
	for _, e := range t.inv[playerID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out, nil
}

func (t *memTx) BankForUpdate(_ context.Context, playerID snowflake.ID) ([]models.BankEntry, error) {
	var out []models.BankEntry
	for _, e := range t.bank[playerID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (t *memTx) PlayerForUpdate(_ context.Context, playerID snowflake.ID) (*models.Player, error) {
	p, ok := t.players[playerID]
	if !ok {
		return nil, fmt.Errorf("player %d not found", playerID)
	}
	return p, nil
}

func (t *memTx) DeleteInventorySlot(_ context.Context, playerID snowflake.ID, slotIndex int) error {
	delete(t.inv[playerID], slotIndex)
	return nil
}

func (t *memTx) SetInventoryQuantity(_ context.Context, playerID snowflake.ID, slotIndex int, quantity int64) error {
	e := t.inv[playerID][slotIndex]
	e.Quantity = quantity
	t.inv[playerID][slotIndex] = e
	return nil
}

func (t *memTx) InsertInventoryEntry(_ context.Context, entry *models.InventoryEntry) error {
	if t.inv[entry.PlayerID] == nil {
		t.inv[entry.PlayerID] = make(map[int]models.InventoryEntry)
	}
	t.inv[entry.PlayerID][entry.SlotIndex] = *entry
	return nil
}

func (t *memTx) DeleteBankEntry(_ context.Context, playerID snowflake.ID, itemID int64) error {
	delete(t.bank[playerID], itemID)
	return nil
}

func (t *memTx) SetBankQuantity(_ context.Context, playerID snowflake.ID, itemID int64, quantity int64) error {
	e := t.bank[playerID][itemID]
	e.Quantity = quantity
	t.bank[playerID][itemID] = e
	return nil
}

func (t *memTx) InsertBankEntry(_ context.Context, entry *models.BankEntry) error {
	if t.bank[entry.PlayerID] == nil {
		t.bank[entry.PlayerID] = make(map[int64]models.BankEntry)
	}
	t.bank[entry.PlayerID][entry.ItemID] = *entry
	return nil
}

func (t *memTx) SetPlayerCoins(_ context.Context, playerID snowflake.ID, coins int64) error {
	p, ok := t.players[playerID]
	if !ok {
		return fmt.Errorf("player %d not found", playerID)
	}
	p.Coins = coins
	return nil
}

type fixture struct {
	w       *world
	bus     *events.Bus
	locks   *guard.LockTable
	manager *trade.Manager
	trades  *TradeHandler
	bank    *BankHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	w := newWorld()
	w.addPlayer(alice, "Alice", 0)
	w.addPlayer(bob, "Bob", 0)

	invRepo := &fakeInvRepo{w: w}
	bankRepo := &fakeBankRepo{w: w}
	playerRepo := &fakePlayerRepo{w: w}

	catalog, err := services.NewItemCatalog(&fakeItemRepo{w: w})
	require.NoError(t, err)
	require.NoError(t, catalog.Load(context.Background()))

	playerCache, err := cache.NewPlayerCache(64, invRepo, bankRepo)
	require.NoError(t, err)

	bus := events.NewBus()
	locks := guard.NewLockTable()
	coordinator := transaction.NewCoordinator(&memStore{w: w}, playerCache, locks, catalog, bus)
	manager := trade.NewManager(trade.Config{
		RequestTimeout: 30 * time.Second,
		IdleTimeout:    2 * time.Minute,
		PairCooldown:   10 * time.Second,
	}, bus)
	saver := services.NewAutosave(playerCache, locks, time.Minute)

	return &fixture{
		w:       w,
		bus:     bus,
		locks:   locks,
		manager: manager,
		trades: NewTradeHandler(manager, coordinator, catalog, playerCache, playerRepo, saver,
			guard.NewRateLimiter("trade", 100), guard.NewIdempotency(5*time.Second), bus),
		bank: NewBankHandler(coordinator, catalog,
			guard.NewRateLimiter("bank", 100), guard.NewIdempotency(5*time.Second)),
	}
}

func requireOK(t *testing.T, r Response) {
	t.Helper()
	require.True(t, r.Success, "expected success, got %s: %s", r.ErrorCode, r.Error)
}

func TestTradeFlow_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.give(alice, 0, itemWhip, 1)
	f.w.give(bob, 3, itemRune, 500)

	r := f.trades.RequestTrade(ctx, alice, bob)
	requireOK(t, r)
	tradeID := r.Data.(*trade.Session).ID

	requireOK(t, f.trades.RespondToTrade(ctx, tradeID, bob, true))
	requireOK(t, f.trades.AddItem(ctx, alice, 0, itemWhip, 1))
	requireOK(t, f.trades.AddItem(ctx, bob, 3, itemRune, 500))

	// Offer screen: both accept, second acceptance advances to the
	// confirmation screen.
	requireOK(t, f.trades.SetAccepted(ctx, alice, true))
	requireOK(t, f.trades.SetAccepted(ctx, bob, true))
	s, okFound := f.manager.Session(tradeID)
	require.True(t, okFound)
	assert.Equal(t, trade.StatusConfirming, s.Status)

	// Confirmation screen: both accept again, the swap executes.
	requireOK(t, f.trades.SetAccepted(ctx, alice, true))
	r = f.trades.SetAccepted(ctx, bob, true)
	requireOK(t, r)
	result := r.Data.(*transaction.SwapResult)
	assert.Equal(t, tradeID, result.TradeID)

	assert.False(t, f.manager.IsPlayerInTrade(alice))
	assert.False(t, f.manager.IsPlayerInTrade(bob))

	// Each side's vacated slot 0/3 frees up; both incoming items land on
	// the lowest free slot.
	assert.Equal(t, itemRune, f.w.inv[alice][0].ItemID)
	assert.Equal(t, int64(500), f.w.inv[alice][0].Quantity)
	assert.Equal(t, itemWhip, f.w.inv[bob][0].ItemID)
}

func TestWithdraw_MaxQuantityBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.giveBank(alice, 0, game.CoinsItemID, game.MaxQuantity)

	r := f.bank.Withdraw(ctx, alice, game.CoinsItemID, game.MaxQuantity)
	requireOK(t, r)
	assert.Equal(t, game.MaxQuantity, f.w.inv[alice][0].Quantity)

	// One past the cap never reaches storage.
	attempts := f.w.txAttempts
	r = f.bank.Withdraw(ctx, alice, game.CoinsItemID, game.MaxQuantity+1)
	assert.Equal(t, string(game.CodeInvalidQuantity), r.ErrorCode)
	assert.Equal(t, attempts, f.w.txAttempts)
}

func TestAddItem_DuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.give(alice, 0, itemWhip, 1)

	r := f.trades.RequestTrade(ctx, alice, bob)
	requireOK(t, r)
	requireOK(t, f.trades.RespondToTrade(ctx, r.Data.(*trade.Session).ID, bob, true))

	requireOK(t, f.trades.AddItem(ctx, alice, 0, itemWhip, 1))
	r = f.trades.AddItem(ctx, alice, 0, itemWhip, 1)
	assert.Equal(t, string(game.CodeDuplicate), r.ErrorCode)
}

func TestTradeRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trades.limiter = guard.NewRateLimiter("trade", 2)

	f.trades.Cancel(ctx, alice)
	f.trades.Cancel(ctx, alice)
	r := f.trades.Cancel(ctx, alice)
	assert.Equal(t, string(game.CodeRateLimited), r.ErrorCode)
}

func TestAddItem_NotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.give(alice, 0, itemWhip, 1)

	r := f.trades.RequestTrade(ctx, alice, bob)
	requireOK(t, r)
	requireOK(t, f.trades.RespondToTrade(ctx, r.Data.(*trade.Session).ID, bob, true))

	r = f.trades.AddItem(ctx, alice, 5, itemWhip, 1)
	assert.Equal(t, string(game.CodeItemChanged), r.ErrorCode)

	r = f.trades.AddItem(ctx, bob, 0, 6570, 1)
	assert.Equal(t, string(game.CodeUntradeableItem), r.ErrorCode)
}

func TestHandleDisconnect_CancelsAndNotifiesOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var cancelled []events.Event
	f.bus.Subscribe(func(e events.Event) {
		if e.Type == events.TradeCancelled {
			cancelled = append(cancelled, e)
		}
	})

	r := f.trades.RequestTrade(ctx, alice, bob)
	requireOK(t, r)
	requireOK(t, f.trades.RespondToTrade(ctx, r.Data.(*trade.Session).ID, bob, true))

	f.trades.HandleDisconnect(ctx, alice)

	assert.False(t, f.manager.IsPlayerInTrade(alice))
	assert.False(t, f.manager.IsPlayerInTrade(bob))
	require.Len(t, cancelled, 2)
	assert.Equal(t, string(trade.ReasonDisconnected), cancelled[0].Reason)
}

func TestHandleDisconnect_DefersToTransactionInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.trades.RequestTrade(ctx, alice, bob)
	requireOK(t, r)

	// A held advisory lock means a coordinator is mid-commit for this
	// player; the disconnect save must stand aside rather than race it,
	// while the trade teardown still happens.
	require.True(t, f.locks.Lock(alice))
	f.trades.HandleDisconnect(ctx, alice)

	assert.False(t, f.manager.IsPlayerInTrade(alice))
	assert.True(t, f.locks.Held(alice), "disconnect must not release the coordinator's lock")
	f.locks.Unlock(alice)
}

func TestBankSearch_ThroughHandler(t *testing.T) {
	f := newFixture(t)

	r := f.bank.SearchItems(alice, "rune", 5)
	requireOK(t, r)
	results := r.Data.([]models.ItemDefinition)
	require.Len(t, results, 1)
	assert.Equal(t, itemRune, results[0].ID)

	r = f.bank.SearchItems(alice, "zanaris", 5)
	requireOK(t, r)
	assert.Empty(t, r.Data)
}

func TestBankDeposit_ThroughHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.give(alice, 0, itemRune, 30)

	r := f.bank.Deposit(ctx, alice, 0, itemRune, 30)
	requireOK(t, r)
	result := r.Data.(*transaction.BankOpResult)
	assert.Equal(t, int64(30), result.BankQuantity)
	assert.Empty(t, f.w.inv[alice])
	assert.Equal(t, int64(30), f.w.bank[alice][itemRune].Quantity)
}
