package realmd

import (
	"context"
	"log/slog"

	"github.com/duskridge/realmd/realmd/cache"
	"github.com/duskridge/realmd/realmd/database"
	"github.com/duskridge/realmd/realmd/database/repositories"
	"github.com/duskridge/realmd/realmd/events"
	"github.com/duskridge/realmd/realmd/game/guard"
	"github.com/duskridge/realmd/realmd/game/trade"
	"github.com/duskridge/realmd/realmd/game/transaction"
	"github.com/duskridge/realmd/realmd/handlers"
	"github.com/duskridge/realmd/realmd/services"
)

func New(cfg Config, version string, commit string) *Server {
	return &Server{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// Server wires the whole engine together: storage, repositories, the
// player cache, the trade manager, the transaction coordinator, and the
// request handlers in front of them.
type Server struct {
	Cfg     Config
	Version string
	Commit  string

	DB    *database.DB
	Bus   *events.Bus
	Locks *guard.LockTable

	PlayerRepository    repositories.PlayerRepository
	ItemRepository      repositories.ItemRepository
	InventoryRepository repositories.InventoryRepository
	BankRepository      repositories.BankRepository

	PlayerCache *cache.PlayerCache
	ItemCatalog *services.ItemCatalog
	Autosave    *services.Autosave
	Backup      *services.BackupService
	Archive     *events.Archive

	TradeManager *trade.Manager
	Coordinator  *transaction.Coordinator

	TradeLimiter *guard.RateLimiter
	BankLimiter  *guard.RateLimiter
	Idempotency  *guard.Idempotency

	TradeHandler *handlers.TradeHandler
	BankHandler  *handlers.BankHandler
}

// Setup builds every component on top of an open database connection.
// Optional pieces (event archive, backups) are skipped when their
// config is absent.
func (s *Server) Setup(ctx context.Context, db *database.DB) error {
	s.DB = db
	s.Bus = events.NewBus()
	s.Locks = guard.NewLockTable()

	s.PlayerRepository = repositories.NewPlayerRepository(db.BunDB())
	s.ItemRepository = repositories.NewItemRepository(db.BunDB())
	s.InventoryRepository = repositories.NewInventoryRepository(db.BunDB())
	s.BankRepository = repositories.NewBankRepository(db.BunDB())

	playerCache, err := cache.NewPlayerCache(s.Cfg.Game.CacheSize, s.InventoryRepository, s.BankRepository)
	if err != nil {
		return err
	}
	s.PlayerCache = playerCache

	catalog, err := services.NewItemCatalog(s.ItemRepository)
	if err != nil {
		return err
	}
	if err := catalog.Load(ctx); err != nil {
		return err
	}
	s.ItemCatalog = catalog
	slog.Info("Item catalog loaded",
		slog.String("type", "sys"),
		slog.Int("items", catalog.Size()))

	s.TradeManager = trade.NewManager(trade.Config{
		RequestTimeout: s.Cfg.Game.TradeRequestTimeout,
		IdleTimeout:    s.Cfg.Game.TradeIdleTimeout,
		PairCooldown:   s.Cfg.Game.TradePairCooldown,
	}, s.Bus)

	s.Coordinator = transaction.NewCoordinator(
		database.NewTxStore(db), s.PlayerCache, s.Locks, s.ItemCatalog, s.Bus)

	s.TradeLimiter = guard.NewRateLimiter("trade", s.Cfg.Game.TradeRatePerSecond)
	s.BankLimiter = guard.NewRateLimiter("bank", s.Cfg.Game.BankRatePerSecond)
	s.Idempotency = guard.NewIdempotency(s.Cfg.Game.IdempotencyTTL)

	s.Autosave = services.NewAutosave(s.PlayerCache, s.Locks, s.Cfg.Game.AutosaveInterval)
	s.Autosave.Attach(s.Bus)

	s.TradeHandler = handlers.NewTradeHandler(
		s.TradeManager, s.Coordinator, s.ItemCatalog, s.PlayerCache, s.PlayerRepository,
		s.Autosave, s.TradeLimiter, s.Idempotency, s.Bus)
	s.BankHandler = handlers.NewBankHandler(
		s.Coordinator, s.ItemCatalog, s.BankLimiter, s.Idempotency)

	if s.Cfg.Mongo.URI != "" {
		archive, err := events.NewArchive(ctx, s.Cfg.Mongo.URI, s.Cfg.Mongo.Database)
		if err != nil {
			return err
		}
		archive.Attach(s.Bus)
		s.Archive = archive
	}

	if s.Cfg.Backup.Bucket != "" {
		backup, err := services.NewBackupService(
			s.Cfg.Backup.Key, s.Cfg.Backup.Secret, s.Cfg.Backup.Region, s.Cfg.Backup.Bucket,
			s.Cfg.Backup.Interval,
			s.PlayerRepository, s.InventoryRepository, s.BankRepository)
		if err != nil {
			return err
		}
		s.Backup = backup
	}

	return nil
}

// Close releases external connections. Background loops are stopped by
// the process manager before this runs.
func (s *Server) Close(ctx context.Context) {
	if s.Archive != nil {
		if err := s.Archive.Close(ctx); err != nil {
			slog.Error("Failed to close event archive",
				slog.String("type", "sys"),
				slog.Any("error", err))
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
