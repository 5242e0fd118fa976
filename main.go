package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duskridge/realmd/realmd"
	"github.com/duskridge/realmd/realmd/database"
	"github.com/duskridge/realmd/realmd/logger"
	"github.com/duskridge/realmd/realmd/utils"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	snapshotOnStart := flag.Bool("snapshot-on-start", false, "take a backup snapshot immediately after startup")
	flag.Parse()

	cfg, err := realmd.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	logger.LogSystem("Starting realmd",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, database.DBConfig{
		Host:         cfg.DB.Host,
		Port:         cfg.DB.Port,
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Database:     cfg.DB.Database,
		PoolSize:     cfg.DB.PoolSize,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxLifetime:  cfg.DB.MaxLifetime,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("type", "db"),
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStart)))
		os.Exit(-1)
	}
	slog.Info("Database connected",
		slog.String("type", "db"),
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStart)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("type", "db"),
			slog.Any("error", err))
		os.Exit(-1)
	}

	srv := realmd.New(*cfg, version, commit)
	if err := srv.Setup(ctx, db); err != nil {
		logger.LogError("Failed to set up server", err)
		db.Close()
		os.Exit(-1)
	}

	bpm := utils.NewBackgroundProcessManager()
	bpm.StartProcess("trade-sweeper", srv.TradeManager.Run)
	bpm.StartProcess("lock-sweeper", srv.Locks.Run)
	bpm.StartProcess("trade-ratelimit-sweeper", srv.TradeLimiter.Run)
	bpm.StartProcess("bank-ratelimit-sweeper", srv.BankLimiter.Run)
	bpm.StartProcess("idempotency-sweeper", srv.Idempotency.Run)
	bpm.StartProcess("autosave", srv.Autosave.Run)
	if srv.Archive != nil {
		bpm.StartProcess("trade-archive", srv.Archive.Run)
	}
	if srv.Backup != nil {
		bpm.StartProcess("backup", srv.Backup.Run)
	}

	if *snapshotOnStart && srv.Backup != nil {
		if err := srv.Backup.Snapshot(ctx); err != nil {
			logger.LogError("Startup snapshot failed", err)
		}
	}

	logger.LogSystem("realmd is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	logger.LogSystem("Shutting down")
	if err := bpm.Shutdown(45 * time.Second); err != nil {
		slog.Warn("Background processes did not stop cleanly",
			slog.String("type", "sys"),
			slog.Any("error", err))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	srv.Close(closeCtx)
}
