package realmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a config with every game tunable set to its
// production default, so a minimal config file only needs [db].
func DefaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			TradeRequestTimeout: 30 * time.Second,
			TradeIdleTimeout:    2 * time.Minute,
			TradePairCooldown:   10 * time.Second,
			AutosaveInterval:    time.Minute,
			TradeRatePerSecond:  5,
			BankRatePerSecond:   10,
			IdempotencyTTL:      5 * time.Second,
			CacheSize:           2048,
		},
		Backup: BackupConfig{
			Interval: 15 * time.Minute,
		},
	}
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	DB     DBConfig     `toml:"db"`
	Mongo  MongoConfig  `toml:"mongo"`
	Backup BackupConfig `toml:"backup"`
	Game   GameConfig   `toml:"game"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type BackupConfig struct {
	Key      string        `toml:"key"`
	Secret   string        `toml:"secret"`
	Region   string        `toml:"region"`
	Bucket   string        `toml:"bucket"`
	Interval time.Duration `toml:"interval"`
}

type GameConfig struct {
	TradeRequestTimeout time.Duration `toml:"trade_request_timeout"`
	TradeIdleTimeout    time.Duration `toml:"trade_idle_timeout"`
	TradePairCooldown   time.Duration `toml:"trade_pair_cooldown"`
	AutosaveInterval    time.Duration `toml:"autosave_interval"`
	TradeRatePerSecond  int           `toml:"trade_rate_per_second"`
	BankRatePerSecond   int           `toml:"bank_rate_per_second"`
	IdempotencyTTL      time.Duration `toml:"idempotency_ttl"`
	CacheSize           int           `toml:"cache_size"`
}
