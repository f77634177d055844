package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	DBSource      string `env:"DB_SOURCE"`
	Port          string `env:"SERVER_PORT,default=8080"`
	Env           string `env:"ENVIRONMENT,default=development"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	LedgerBackend string `env:"LEDGER_BACKEND,default=postgres"`
	NodeID        string `env:"NODE_ID"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	ConnectionTTL time.Duration `env:"CONNECTION_TTL,default=24h"`

	MaxTransferAmount int64         `env:"MAX_TRANSFER_AMOUNT,default=1000000"`
	MaxRequestAmount  int64         `env:"MAX_REQUEST_AMOUNT,default=500000"`
	WelcomeBonus      int64         `env:"WELCOME_BONUS,default=2000"`
	NotifyTimeout     time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=10"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(dotenv string) (*Config, error) {
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenv, err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "node"
		}
		cfg.NodeID = host
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case BackendPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.LedgerBackend)
	}
	if c.MaxTransferAmount <= 0 || c.MaxRequestAmount <= 0 {
		return fmt.Errorf("amount limits must be positive")
	}
	if c.MaxRequestAmount > c.MaxTransferAmount {
		return fmt.Errorf("MAX_REQUEST_AMOUNT (%d) must not exceed MAX_TRANSFER_AMOUNT (%d)", c.MaxRequestAmount, c.MaxTransferAmount)
	}
	if c.WelcomeBonus < 0 {
		return fmt.Errorf("WELCOME_BONUS must not be negative")
	}
	if c.ConnectionTTL <= 0 || c.NotifyTimeout <= 0 {
		return fmt.Errorf("CONNECTION_TTL and NOTIFY_TIMEOUT must be positive")
	}
	return nil
}
