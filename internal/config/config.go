// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"solana-token-sale/internal/solana"
)

// Prefix is prepended to every environment variable name.
const Prefix = "TOKENSALE_"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	Store           string `env:"STORE" envDefault:"memory"`
	BoltPath        string `env:"BOLT_PATH" envDefault:"tokensale.db"`
	PostgresDSN     string `env:"POSTGRES_DSN"`
	ClickHouseDSN   string `env:"CLICKHOUSE_DSN"`
	ConnectAttempts uint   `env:"CONNECT_ATTEMPTS" envDefault:"5"`

	ProgramID   solana.Address `env:"PROGRAM_ID" envDefault:"Ha9ZBABH37ZY2sYKWUuKegRRPR1m58o8Jkz9yzdF6qro"`
	LockTimeout time.Duration  `env:"LOCK_TIMEOUT" envDefault:"5s"`

	FaucetEnabled bool   `env:"FAUCET_ENABLED" envDefault:"false"`
	FaucetLimit   uint64 `env:"FAUCET_LIMIT" envDefault:"10000000000"`

	RPCEndpoint string `env:"RPC_ENDPOINT" envDefault:"http://127.0.0.1:8899"`
}

// Load reads .env from the working directory, if present, then parses the
// process environment.
func Load() (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	return Parse(environ())
}

// Parse builds a Config from environment entries.
func Parse(environment map[string]string) (*Config, error) {
	var c Config
	if err := env.Parse(&c, env.Options{Prefix: Prefix, Environment: environment}); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreBolt:
		if c.BoltPath == "" {
			return errors.New("bolt store requires " + Prefix + "BOLT_PATH")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres store requires " + Prefix + "POSTGRES_DSN")
		}
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if c.ProgramID.IsZero() {
		return errors.New("program id must not be the zero address")
	}
	if c.FaucetEnabled && c.FaucetLimit == 0 {
		return errors.New("faucet limit must be positive when the faucet is enabled")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log level")
	}
	return nil
}

// FaucetCap returns the per-airdrop limit, or 0 when the faucet is disabled.
func (c *Config) FaucetCap() uint64 {
	if !c.FaucetEnabled {
		return 0
	}
	return c.FaucetLimit
}

// Logger builds a production zap logger at level.
func Logger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	cfg := zap.NewProductionConfig()
	cfg.Level.SetLevel(lvl)
	return cfg.Build()
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, strings.Trim(strings.TrimSpace(value), `"`)); err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
	}
	return nil
}

func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
