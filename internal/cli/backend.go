package cli

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"solana-token-sale/internal/config"
	"solana-token-sale/internal/storage"
	"solana-token-sale/internal/storage/bolt"
	chstore "solana-token-sale/internal/storage/clickhouse"
	"solana-token-sale/internal/storage/memory"
	"solana-token-sale/internal/storage/migrations"
	pgstore "solana-token-sale/internal/storage/postgres"
)

const connectDelay = 500 * time.Millisecond

// backend is the storage selected by the configuration.
type backend struct {
	accounts storage.AccountStore
	events   storage.SaleEventStore

	// analytics mirrors committed events into ClickHouse. Nil when no
	// ClickHouse DSN is configured.
	analytics storage.SaleEventStore

	closers []func() error
}

// Close releases backends in reverse order of opening.
func (b *backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	b.closers = nil
	return err
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
		}
	}()

	switch cfg.Store {
	case config.StoreMemory:
		b.accounts = memory.NewAccountStore()
		b.events = memory.NewSaleEventStore()
	case config.StoreBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, errors.Wrap(err, "open bolt store")
		}
		b.closers = append(b.closers, store.Close)
		b.accounts = store
		b.events = memory.NewSaleEventStore()
		logger.Info("bolt account store opened; sale events kept in memory", zap.String("path", cfg.BoltPath))
	case config.StorePostgres:
		pool, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return nil, errors.Wrap(err, "postgres migrations")
		}
		if len(applied) > 0 {
			logger.Info("postgres migrations applied", zap.Strings("files", applied))
		}
		b.accounts = pgstore.NewAccountStore(pool)
		b.events = pgstore.NewSaleEventStore(pool)
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := connectClickHouse(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		b.analytics = chstore.NewSaleEventStore(conn)
	}
	return b, nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgstore.Pool, error) {
	var pool *pgstore.Pool
	err := retry.Do(
		func() error {
			var err error
			pool, err = pgstore.NewPool(ctx, cfg.PostgresDSN)
			return err
		},
		connectOptions(ctx, cfg, logger.With(zap.String("backend", "postgres")))...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return pool, nil
}

// connectClickHouse applies the embedded migrations, creating the database
// if needed, and returns a connection to it.
func connectClickHouse(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*chstore.Conn, error) {
	var conn *chstore.Conn
	err := retry.Do(
		func() error {
			var err error
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
			return err
		},
		connectOptions(ctx, cfg, logger.With(zap.String("backend", "clickhouse")))...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect clickhouse")
	}
	return conn, nil
}

func connectOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("connect failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	}
}
