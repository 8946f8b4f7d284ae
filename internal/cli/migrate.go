package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"solana-token-sale/internal/config"
	"solana-token-sale/internal/storage/migrations"
)

// MigrateResult lists the databases whose schema was applied.
type MigrateResult struct {
	Applied []string `json:"applied"`

	// PostgresFiles are the Postgres migrations applied by this run. Files
	// recorded by an earlier run are skipped.
	PostgresFiles []string `json:"postgres_files,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded Postgres and ClickHouse migrations for every backend
configured through TOKENSALE_POSTGRES_DSN and TOKENSALE_CLICKHOUSE_DSN.
Migrations are idempotent.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			logger, err := config.Logger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			res, err := runMigrate(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) error {
				for _, db := range res.Applied {
					if _, err := fmt.Fprintf(w, "applied %s migrations\n", db); err != nil {
						return err
					}
				}
				for _, file := range res.PostgresFiles {
					if _, err := fmt.Fprintf(w, "  postgres: %s\n", file); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *MigrateResult, err error) {
	if cfg.PostgresDSN == "" && cfg.ClickHouseDSN == "" {
		return nil, errors.New("nothing to migrate: set " + config.Prefix + "POSTGRES_DSN or " + config.Prefix + "CLICKHOUSE_DSN")
	}
	res := &MigrateResult{}

	if cfg.PostgresDSN != "" {
		pool, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		res.PostgresFiles, err = migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return nil, errors.Wrap(err, "postgres migrations")
		}
		res.Applied = append(res.Applied, "postgres")
	}

	if cfg.ClickHouseDSN != "" {
		conn, connErr := connectClickHouse(ctx, cfg, logger)
		if connErr != nil {
			return nil, connErr
		}
		defer func() { err = multierr.Append(err, conn.Close()) }()
		res.Applied = append(res.Applied, "clickhouse")
	}

	logger.Info("migrations applied", zap.Strings("databases", res.Applied))
	return res, nil
}
