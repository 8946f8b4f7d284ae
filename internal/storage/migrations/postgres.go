package migrations

import (
	"context"
	"io/fs"
	"strings"

	"github.com/go-faster/errors"

	"solana-token-sale/internal/storage/postgres"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies embedded migrations that are not yet recorded
// in schema_migrations, each in its own transaction, and returns the names of
// the files it applied.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return applied, errors.Wrapf(err, "read migration %s", file)
		}
		ok, err := applyPostgres(ctx, pool, file, string(data))
		if err != nil {
			return applied, errors.Wrapf(err, "apply migration %s", file)
		}
		if ok {
			applied = append(applied, file)
		}
	}
	return applied, nil
}

// applyPostgres runs one migration unless it is already recorded. The insert
// into schema_migrations serializes concurrent migrators on the primary key.
func applyPostgres(ctx context.Context, pool *postgres.Pool, name, sql string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, errors.Wrap(err, "record")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if strings.TrimSpace(sql) != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return true, nil
}
