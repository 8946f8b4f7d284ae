package migrations

import (
	"context"
	"io/fs"
	"net/url"
	"strings"

	"github.com/go-faster/errors"

	chstore "solana-token-sale/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the database named in dsn if needed and
// applies every embedded statement. The statements are idempotent. Returns a
// connection to the target database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, errors.Wrap(err, "connect clickhouse admin")
	}
	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName); err != nil {
		admin.Close()
		return nil, errors.Wrapf(err, "create database %s", dbName)
	}
	if err := admin.Close(); err != nil {
		return nil, errors.Wrap(err, "close admin connection")
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, errors.Wrap(err, "connect clickhouse")
	}
	if err := applyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, file := range files {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return errors.Wrapf(err, "migration %s", file)
		}
		// The driver executes one statement per call.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return errors.Wrapf(err, "apply migration %s", file)
			}
		}
	}
	return nil
}

// splitStatements drops -- comment lines and splits on semicolons. Semicolons
// inside quoted literals are rejected rather than parsed.
func splitStatements(input string) ([]string, error) {
	inString := false
	for i := 0; i < len(input); i++ {
		switch {
		case input[i] == '\'' && i+1 < len(input) && input[i+1] == '\'':
			i++
		case input[i] == '\'':
			inString = !inString
		case input[i] == ';' && inString:
			return nil, errors.New("semicolon inside string literal")
		}
	}

	var lines []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse clickhouse dsn")
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn missing database")
	}
	return db, nil
}
