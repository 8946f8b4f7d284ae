package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLFiles(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_accounts.sql", "002_sale_events.sql"}, pg)

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_sale_events.sql"}, ch)
}

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements(`-- comment; ignored
CREATE TABLE a (x String DEFAULT 'it''s');

CREATE TABLE b (y UInt64)
ENGINE = Memory;
`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String DEFAULT 'it''s')", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y UInt64)\nENGINE = Memory", stmts[1])

	_, err = splitStatements(`INSERT INTO t VALUES ('a;b');`)
	assert.Error(t, err)
}

func TestEmbeddedClickhouseMigrationsSplit(t *testing.T) {
	data, err := ClickhouseFS.ReadFile("clickhouse/001_sale_events.sql")
	require.NoError(t, err)
	stmts, err := splitStatements(string(data))
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "ReplacingMergeTree")
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/tokensale?dial_timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, "tokensale", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
