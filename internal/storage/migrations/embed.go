// Package migrations applies the embedded schema for the Postgres account
// store and the ClickHouse event analytics store.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// PostgresFS holds the Postgres schema: accounts, processed signatures and
// sale events.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the ClickHouse sale event schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// sqlFiles lists the .sql files of dir in apply order.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read embedded %s migrations", dir)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
