package sqlite

import (
	"context"
	"fmt"
	"strings"

	"customeretl/internal/ddl"
	"customeretl/internal/storage"
)

// Dialect maps fact table types to SQLite column types. INTEGER with a
// PRIMARY KEY clause aliases the rowid, so ids are assigned automatically.
var Dialect = ddl.Dialect{
	ddl.Serial:    "INTEGER",
	ddl.Text:      "TEXT",
	ddl.Timestamp: "TEXT",
	ddl.Money:     "TEXT",
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for t.
func BuildCreateTableSQL(t ddl.TableDef) (string, error) {
	cols, err := ddl.ColumnClauses(t, quoteIdent)
	if err != nil {
		return "", fmt.Errorf("sqlite %w", err)
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		ddl.QuoteFQN(t.FQN, quoteIdent),
		strings.Join(cols, ",\n  "),
	), nil
}

// EnsureTable creates the fact table named table if it does not exist.
func EnsureTable(ctx context.Context, repo storage.Repository, table string) error {
	td, err := ddl.FactTable(table, Dialect)
	if err != nil {
		return err
	}
	sql, err := BuildCreateTableSQL(td)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
