package postgres

import (
	"context"
	"fmt"
	"strings"

	"customeretl/internal/ddl"
	"customeretl/internal/storage"
)

// Dialect maps fact table types to Postgres types.
var Dialect = ddl.Dialect{
	ddl.Serial:    "BIGSERIAL",
	ddl.Text:      "TEXT",
	ddl.Timestamp: "TIMESTAMP",
	ddl.Money:     "NUMERIC(12,2)",
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for t with
// double-quoted identifiers.
func BuildCreateTableSQL(t ddl.TableDef) (string, error) {
	cols, err := ddl.ColumnClauses(t, quoteIdent)
	if err != nil {
		return "", fmt.Errorf("postgres %w", err)
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

// quoteIdent quotes one identifier segment, doubling embedded quotes.
func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
