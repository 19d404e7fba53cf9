package mysql

import (
	"context"
	"fmt"
	"strings"

	"customeretl/internal/ddl"
	"customeretl/internal/storage"
)

// Dialect maps fact table types to MySQL types.
var Dialect = ddl.Dialect{
	ddl.Serial:    "BIGINT AUTO_INCREMENT",
	ddl.Text:      "VARCHAR(255)",
	ddl.Timestamp: "DATETIME",
	ddl.Money:     "DECIMAL(12,2)",
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for t with
// backtick-quoted identifiers.
func BuildCreateTableSQL(t ddl.TableDef) (string, error) {
	cols, err := ddl.ColumnClauses(t, quoteIdent)
	if err != nil {
		return "", fmt.Errorf("mysql %w", err)
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

func quoteIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
