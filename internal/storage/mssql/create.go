package mssql

import (
	"context"
	"fmt"
	"strings"

	"customeretl/internal/ddl"
	"customeretl/internal/storage"
)

// Dialect maps fact table types to T-SQL types.
var Dialect = ddl.Dialect{
	ddl.Serial:    "BIGINT IDENTITY(1,1)",
	ddl.Text:      "NVARCHAR(255)",
	ddl.Timestamp: "DATETIME2",
	ddl.Money:     "DECIMAL(12,2)",
}

// BuildCreateTableSQL returns a T-SQL script that creates t if missing:
//
//	IF OBJECT_ID(N'[schema].[table]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [schema].[table] (...);
//	END;
func BuildCreateTableSQL(t ddl.TableDef) (string, error) {
	cols, err := ddl.ColumnClauses(t, quoteIdent)
	if err != nil {
		return "", fmt.Errorf("mssql %w", err)
	}
	fq := ddl.QuoteFQN(t.FQN, quoteIdent)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
		strings.ReplaceAll(fq, "'", "''"),
		fq,
		strings.Join(cols, ",\n    "),
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

// quoteIdent brackets one identifier segment, doubling embedded ']'.
func quoteIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }
