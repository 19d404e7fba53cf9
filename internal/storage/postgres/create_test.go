package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"customeretl/internal/ddl"
	"customeretl/internal/storage"
)

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"name", `"name"`},
		{"", `""`},
		{"user name", `"user name"`},
		{`weird"name`, `"weird""name"`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.in); got != tt.want {
			t.Fatalf("quoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildCreateTableSQL_FactTable(t *testing.T) {
	t.Parallel()

	td, err := ddl.FactTable("public.customers_data", Dialect)
	if err != nil {
		t.Fatalf("FactTable: %v", err)
	}
	sql, err := BuildCreateTableSQL(td)
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."customers_data" (`,
		`"id" BIGSERIAL NOT NULL`,
		`"order_date" TIMESTAMP NOT NULL`,
		`"total_amount" NUMERIC(12,2) NOT NULL`,
		`"gender" TEXT,`,
		`PRIMARY KEY ("id")`,
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("missing %q in:\n%s", want, sql)
		}
	}
}

func TestBuildCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	_, err := BuildCreateTableSQL(ddl.TableDef{FQN: "t"})
	if err == nil || !strings.HasPrefix(err.Error(), "postgres ddl:") {
		t.Fatalf("err = %v", err)
	}
}

type fakeRepository struct {
	storage.Repository
	sql []string
	err error
}

func (f *fakeRepository) Exec(_ context.Context, sql string) error {
	f.sql = append(f.sql, sql)
	return f.err
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	repo := &fakeRepository{}
	if err := EnsureTable(context.Background(), repo, "customers_data"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(repo.sql) != 1 || !strings.HasPrefix(repo.sql[0], "CREATE TABLE IF NOT EXISTS") {
		t.Fatalf("sql %v", repo.sql)
	}

	boom := errors.New("boom")
	if err := EnsureTable(context.Background(), &fakeRepository{err: boom}, "customers_data"); !errors.Is(err, boom) {
		t.Fatalf("want exec error, got %v", err)
	}
}
