package storage

import (
	"context"
	"strings"
	"testing"
)

type fakeRepo struct {
	execs []string
}

func (f *fakeRepo) CopyFrom(_ context.Context, _ []string, rows [][]any) (int64, error) {
	return int64(len(rows)), nil
}

func (f *fakeRepo) Exec(_ context.Context, sql string) error {
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeRepo) Close() {}

func TestNew_DispatchesByKind(t *testing.T) {
	var got Config
	Register("fake-dispatch", func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-dispatch", DSN: "x", Table: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer repo.Close()
	if got.DSN != "x" || got.Table != "t" {
		t.Fatalf("factory got %+v", got)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-dispatch" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v", Kinds())
	}
}

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnsureTable(t *testing.T) {
	RegisterDDL("fake-ddl", func(ctx context.Context, repo Repository, table string) error {
		return repo.Exec(ctx, "CREATE "+table)
	})

	repo := &fakeRepo{}
	if err := EnsureTable(context.Background(), "fake-ddl", repo, "customers_data"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(repo.execs) != 1 || repo.execs[0] != "CREATE customers_data" {
		t.Fatalf("execs %v", repo.execs)
	}
	if err := EnsureTable(context.Background(), "nope", repo, "t"); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}
