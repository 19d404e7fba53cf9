package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/storage"
	_ "customeretl/internal/storage/sqlite"
)

func rows(n int) []domain.CustomerFactRow {
	out := make([]domain.CustomerFactRow, n)
	for i := range out {
		amt := decimal.New(int64(100+i), -2)
		out[i] = domain.CustomerFactRow{
			CustomerID:  fmt.Sprintf("C%d", i),
			FirstName:   "Ann",
			OrderDate:   time.Date(2023, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Product:     "Widget",
			Price:       amt,
			PaymentDate: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
			Amount:      amt,
			TotalAmount: amt,
		}
	}
	return out
}

var tags = domain.LoadTags{RunID: "run-1", SourceDigest: "feedface"}

func openSQLite(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:", Table: "customers_data", Columns: domain.FactColumns})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestLoad_SQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "etl.db")
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dbPath, Table: "customers_data", Columns: domain.FactColumns})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	l := &Loader{Repo: repo, Kind: "sqlite", Table: "customers_data", BatchSize: 4}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.EnsureTable(ctx); err != nil {
			t.Fatalf("EnsureTable #%d: %v", i+1, err)
		}
	}

	res, err := l.Load(ctx, rows(10), tags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 10 || res.Batches != 3 || res.Failed != 0 {
		t.Fatalf("result %+v, want inserted=10 batches=3", res)
	}
	if res.Latency.Count() != 3 {
		t.Fatalf("latency samples = %d", res.Latency.Count())
	}

	n, err := repo.(storage.DigestCounter).CountByDigest(ctx, DigestColumn, tags.SourceDigest)
	if err != nil || n != 10 {
		t.Fatalf("CountByDigest = %d, %v", n, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	got, err := db.QueryContext(ctx, `SELECT customer_id, order_date, amount FROM customers_data ORDER BY id`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer got.Close()
	want := rows(10)
	i := 0
	for ; got.Next(); i++ {
		var cid, orderDate, amount string
		if err := got.Scan(&cid, &orderDate, &amount); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if i >= len(want) {
			t.Fatalf("more rows than loaded")
		}
		w := want[i]
		if cid != w.CustomerID || orderDate != w.OrderDate.Format(time.RFC3339) || amount != w.Amount.StringFixed(2) {
			t.Errorf("row %d = %s %s %s, want %s %s %s", i, cid, orderDate, amount,
				w.CustomerID, w.OrderDate.Format(time.RFC3339), w.Amount.StringFixed(2))
		}
	}
	if err := got.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if i != len(want) {
		t.Fatalf("read back %d rows, want %d", i, len(want))
	}
}

func TestLoad_AppendsOnRepeat(t *testing.T) {
	t.Parallel()

	repo := openSQLite(t)
	l := &Loader{Repo: repo, Kind: "sqlite", Table: "customers_data"}
	ctx := context.Background()
	if err := l.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := l.Load(ctx, rows(3), tags); err != nil {
			t.Fatalf("Load #%d: %v", i+1, err)
		}
	}
	n, _ := repo.(storage.DigestCounter).CountByDigest(ctx, DigestColumn, tags.SourceDigest)
	if n != 6 {
		t.Fatalf("rows after two loads = %d, want 6 (plain append)", n)
	}
}

func TestLoad_SkipLoadedDigest(t *testing.T) {
	t.Parallel()

	repo := openSQLite(t)
	l := &Loader{Repo: repo, Kind: "sqlite", Table: "customers_data", SkipLoadedDigest: true}
	ctx := context.Background()
	if err := l.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if res, err := l.Load(ctx, rows(3), tags); err != nil || res.AlreadyLoaded {
		t.Fatalf("first load: %+v %v", res, err)
	}
	res, err := l.Load(ctx, rows(3), tags)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !res.AlreadyLoaded || res.Inserted != 0 {
		t.Fatalf("second load should be skipped: %+v", res)
	}

	other := tags
	other.SourceDigest = "0ther"
	if res, err := l.Load(ctx, rows(1), other); err != nil || res.Inserted != 1 {
		t.Fatalf("new digest should load: %+v %v", res, err)
	}
}

func TestLoad_Empty(t *testing.T) {
	t.Parallel()

	fr := &fakeRepo{}
	res, err := (&Loader{Repo: fr, Table: "t"}).Load(context.Background(), nil, tags)
	if err != nil || res.Inserted != 0 || fr.calls != 0 {
		t.Fatalf("empty load: %+v %v calls=%d", res, err, fr.calls)
	}
}

type fakeRepo struct {
	calls  int
	failAt int
	err    error
}

func (f *fakeRepo) CopyFrom(_ context.Context, _ []string, rows [][]any) (int64, error) {
	f.calls++
	if f.calls == f.failAt {
		return 0, f.err
	}
	return int64(len(rows)), nil
}
func (f *fakeRepo) Exec(context.Context, string) error { return f.err }
func (f *fakeRepo) Close()                             {}

func TestLoad_PartialFailureIsWriteError(t *testing.T) {
	t.Parallel()

	fr := &fakeRepo{failAt: 2, err: errors.New("constraint violated")}
	res, err := (&Loader{Repo: fr, Table: "t", BatchSize: 2}).Load(context.Background(), rows(5), tags)

	var we *etlerr.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("want *etlerr.WriteError, got %v", err)
	}
	if !errors.Is(err, etlerr.ErrWrite) || !errors.Is(err, fr.err) {
		t.Fatalf("error should match ErrWrite and the cause: %v", err)
	}
	if we.Committed != 2 || we.Failed != 3 {
		t.Fatalf("committed=%d failed=%d, want 2/3", we.Committed, we.Failed)
	}
	if res.Inserted != 2 || res.Failed != 3 {
		t.Fatalf("result %+v", res)
	}
}

func TestLoad_ConnectionErrorKept(t *testing.T) {
	t.Parallel()

	fr := &fakeRepo{failAt: 1, err: etlerr.Connection("postgres: copy", errors.New("reset"))}
	_, err := (&Loader{Repo: fr, Table: "t"}).Load(context.Background(), rows(2), tags)
	if !errors.Is(err, etlerr.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}
	var we *etlerr.WriteError
	if errors.As(err, &we) {
		t.Fatalf("connection loss should not be reported as a write error")
	}
}

func TestEnsureTable_Errors(t *testing.T) {
	t.Parallel()

	l := &Loader{Repo: &fakeRepo{}, Kind: "nope", Table: "t"}
	if err := l.EnsureTable(context.Background()); !errors.Is(err, etlerr.ErrWrite) {
		t.Fatalf("unknown kind: want ErrWrite, got %v", err)
	}

	l = &Loader{Repo: &fakeRepo{err: etlerr.Connection("sqlite: exec", errors.New("gone"))}, Kind: "sqlite", Table: "t"}
	if err := l.EnsureTable(context.Background()); !errors.Is(err, etlerr.ErrConnection) || errors.Is(err, etlerr.ErrWrite) {
		t.Fatalf("want ErrConnection only, got %v", err)
	}
}
