// Package sqlite implements storage.Repository on modernc.org/sqlite. SQLite
// has no bulk-load API; each batch is a prepared INSERT executed per row
// inside one transaction.
//
// SQLite has no DECIMAL or timestamp storage class, so money is stored as
// fixed two-place text and timestamps as RFC 3339 text in UTC. Both sort and
// compare correctly as text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"customeretl/internal/ddl"
	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/runlock"
)

// Config holds SQLite repository configuration.
type Config struct {
	// DSN is a file path or URI, e.g. "etl.db", "file:etl.db?_pragma=busy_timeout(5000)"
	// or ":memory:".
	DSN     string
	Table   string
	Columns []string
}

// Repository is a SQLite-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database and pings it. The pool is limited to one
// connection so an in-memory database is shared by every statement.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, etlerr.Connection("sqlite: open", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, etlerr.Connection("sqlite: ping", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// CopyFrom inserts rows in a single transaction and returns the number
// inserted. On error the transaction is rolled back and nothing is kept.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	qcols := make([]string, len(columns))
	for i, c := range columns {
		qcols[i] = quoteIdent(c)
	}
	stmtSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ddl.QuoteFQN(r.cfg.Table, quoteIdent),
		strings.Join(qcols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for i, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: CopyFrom: row %d length %d != columns length %d", i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, encodeRow(row)...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Exec executes a statement, typically DDL.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// CountByDigest counts rows whose column equals digest.
func (r *Repository) CountByDigest(ctx context.Context, column, digest string) (int64, error) {
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = ?", ddl.QuoteFQN(r.cfg.Table, quoteIdent), quoteIdent(column))
	var n int64
	if err := r.db.QueryRowContext(ctx, q, digest).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

var (
	guardsMu sync.Mutex
	guards   = map[string]*runlock.Guard{}
)

// TryLock locks "<database file>.lock" with flock. In-memory databases are
// private to the process, so they use an in-process guard per name instead.
func (r *Repository) TryLock(_ context.Context, name string) (func(), error) {
	if p := filePath(r.cfg.DSN); p != "" {
		return runlock.File(p + ".lock")
	}
	guardsMu.Lock()
	g, ok := guards[name]
	if !ok {
		g = runlock.NewGuard()
		guards[name] = g
	}
	guardsMu.Unlock()
	return g.TryAcquire()
}

// filePath returns the database file behind dsn, or "" for in-memory DSNs.
func filePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		if strings.Contains(p[i:], "mode=memory") {
			return ""
		}
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return p
}

// encodeRow renders decimals and times as text; see the package comment.
func encodeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case decimal.Decimal:
			out[i] = t.StringFixed(domain.MoneyScale)
		case time.Time:
			out[i] = t.UTC().Format(time.RFC3339)
		default:
			out[i] = v
		}
	}
	return out
}
