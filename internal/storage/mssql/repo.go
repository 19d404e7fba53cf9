// Package mssql implements storage.Repository for Microsoft SQL Server with
// the go-mssqldb bulk copy API. Each batch is one bulk copy inside one
// transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/shopspring/decimal"

	"customeretl/internal/ddl"
	"customeretl/internal/etlerr"
	"customeretl/internal/runlock"
	"customeretl/internal/storage"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN     string
	Table   string
	Columns []string
}

// Repository is an MSSQL-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, opens and pings the database.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, etlerr.Connection("mssql: open", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, etlerr.Connection("mssql: ping", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// CopyFrom bulk-copies rows into the configured table in one transaction.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin tx", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(r.cfg.Table, mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, classify("prepare bulk", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, encodeRow(rows[i])...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, classify(fmt.Sprintf("bulk row %d", i), err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, classify("bulk finalize", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit", err)
	}
	return n, nil
}

// Exec implements storage.Repository.Exec.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return classify("exec", err)
	}
	return nil
}

// TryLock takes a session-owned application lock with a zero timeout on a
// dedicated connection.
func (r *Repository) TryLock(ctx context.Context, name string) (func(), error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, etlerr.Connection("mssql: conn", err)
	}
	var rc int
	q := `DECLARE @r int;
EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = 0;
SELECT @r;`
	if err := conn.QueryRowContext(ctx, q, name).Scan(&rc); err != nil {
		_ = conn.Close()
		return nil, classify("applock", err)
	}
	// 0 granted, 1 granted after wait; negative values mean not granted.
	if rc < 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: mssql applock %q", runlock.ErrLocked, name)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'", name)
		_ = conn.Close()
	}, nil
}

// CountByDigest counts rows whose column equals digest.
func (r *Repository) CountByDigest(ctx context.Context, column, digest string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WHERE %s = @p1", ddl.QuoteFQN(r.cfg.Table, quoteIdent), quoteIdent(column))
	var n int64
	if err := r.db.QueryRowContext(ctx, q, digest).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func classify(op string, err error) error {
	if storage.IsConnError(err) {
		return etlerr.Connection("mssql: "+op, err)
	}
	return fmt.Errorf("mssql: %s: %w", op, err)
}

// encodeRow passes decimals to the bulk copy as strings, which it converts to
// the column's precision and scale.
func encodeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if d, ok := v.(decimal.Decimal); ok {
			out[i] = d.String()
			continue
		}
		out[i] = v
	}
	return out
}
