// Package mysql implements storage.Repository for MySQL and MariaDB using
// go-sql-driver/mysql. Batches are appended with multi-row INSERT statements
// inside one transaction.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"customeretl/internal/ddl"
	"customeretl/internal/etlerr"
	"customeretl/internal/runlock"
	"customeretl/internal/storage"
)

// maxPlaceholders is the server limit on bind parameters per statement.
const maxPlaceholders = 65535

// Config holds MySQL repository configuration.
type Config struct {
	DSN     string // go-sql-driver DSN, e.g. "user:pass@tcp(host:3306)/db"
	Table   string
	Columns []string
}

// Repository is a MySQL-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository parses the DSN, forces parseTime and UTC, opens and pings.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, etlerr.Connection("mysql: ping", err)
	}
	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// CopyFrom inserts rows in one transaction, splitting them into as few
// multi-row INSERT statements as the placeholder limit allows.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin tx", err)
	}

	var inserted int64
	for _, chunk := range chunkRows(rows, maxPlaceholders/len(columns)) {
		q, args, err := buildInsert(r.cfg.Table, columns, chunk)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, classify("insert", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit", err)
	}
	return inserted, nil
}

// Exec implements storage.Repository.Exec.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
		return classify("exec", err)
	}
	return nil
}

// TryLock takes a named lock with GET_LOCK(name, 0) on a dedicated connection.
func (r *Repository) TryLock(ctx context.Context, name string) (func(), error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, etlerr.Connection("mysql: conn", err)
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, classify("get_lock", err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: mysql lock %q", runlock.ErrLocked, name)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", name)
		_ = conn.Close()
	}, nil
}

// CountByDigest counts rows whose column equals digest.
func (r *Repository) CountByDigest(ctx context.Context, column, digest string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", ddl.QuoteFQN(r.cfg.Table, quoteIdent), quoteIdent(column))
	var n int64
	if err := r.db.QueryRowContext(ctx, q, digest).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// buildInsert renders INSERT INTO t (cols) VALUES (?,..),(?,..) for rows.
func buildInsert(table string, columns []string, rows [][]any) (string, []any, error) {
	qcols := make([]string, len(columns))
	for i, c := range columns {
		qcols[i] = quoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", ddl.QuoteFQN(table, quoteIdent), strings.Join(qcols, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mysql: row %d has %d values for %d columns", i, len(row), len(columns))
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(tuple)
		for _, v := range row {
			if d, ok := v.(decimal.Decimal); ok {
				v = d.String()
			}
			args = append(args, v)
		}
	}
	return sb.String(), args, nil
}

func chunkRows(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = 1
	}
	var out [][][]any
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	return append(out, rows)
}

func classify(op string, err error) error {
	if storage.IsConnError(err) || errors.Is(err, mysql.ErrInvalidConn) {
		return etlerr.Connection("mysql: "+op, err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return fmt.Errorf("mysql: %s: error %d: %w", op, me.Number, err)
	}
	return fmt.Errorf("mysql: %s: %w", op, err)
}
