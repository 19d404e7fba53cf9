// Package postgres implements storage.Repository on a pgx v5 pool. Batches are
// appended with COPY; each COPY is atomic.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"

	"customeretl/internal/ddl"
	"customeretl/internal/etlerr"
	"customeretl/internal/runlock"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN     string   // connection string for pgxpool
	Table   string   // target table, e.g. "public.customers_data"
	Columns []string // ordered columns for COPY
}

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository opens a pool, pings it and returns a Close function.
// Failures wrap etlerr.ErrConnection.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, etlerr.Connection("postgres: pgxpool", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, etlerr.Connection("postgres: ping", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

// CopyFrom appends rows with a single COPY.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	enc, err := encodeRows(rows)
	if err != nil {
		return 0, err
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(r.cfg.Table), columns, pgx.CopyFromRows(enc))
	if err != nil {
		return n, classify("copy", err)
	}
	return n, nil
}

// Exec implements storage.Repository.Exec.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return classify("exec", err)
	}
	return nil
}

// TryLock takes a session-level advisory lock keyed by the xxh3 hash of name.
// The lock lives on a connection held out of the pool until release.
func (r *Repository) TryLock(ctx context.Context, name string) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, etlerr.Connection("postgres: acquire", err)
	}
	key := lockKey(name)
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, classify("advisory lock", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: postgres advisory lock %q", runlock.ErrLocked, name)
	}
	return func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}, nil
}

// CountByDigest counts rows whose column equals digest.
func (r *Repository) CountByDigest(ctx context.Context, column, digest string) (int64, error) {
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = $1", ddl.QuoteFQN(r.cfg.Table, quoteIdent), quoteIdent(column))
	var n int64
	if err := r.pool.QueryRow(ctx, q, digest).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func lockKey(name string) int64 { return int64(xxh3.HashString(name)) }

// classify tags connection-level failures with etlerr.ErrConnection and
// surfaces server detail for rejected statements.
func classify(op string, err error) error {
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) || pgconn.SafeToRetry(err) {
		return etlerr.Connection("postgres: "+op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres: %s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// encodeRows converts values pgx cannot encode for the fact table types.
// Decimals become pgtype.Numeric; everything else passes through.
func encodeRows(rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		enc := make([]any, len(row))
		for j, v := range row {
			d, ok := v.(decimal.Decimal)
			if !ok {
				enc[j] = v
				continue
			}
			var n pgtype.Numeric
			if err := n.Scan(d.String()); err != nil {
				return nil, fmt.Errorf("postgres: encode numeric %s: %w", d, err)
			}
			enc[j] = n
		}
		out[i] = enc
	}
	return out, nil
}

// splitFQN converts "schema.table" into a pgx.Identifier.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
