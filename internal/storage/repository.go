// Package storage holds the backend-agnostic load contract: the Repository
// interface, the backend and DDL registries, and the batched loader.
//
// Backends register themselves from init() (see storage/all), so callers pick
// one by kind without importing it.
package storage

import "context"

// Repository appends rows to one destination table.
type Repository interface {
	// CopyFrom inserts rows aligned with columns as a single unit (one COPY,
	// bulk copy or transaction) and returns how many rows it inserted.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	// Exec runs a statement with no result rows, typically DDL.
	Exec(ctx context.Context, sql string) error
	Close()
}

// Locker is implemented by backends that can hold a named, session-scoped
// lock for the duration of a run. TryLock returns runlock.ErrLocked when
// another session holds it.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), err error)
}

// DigestCounter is implemented by backends that can count rows carrying a
// given value in a text column.
type DigestCounter interface {
	CountByDigest(ctx context.Context, column, digest string) (int64, error)
}

// Config selects and configures a backend.
type Config struct {
	Kind    string   // "postgres", "mssql", "mysql" or "sqlite"
	DSN     string   // driver connection string
	Table   string   // destination table, optionally schema-qualified
	Columns []string // ordered destination columns
}
