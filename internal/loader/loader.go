// Package loader appends customer fact rows to the destination table.
//
// Each batch is one backend transaction or COPY. Batches already committed
// stay committed when a later one fails, so a failed run can leave a partial
// load; Result and *etlerr.WriteError report how far it got.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/metrics"
	"customeretl/internal/storage"
)

// DefaultBatchSize is used when BatchSize is not positive.
const DefaultBatchSize = 500

// DigestColumn holds the input digest tag on every loaded row.
const DigestColumn = "source_digest"

// Result reports one Load call.
type Result struct {
	Inserted int64
	Batches  int64
	Failed   int64 // rows not committed after a failure
	// AlreadyLoaded is set when SkipLoadedDigest found rows with this digest
	// and nothing was written.
	AlreadyLoaded bool
	Latency       *metrics.Latency
}

// Loader writes to one table through a Repository.
type Loader struct {
	Repo      storage.Repository
	Kind      string // backend kind, selects the DDL dialect
	Table     string
	BatchSize int
	// SkipLoadedDigest skips the load when the table already holds rows
	// tagged with the same source digest. Backends that cannot count rows
	// ignore it.
	SkipLoadedDigest bool
	// Job labels metrics.
	Job string
}

// EnsureTable creates the destination table if it is missing. Calling it on
// an existing table is a no-op.
func (l *Loader) EnsureTable(ctx context.Context) error {
	if err := storage.EnsureTable(ctx, l.Kind, l.Repo, l.Table); err != nil {
		if errors.Is(err, etlerr.ErrConnection) {
			return fmt.Errorf("ensure table %s: %w", l.Table, err)
		}
		return fmt.Errorf("ensure table %s: %w: %w", l.Table, etlerr.ErrWrite, err)
	}
	return nil
}

// Load appends rows tagged with tags. An empty rows slice writes nothing and
// succeeds. A failing batch yields *etlerr.WriteError, unless the failure was
// a lost connection, which stays an etlerr.ErrConnection.
func (l *Loader) Load(ctx context.Context, rows []domain.CustomerFactRow, tags domain.LoadTags) (Result, error) {
	res := Result{Latency: metrics.NewLatency()}
	if len(rows) == 0 {
		log.Printf("loader: table=%s nothing to load", l.Table)
		return res, nil
	}

	if l.SkipLoadedDigest && tags.SourceDigest != "" {
		if dc, ok := l.Repo.(storage.DigestCounter); ok {
			n, err := dc.CountByDigest(ctx, DigestColumn, tags.SourceDigest)
			if err != nil {
				return res, fmt.Errorf("loader: check digest: %w", err)
			}
			if n > 0 {
				log.Printf("loader: table=%s digest=%s already loaded (%d rows), skipping", l.Table, tags.SourceDigest, n)
				res.AlreadyLoaded = true
				return res, nil
			}
		} else {
			log.Printf("loader: storage kind %s cannot count by digest; loading anyway", l.Kind)
		}
	}

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan []any, batchSize)
	go func() {
		defer close(in)
		for _, r := range rows {
			select {
			case in <- r.Values(tags):
			case <-ctx.Done():
				return
			}
		}
	}()

	observe := func(_ int, d time.Duration, err error) {
		if err == nil {
			res.Latency.Record(d)
			metrics.ObserveBatch(l.Job, d)
		}
	}
	st, err := storage.LoadBatches(ctx, domain.FactColumns, in, batchSize, l.Repo.CopyFrom, observe)
	res.Inserted, res.Batches = st.Inserted, st.Batches
	metrics.RecordBatches(l.Job, st.Batches)

	if err != nil {
		res.Failed = int64(len(rows)) - st.Inserted
		metrics.RecordRow(l.Job, "failed", res.Failed)
		if errors.Is(err, etlerr.ErrConnection) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("loader: %d rows committed before failure: %w", st.Inserted, err)
		}
		return res, &etlerr.WriteError{Committed: st.Inserted, Failed: res.Failed, Err: err}
	}
	log.Printf("loader: table=%s inserted=%d batches=%d latency[%s]", l.Table, st.Inserted, st.Batches, res.Latency)
	return res, nil
}
