package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CopyFn abstracts a backend's bulk insert. It inserts rows aligned with
// columns and returns how many were inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// BatchObserver is told about every flushed batch, successful or not.
type BatchObserver func(rows int, elapsed time.Duration, err error)

// LoadStats reports what LoadBatches did.
type LoadStats struct {
	Inserted int64 // rows reported by successful batches
	Batches  int64 // successful batches
	Failed   int64 // rows in the batch that failed, if any
}

// LoadBatches drains rows from in, groups them into batches of batchSize and
// calls copyFn once per non-empty batch. It stops at the first failing batch;
// rows of earlier batches stay inserted. observe may be nil.
//
// On cancellation it returns the stats so far and ctx.Err().
func LoadBatches(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
	observe BatchObserver,
) (LoadStats, error) {
	var st LoadStats
	if batchSize <= 0 {
		return st, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return st, fmt.Errorf("copyFn must not be nil")
	}

	var (
		batch       = make([][]any, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		size := len(batch)
		t0 := time.Now()
		n, err := copyFn(ctx, columns, batch)
		if observe != nil {
			observe(size, time.Since(t0), err)
		}
		batch = make([][]any, 0, batchSize)

		if err != nil {
			st.Failed = int64(size)
			log.Printf("loader: batch #%d failed rows=%d total_inserted=%d err=%v", st.Batches+1, size, st.Inserted, err)
			return err
		}
		st.Inserted += n
		st.Batches++

		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(n) / sinceLast.Seconds()
		}
		log.Printf(
			"batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
			st.Batches, rps, n, st.Inserted,
			now.Sub(start).Truncate(time.Millisecond),
			sinceLast.Truncate(time.Millisecond),
		)
		lastFlushTS = now
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return st, ctx.Err()

		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return st, err
				}
				log.Printf("loader: input closed, batches=%d total_inserted=%d", st.Batches, st.Inserted)
				return st, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return st, err
				}
			}
		}
	}
}
