package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func feed(n int) <-chan []any {
	in := make(chan []any, n)
	for i := 0; i < n; i++ {
		in <- []any{i, "x"}
	}
	close(in)
	return in
}

func TestLoadBatches_Basic(t *testing.T) {
	t.Parallel()

	var calls int32
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return int64(len(rows)), nil
	}
	var observed []int
	observe := func(rows int, _ time.Duration, _ error) { observed = append(observed, rows) }

	st, err := LoadBatches(context.Background(), []string{"c1", "c2"}, feed(7), 3, copyFn, observe)
	if err != nil {
		t.Fatalf("LoadBatches error: %v", err)
	}
	if st.Inserted != 7 || st.Batches != 3 || st.Failed != 0 {
		t.Fatalf("stats %+v, want inserted=7 batches=3", st)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("copyFn calls %d, want 3 (3+3+1)", got)
	}
	if len(observed) != 3 || observed[2] != 1 {
		t.Fatalf("observed %v", observed)
	}
}

func TestLoadBatches_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("copy failed")
	var batches int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		batches++
		if batches == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	}

	st, err := LoadBatches(context.Background(), []string{"c"}, feed(5), 2, copyFn, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	if st.Inserted != 2 || st.Batches != 1 || st.Failed != 2 {
		t.Fatalf("stats %+v, want inserted=2 batches=1 failed=2", st)
	}
	if batches != 2 {
		t.Fatalf("copyFn called %d times after failure, want 2", batches)
	}
}

func TestLoadBatches_BatchesAreIndependent(t *testing.T) {
	t.Parallel()

	var kept [][][]any
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		kept = append(kept, rows)
		return int64(len(rows)), nil
	}
	if _, err := LoadBatches(context.Background(), []string{"c"}, feed(4), 2, copyFn, nil); err != nil {
		t.Fatalf("LoadBatches: %v", err)
	}
	if kept[0][0][0] != 0 || kept[1][0][0] != 2 {
		t.Fatalf("batch contents overwritten: %v", kept)
	}
}

func TestLoadBatches_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []any)
	done := make(chan error, 1)
	go func() {
		_, err := LoadBatches(ctx, []string{"c"}, in, 10, func(context.Context, []string, [][]any) (int64, error) {
			return 0, nil
		}, nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("LoadBatches did not return after cancel")
	}
}

func TestLoadBatches_InvalidArgs(t *testing.T) {
	t.Parallel()

	if _, err := LoadBatches(context.Background(), nil, feed(0), 0, func(context.Context, []string, [][]any) (int64, error) { return 0, nil }, nil); err == nil {
		t.Fatalf("expected error for batchSize=0")
	}
	if _, err := LoadBatches(context.Background(), nil, feed(0), 1, nil, nil); err == nil {
		t.Fatalf("expected error for nil copyFn")
	}
}
