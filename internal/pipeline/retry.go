package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"customeretl/internal/etlerr"
)

// RetryPolicy bounds whole-run retries.
type RetryPolicy struct {
	// Attempts is the total number of tries. Values below 1 mean one try.
	Attempts int
	// Delay is the wait between tries.
	Delay time.Duration
}

// RetryFromRetries builds a policy from a retry count in the scheduler sense:
// retries=1 means one extra try after the first failure.
func RetryFromRetries(retries int, delay time.Duration) RetryPolicy {
	if retries < 0 {
		retries = 0
	}
	return RetryPolicy{Attempts: retries + 1, Delay: delay}
}

// RunWithRetry calls run until it succeeds, returns an error that
// etlerr.Retryable rejects, or the policy is exhausted. Waiting between tries
// stops early when ctx is done. The last Summary and error are returned.
func RunWithRetry(ctx context.Context, policy RetryPolicy, run func(context.Context) (Summary, error)) (Summary, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		sum Summary
		err error
	)
	for attempt := 1; ; attempt++ {
		sum, err = run(ctx)
		if err == nil {
			return sum, nil
		}
		if !etlerr.Retryable(err) {
			return sum, err
		}
		if attempt >= attempts {
			return sum, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		log.Printf("pipeline: attempt %d/%d failed: %v; retrying in %s", attempt, attempts, err, policy.Delay)
		t := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return sum, fmt.Errorf("retry aborted: %w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
}
