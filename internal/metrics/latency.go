package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency tracks a distribution of durations between 1µs and 10 minutes with
// three significant digits. It is safe for concurrent use.
type Latency struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

// NewLatency returns an empty Latency.
func NewLatency() *Latency {
	return &Latency{h: hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)}
}

// Record adds one observation. Values outside the trackable range are
// clamped.
func (l *Latency) Record(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if hi := l.h.HighestTrackableValue(); us > hi {
		us = hi
	}
	_ = l.h.RecordValue(us)
}

// Count returns the number of observations.
func (l *Latency) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.TotalCount()
}

// Quantile returns the duration at q percent (0-100).
func (l *Latency) Quantile(q float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.h.ValueAtQuantile(q)) * time.Microsecond
}

// String renders "n=.. p50=.. p95=.. p99=.. max=..", or "n=0".
func (l *Latency) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.h.TotalCount()
	if n == 0 {
		return "n=0"
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return fmt.Sprintf("n=%d p50=%s p95=%s p99=%s max=%s",
		n, us(l.h.ValueAtQuantile(50)), us(l.h.ValueAtQuantile(95)),
		us(l.h.ValueAtQuantile(99)), us(l.h.Max()))
}
