// Package skiplog records rows rejected during a run. Every rejection is
// counted per reason; when a path is configured the row is also appended to a
// CSV file so operators can inspect and replay what was dropped.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Header is the first row of every skipped-rows file.
var Header = []string{"source", "line_number", "reason", "detail", "raw_line"}

// Log accumulates skipped-row counts and optionally mirrors them to a file.
// It is not safe for concurrent use.
type Log struct {
	reasons map[string]int
	total   int
	f       *os.File
	w       *csv.Writer
}

// New returns a Log. With an empty path only counters are kept.
func New(path string) (*Log, error) {
	l := &Log{reasons: make(map[string]int)}
	if path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("skiplog: write header: %w", err)
	}
	l.f, l.w = f, w
	return l, nil
}

// Add counts one skipped row. Write failures to the mirror file are ignored;
// the counters stay authoritative.
func (l *Log) Add(source string, line int, reason string, detail string, raw []string) {
	l.reasons[reason]++
	l.total++
	if l.w != nil {
		_ = l.w.Write([]string{source, strconv.Itoa(line), reason, detail, strings.Join(raw, ",")})
	}
}

// Total returns the number of rows skipped so far.
func (l *Log) Total() int { return l.total }

// Count returns the number of rows skipped for reason.
func (l *Log) Count(reason string) int { return l.reasons[reason] }

// Reasons returns a copy of the per-reason counters.
func (l *Log) Reasons() map[string]int {
	out := make(map[string]int, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// String renders counters as "reason=n" pairs sorted by reason.
func (l *Log) String() string {
	keys := make([]string, 0, len(l.reasons))
	for k := range l.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, l.reasons[k])
	}
	return strings.Join(parts, " ")
}

// Close flushes and closes the mirror file, if any.
func (l *Log) Close() error {
	if l.w == nil {
		return nil
	}
	l.w.Flush()
	werr := l.w.Error()
	cerr := l.f.Close()
	l.w, l.f = nil, nil
	if werr != nil {
		return fmt.Errorf("skiplog: flush: %w", werr)
	}
	return cerr
}
