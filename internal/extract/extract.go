// Package extract reads the named input sources into in-memory tables.
//
// Sources are read one after another in name order. Any source that cannot be
// opened aborts the extract with etlerr.ErrSourceUnavailable; a header that
// lacks an expected column aborts with etlerr.ErrMalformedRecord. Body rows
// that cannot be parsed are skipped and counted per source.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"customeretl/internal/datasource"
	"customeretl/internal/etlerr"
	csvparser "customeretl/internal/parser/csv"
	"customeretl/internal/records"
	"customeretl/internal/skiplog"
)

// SourceStats describes one extracted source.
type SourceStats struct {
	Location string
	Bytes    int64
	Rows     int
	Skipped  int
}

// Result is the output of Extract.
type Result struct {
	// Tables maps logical source name to its rows.
	Tables map[string]*records.Table
	// Digest is an xxh3 fingerprint of every source's raw bytes, taken in
	// name order. Identical inputs produce identical digests.
	Digest string
	Stats  map[string]SourceStats
}

// Skipped returns the number of malformed rows across all sources.
func (r *Result) Skipped() int {
	n := 0
	for _, s := range r.Stats {
		n += s.Skipped
	}
	return n
}

// Extractor reads a fixed set of named sources.
type Extractor struct {
	Sources map[string]datasource.Source
	Parser  csvparser.Options
	// Columns lists, per source name, the header columns that must be present.
	Columns map[string][]string
	// Skips, when set, receives every skipped row.
	Skips *skiplog.Log
}

// Extract reads every configured source.
func (e *Extractor) Extract(ctx context.Context) (*Result, error) {
	if len(e.Sources) == 0 {
		return nil, fmt.Errorf("extract: no sources configured")
	}

	names := make([]string, 0, len(e.Sources))
	for n := range e.Sources {
		names = append(names, n)
	}
	sort.Strings(names)

	res := &Result{
		Tables: make(map[string]*records.Table, len(names)),
		Stats:  make(map[string]SourceStats, len(names)),
	}
	h := xxh3.New()

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		tbl, st, err := e.extractOne(ctx, name, h)
		if err != nil {
			return nil, err
		}
		res.Tables[name] = tbl
		res.Stats[name] = st
		log.Printf("extract: source=%s location=%s rows=%d skipped=%d bytes=%d elapsed=%s",
			name, st.Location, st.Rows, st.Skipped, st.Bytes, time.Since(start).Truncate(time.Millisecond))
	}

	res.Digest = fmt.Sprintf("%016x", h.Sum64())
	return res, nil
}

func (e *Extractor) extractOne(ctx context.Context, name string, h *xxh3.Hasher) (*records.Table, SourceStats, error) {
	src := e.Sources[name]
	st := SourceStats{Location: src.Describe()}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, st, etlerr.SourceUnavailable(name, err)
	}
	defer rc.Close()

	_, _ = h.WriteString(name)
	_, _ = h.Write([]byte{0})
	cr := &countingReader{r: io.TeeReader(rc, h)}

	opt := e.Parser
	if e.Skips != nil {
		skips := e.Skips
		opt.OnSkip = func(line int, reason string, raw []string, err error) {
			skips.Add(name, line, reason, err.Error(), raw)
		}
	}

	tbl, ps, err := csvparser.NewParser(opt).Parse(name, cr)
	st.Bytes = cr.n
	if err != nil {
		if isReadFailure(err) {
			return nil, st, etlerr.SourceUnavailable(name, err)
		}
		return nil, st, fmt.Errorf("extract: %w", err)
	}
	st.Rows, st.Skipped = ps.Rows, ps.Skipped

	if missing := tbl.Missing(e.Columns[name]); len(missing) > 0 {
		return nil, st, fmt.Errorf("extract: %s: header missing columns [%s]: %w",
			name, strings.Join(missing, ", "), etlerr.ErrMalformedRecord)
	}
	return tbl, st, nil
}

// isReadFailure reports errors raised by the underlying reader rather than by
// CSV interpretation.
func isReadFailure(err error) bool {
	var rf *readError
	return errors.As(err, &rf)
}

// countingReader counts bytes and tags reader failures so they can be told
// apart from parse failures.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF {
		return n, &readError{err: err}
	}
	return n, err
}

type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }
