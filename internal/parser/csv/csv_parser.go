// Package csv reads delimited text sources into records.Table values.
//
// The first row is the header. Rows whose width differs from the header, or
// that encoding/csv cannot parse, are skipped (soft-fail) and counted rather
// than aborting the read. Delimiter and character encoding are caller-supplied.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"customeretl/internal/etlerr"
	"customeretl/internal/records"
)

// Options configures the parser. The zero value reads comma-separated UTF-8.
type Options struct {
	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune

	// Encoding is an IANA character set name (e.g. "windows-1250",
	// "ISO-8859-2"). Empty or "utf-8" reads the bytes as UTF-8.
	Encoding string

	// TrimSpace trims leading/trailing spaces from each value.
	TrimSpace bool

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool

	// NormalizeHeaders lower-cases header names, replaces spaces with
	// underscores and applies Unicode NFC. When false, names are kept as
	// declared apart from surrounding whitespace and a leading BOM.
	NormalizeHeaders bool

	// HeaderMap renames source header names to canonical ones. Lookup uses
	// the trimmed source name before any normalisation.
	HeaderMap map[string]string

	// OnSkip, when set, is called for every skipped row.
	OnSkip func(line int, reason string, raw []string, err error)
}

// Stats summarises one read.
type Stats struct {
	Rows    int // rows kept
	Skipped int // rows dropped as malformed
}

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// logLimit caps per-row skip log lines for a single source.
const logLimit = 50

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs but not for concurrent use.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// Decoder returns a reader that decodes r from the configured encoding.
func Decoder(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q: unsupported", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// Parse reads the named table from r. It fails only when the input cannot be
// decoded or has no readable header; malformed body rows are skipped.
func (p *Parser) Parse(name string, r io.Reader) (*records.Table, Stats, error) {
	var st Stats

	dr, err := Decoder(r, p.opt.Encoding)
	if err != nil {
		return nil, st, err
	}

	cr := csv.NewReader(dr)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = p.opt.LazyQuotes
	cr.TrimLeadingSpace = p.opt.TrimSpace

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, st, fmt.Errorf("%s: empty input, no header row: %w", name, etlerr.ErrMalformedRecord)
		}
		return nil, st, fmt.Errorf("%s: read header: %w: %w", name, etlerr.ErrMalformedRecord, err)
	}
	tbl := records.NewTable(name, p.headers(header))
	width := len(tbl.Columns)

	skip := func(line int, reason string, raw []string, err error) {
		st.Skipped++
		if st.Skipped <= logLimit {
			log.Printf("csv: %s: skipping line %d: %s: %v", name, line, reason, err)
		} else if st.Skipped == logLimit+1 {
			log.Printf("csv: %s: further skipped lines are counted but not logged", name)
		}
		if p.opt.OnSkip != nil {
			p.opt.OnSkip(line, reason, raw, err)
		}
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				// An unterminated quote runs to the end of the input; the
				// rows it swallowed cannot be recovered or counted.
				if errors.Is(pe.Err, csv.ErrQuote) && pe.Line > pe.StartLine {
					return nil, st, fmt.Errorf("%s: unterminated quote from line %d: %w", name, pe.StartLine, etlerr.ErrMalformedRecord)
				}
				skip(pe.StartLine, "parse_error", row, err)
				continue
			}
			// Underlying reader failure: the rest of the input is unusable.
			return nil, st, fmt.Errorf("%s: read: %w", name, err)
		}
		line, _ := cr.FieldPos(0)

		if len(row) != width {
			skip(line, "field_count", row, fmt.Errorf("expected %d fields, got %d: %w", width, len(row), etlerr.ErrMalformedRecord))
			continue
		}

		vals := make([]string, width)
		for i, v := range row {
			if p.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			vals[i] = v
		}
		tbl.Append(line, vals)
		st.Rows++
	}

	return tbl, st, nil
}

// headers produces the column names for a raw header row.
func (p *Parser) headers(h []string) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimSpace(strings.TrimPrefix(c, utf8BOM))
		}
		if m, ok := p.opt.HeaderMap[c]; ok && m != "" {
			res[i] = m
			continue
		}
		if p.opt.NormalizeHeaders {
			c = norm.NFC.String(c)
			c = strings.ReplaceAll(strings.ToLower(c), " ", "_")
		}
		res[i] = c
	}
	return res
}
