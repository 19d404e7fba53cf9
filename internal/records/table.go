// Package records holds the in-memory tabular representation produced by the
// extract stage. A Table keeps the column names exactly as declared by the
// source header and the rows in source order, each tagged with the line number
// it was read from so later stages can report skipped rows precisely.
package records

// Row is one data row of a Table. Values are aligned with Table.Columns.
type Row struct {
	// Line is the 1-based physical line of the row in the source (header is line 1).
	Line   int
	Values []string
}

// Table is a named, ordered collection of rows sharing one column set.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// NewTable returns an empty table with the given name and columns.
func NewTable(name string, columns []string) *Table {
	return &Table{Name: name, Columns: columns}
}

// Append adds a row read from the given source line.
func (t *Table) Append(line int, values []string) {
	t.Rows = append(t.Rows, Row{Line: line, Values: values})
}

// Len reports the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index maps each column name to its position. When a header repeats a name
// the first occurrence wins.
func (t *Table) Index() map[string]int {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, seen := idx[c]; !seen {
			idx[c] = i
		}
	}
	return idx
}

// Missing returns the names from want that are not columns of t, in the order
// they appear in want.
func (t *Table) Missing(want []string) []string {
	idx := t.Index()
	var out []string
	for _, w := range want {
		if _, ok := idx[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}

// Get returns the value of column col in row r, or "" when the column is
// unknown or the row is short.
func (r Row) Get(idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}
