package ddl

import (
	"fmt"
	"sort"
	"strings"
)

// Quoter quotes a single identifier segment.
type Quoter func(string) string

// QuoteFQN quotes each dot-separated segment of name with q. Empty segments
// are dropped.
func QuoteFQN(name string, q Quoter) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, q(p))
	}
	return strings.Join(out, ".")
}

// ColumnClauses validates t and renders its column list, with a trailing
// PRIMARY KEY clause when any column is part of the key:
//
//	<q(name)> <SQLType> [NOT NULL] [DEFAULT <expr>]
//
// Primary key columns are always NOT NULL and are listed in sorted order.
func ColumnClauses(t TableDef, q Quoter) ([]string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return nil, fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	seen := make(map[string]bool, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		if seen[name] {
			return nil, fmt.Errorf("ddl: duplicate column %s in table %s", name, fqn)
		}
		seen[name] = true
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return nil, fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(q(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, q(name))
		}
	}

	if len(pks) > 0 {
		sort.Strings(pks)
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return cols, nil
}
