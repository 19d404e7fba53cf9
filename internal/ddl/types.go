// Package ddl holds a small backend-agnostic model of a table definition and
// the fixed definition of the customer fact table.
//
// Backends render TableDef with their own quoting and their own
// "create if missing" guard; see the create.go file in each backend package.
package ddl

// ColumnDef describes one column.
//
// SQLType is emitted verbatim. Default is a raw SQL expression; callers are
// responsible for its dialect correctness.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name (optionally "schema.table") and its columns
// in order.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Type is a logical column type resolved to SQL by a Dialect.
type Type int

const (
	Serial Type = iota
	Text
	Timestamp
	Money
)

// Dialect maps logical types to a backend's SQL types.
type Dialect map[Type]string
