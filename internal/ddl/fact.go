package ddl

import (
	"fmt"

	"customeretl/internal/domain"
)

// IDColumn is the store-generated surrogate key of the fact table.
const IDColumn = "id"

var factTypes = map[string]Type{
	"customer_id":   Text,
	"first_name":    Text,
	"last_name":     Text,
	"country":       Text,
	"gender":        Text,
	"order_date":    Timestamp,
	"product":       Text,
	"price":         Money,
	"payment_date":  Timestamp,
	"amount":        Money,
	"total_amount":  Money,
	"run_id":        Text,
	"source_digest": Text,
}

// Only descriptive columns may be NULL.
var factNullable = map[string]bool{
	"first_name": true,
	"last_name":  true,
	"country":    true,
	"gender":     true,
	"product":    true,
}

// FactTable returns the customer fact table definition for fqn with types
// resolved through d. The surrogate id comes first, followed by
// domain.FactColumns in order.
func FactTable(fqn string, d Dialect) (TableDef, error) {
	resolve := func(t Type, col string) (string, error) {
		s, ok := d[t]
		if !ok || s == "" {
			return "", fmt.Errorf("ddl: dialect has no type for column %s", col)
		}
		return s, nil
	}

	idType, err := resolve(Serial, IDColumn)
	if err != nil {
		return TableDef{}, err
	}
	td := TableDef{FQN: fqn, Columns: []ColumnDef{{Name: IDColumn, SQLType: idType, PrimaryKey: true}}}

	for _, col := range domain.FactColumns {
		lt, ok := factTypes[col]
		if !ok {
			return TableDef{}, fmt.Errorf("ddl: no logical type for fact column %s", col)
		}
		typ, err := resolve(lt, col)
		if err != nil {
			return TableDef{}, err
		}
		td.Columns = append(td.Columns, ColumnDef{Name: col, SQLType: typ, Nullable: factNullable[col]})
	}
	return td, nil
}
