// Package transformer turns the extracted customers, orders and payments
// tables into CustomerFactRow values.
//
// Each input row is parsed into a typed record first. A row with an
// unparseable date, money value or empty key is skipped and counted; the run
// continues. Records are then inner-joined:
//
//	customers ⋈ orders    on customer_id
//	          ⋈ payments  on (customer_id, order_id)
//
// Output follows customer file order, then order file order within a
// customer, then payment file order within an order. Duplicate keys multiply
// rows; nothing is deduplicated.
package transformer

import (
	"fmt"
	"log"
	"time"

	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/records"
	"customeretl/internal/skiplog"
)

// Stats summarises one Transform call.
type Stats struct {
	Customers int // typed customer records
	Orders    int // typed order records
	Payments  int // typed payment records
	Skipped   int // rows rejected while typing

	// Rows that parsed fine but found no join partner.
	OrdersWithoutCustomer int
	PaymentsWithoutMatch  int

	Output int
}

// Output is the result of a transform.
type Output struct {
	Rows  []domain.CustomerFactRow
	Stats Stats
}

// Transformer is safe to reuse; it holds configuration only.
type Transformer struct {
	// DateLayouts are Go time layouts tried in order. Empty means DefaultDateLayouts.
	DateLayouts []string
	// Location applies to dates without a zone. Nil means UTC.
	Location *time.Location
	// Skips, when set, receives every rejected row.
	Skips *skiplog.Log
}

// Transform types and joins the three source tables. It returns an error only
// when a required table is absent.
func (t *Transformer) Transform(tables map[string]*records.Table) (*Output, error) {
	for _, name := range domain.SourceNames {
		if tables[name] == nil {
			return nil, fmt.Errorf("transform: missing %s table: %w", name, etlerr.ErrMalformedRecord)
		}
	}

	out := &Output{}
	reject := func(re *etlerr.RowError, raw []string) {
		out.Stats.Skipped++
		if t.Skips != nil {
			t.Skips.Add(re.Source, re.Line, re.Reason, re.Err.Error(), raw)
		}
		if out.Stats.Skipped <= 50 {
			log.Printf("transform: skipping %v", re)
		}
	}

	customers := typeRows(t.parser(tables[domain.SourceCustomers]), tables[domain.SourceCustomers], (*rowParser).customer, reject)
	orders := typeRows(t.parser(tables[domain.SourceOrders]), tables[domain.SourceOrders], (*rowParser).order, reject)
	payments := typeRows(t.parser(tables[domain.SourcePayments]), tables[domain.SourcePayments], (*rowParser).payment, reject)
	out.Stats.Customers, out.Stats.Orders, out.Stats.Payments = len(customers), len(orders), len(payments)

	out.Rows = join(customers, orders, payments, &out.Stats)
	out.Stats.Output = len(out.Rows)

	log.Printf("transform: customers=%d orders=%d payments=%d skipped=%d orders_without_customer=%d payments_without_match=%d output=%d",
		out.Stats.Customers, out.Stats.Orders, out.Stats.Payments, out.Stats.Skipped,
		out.Stats.OrdersWithoutCustomer, out.Stats.PaymentsWithoutMatch, out.Stats.Output)
	return out, nil
}

func (t *Transformer) parser(tbl *records.Table) *rowParser {
	return &rowParser{source: tbl.Name, idx: tbl.Index(), layouts: t.DateLayouts, loc: t.Location}
}

func typeRows[T any](p *rowParser, tbl *records.Table, conv func(*rowParser, records.Row) (T, *etlerr.RowError), reject func(*etlerr.RowError, []string)) []T {
	res := make([]T, 0, tbl.Len())
	for _, r := range tbl.Rows {
		v, re := conv(p, r)
		if re != nil {
			reject(re, r.Values)
			continue
		}
		res = append(res, v)
	}
	return res
}

type orderKey struct{ customerID, orderID string }

func join(customers []domain.CustomerRecord, orders []domain.OrderRecord, payments []domain.PaymentRecord, st *Stats) []domain.CustomerFactRow {
	known := make(map[string]bool, len(customers))
	for _, c := range customers {
		known[c.CustomerID] = true
	}

	ordersByCustomer := make(map[string][]domain.OrderRecord)
	for _, o := range orders {
		if !known[o.CustomerID] {
			st.OrdersWithoutCustomer++
			continue
		}
		ordersByCustomer[o.CustomerID] = append(ordersByCustomer[o.CustomerID], o)
	}

	joinable := make(map[orderKey]bool, len(orders))
	for _, list := range ordersByCustomer {
		for _, o := range list {
			joinable[orderKey{o.CustomerID, o.OrderID}] = true
		}
	}
	paymentsByOrder := make(map[orderKey][]domain.PaymentRecord)
	for _, p := range payments {
		k := orderKey{p.CustomerID, p.OrderID}
		if !joinable[k] {
			st.PaymentsWithoutMatch++
			continue
		}
		paymentsByOrder[k] = append(paymentsByOrder[k], p)
	}

	var rows []domain.CustomerFactRow
	for _, c := range customers {
		for _, o := range ordersByCustomer[c.CustomerID] {
			for _, p := range paymentsByOrder[orderKey{c.CustomerID, o.OrderID}] {
				rows = append(rows, domain.CustomerFactRow{
					CustomerID:  c.CustomerID,
					FirstName:   c.FirstName,
					LastName:    c.LastName,
					Country:     c.Country,
					Gender:      c.Gender,
					OrderDate:   o.OrderDate,
					Product:     o.Product,
					Price:       o.Price,
					PaymentDate: p.PaymentDate,
					Amount:      p.Amount,
					TotalAmount: p.Amount,
				})
			}
		}
	}
	return rows
}
