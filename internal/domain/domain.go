// Package domain defines the typed input records and the customer fact row
// produced by the pipeline.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Logical source names used as keys between the extract and transform stages.
const (
	SourceCustomers = "customers"
	SourceOrders    = "orders"
	SourcePayments  = "payments"
)

// SourceNames lists the logical sources in the order they are read.
var SourceNames = []string{SourceCustomers, SourceOrders, SourcePayments}

// Column sets each source header must declare. Extra columns are tolerated.
var (
	CustomerColumns = []string{"customer_id", "first_name", "last_name", "country", "gender", "date_of_birth", "email"}
	OrderColumns    = []string{"order_id", "customer_id", "order_date", "product", "price"}
	PaymentColumns  = []string{"payment_id", "order_id", "customer_id", "payment_date", "amount"}
)

// RequiredColumns returns the expected header columns for a logical source.
func RequiredColumns(source string) []string {
	switch source {
	case SourceCustomers:
		return CustomerColumns
	case SourceOrders:
		return OrderColumns
	case SourcePayments:
		return PaymentColumns
	}
	return nil
}

type CustomerRecord struct {
	CustomerID  string
	FirstName   string
	LastName    string
	Country     string
	Gender      string
	DateOfBirth time.Time
	Email       string
}

type OrderRecord struct {
	OrderID    string
	CustomerID string
	OrderDate  time.Time
	Product    string
	Price      decimal.Decimal
}

type PaymentRecord struct {
	PaymentID   string
	OrderID     string
	CustomerID  string
	PaymentDate time.Time
	Amount      decimal.Decimal
}

// Money columns are stored as NUMERIC(MoneyPrecision, MoneyScale).
const (
	MoneyPrecision = 12
	MoneyScale     = 2
)

// MoneyFits reports whether d is stored exactly in a money column.
func MoneyFits(d decimal.Decimal) bool {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return false
	}
	return d.Abs().LessThan(decimal.New(1, MoneyPrecision-MoneyScale))
}

// CustomerFactRow is one (customer, order, payment) match. It carries no
// order_id, payment_id, email or date_of_birth; those only drive the joins.
type CustomerFactRow struct {
	CustomerID  string
	FirstName   string
	LastName    string
	Country     string
	Gender      string
	OrderDate   time.Time
	Product     string
	Price       decimal.Decimal
	PaymentDate time.Time
	Amount      decimal.Decimal
	// TotalAmount is the row-level amount. No per-customer aggregation is applied.
	TotalAmount decimal.Decimal
}

// FactColumns is the destination column order for CustomerFactRow values,
// followed by the load tags. The surrogate id is generated by the store.
var FactColumns = []string{
	"customer_id", "first_name", "last_name", "country", "gender",
	"order_date", "product", "price", "payment_date", "amount", "total_amount",
	"run_id", "source_digest",
}

// LoadTags identify the run that appended a row.
type LoadTags struct {
	RunID        string
	SourceDigest string
}

// Values returns the row aligned with FactColumns.
func (r CustomerFactRow) Values(tags LoadTags) []any {
	return []any{
		r.CustomerID, r.FirstName, r.LastName, r.Country, r.Gender,
		r.OrderDate, r.Product, r.Price, r.PaymentDate, r.Amount, r.TotalAmount,
		tags.RunID, tags.SourceDigest,
	}
}
