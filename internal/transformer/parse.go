package transformer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/records"
)

// DefaultDateLayouts are tried in order when no layouts are configured.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02.01.2006",
}

// Skip reasons.
const (
	ReasonInvalidDate    = "invalid_date"
	ReasonInvalidDecimal = "invalid_decimal"
	ReasonMissingKey     = "missing_key"
)

// rowParser converts raw rows of one table into typed records.
type rowParser struct {
	source  string
	idx     map[string]int
	layouts []string
	loc     *time.Location
}

func (p *rowParser) rowErr(r records.Row, col, reason string, err error) *etlerr.RowError {
	return &etlerr.RowError{Source: p.source, Line: r.Line, Column: col, Reason: reason, Err: err}
}

func (p *rowParser) key(r records.Row, col string) (string, *etlerr.RowError) {
	v := strings.TrimSpace(r.Get(p.idx, col))
	if v == "" {
		return "", p.rowErr(r, col, ReasonMissingKey, fmt.Errorf("empty key: %w", etlerr.ErrMalformedRecord))
	}
	return v, nil
}

func (p *rowParser) date(r records.Row, col string, optional bool) (time.Time, *etlerr.RowError) {
	v := strings.TrimSpace(r.Get(p.idx, col))
	if v == "" && optional {
		return time.Time{}, nil
	}
	t, err := ParseDate(v, p.layouts, p.loc)
	if err != nil {
		return time.Time{}, p.rowErr(r, col, ReasonInvalidDate, err)
	}
	return t, nil
}

func (p *rowParser) money(r records.Row, col string) (decimal.Decimal, *etlerr.RowError) {
	v := strings.TrimSpace(r.Get(p.idx, col))
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, p.rowErr(r, col, ReasonInvalidDecimal, fmt.Errorf("%q: %w", v, etlerr.ErrMalformedRecord))
	}
	if !domain.MoneyFits(d) {
		return decimal.Decimal{}, p.rowErr(r, col, ReasonInvalidDecimal,
			fmt.Errorf("%q does not fit NUMERIC(%d,%d): %w", v, domain.MoneyPrecision, domain.MoneyScale, etlerr.ErrMalformedRecord))
	}
	return d, nil
}

// ParseDate parses s with the first matching layout, interpreting zone-less
// values in loc.
func ParseDate(s string, layouts []string, loc *time.Location) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q matches none of %d layouts: %w", s, len(layouts), etlerr.ErrInvalidDate)
}

func (p *rowParser) customer(r records.Row) (domain.CustomerRecord, *etlerr.RowError) {
	var c domain.CustomerRecord
	var e *etlerr.RowError
	if c.CustomerID, e = p.key(r, "customer_id"); e != nil {
		return c, e
	}
	// date_of_birth is dropped from the output, so a blank one is accepted.
	if c.DateOfBirth, e = p.date(r, "date_of_birth", true); e != nil {
		return c, e
	}
	c.FirstName = r.Get(p.idx, "first_name")
	c.LastName = r.Get(p.idx, "last_name")
	c.Country = r.Get(p.idx, "country")
	c.Gender = r.Get(p.idx, "gender")
	c.Email = r.Get(p.idx, "email")
	return c, nil
}

func (p *rowParser) order(r records.Row) (domain.OrderRecord, *etlerr.RowError) {
	var o domain.OrderRecord
	var e *etlerr.RowError
	if o.OrderID, e = p.key(r, "order_id"); e != nil {
		return o, e
	}
	if o.CustomerID, e = p.key(r, "customer_id"); e != nil {
		return o, e
	}
	if o.OrderDate, e = p.date(r, "order_date", false); e != nil {
		return o, e
	}
	if o.Price, e = p.money(r, "price"); e != nil {
		return o, e
	}
	o.Product = r.Get(p.idx, "product")
	return o, nil
}

func (p *rowParser) payment(r records.Row) (domain.PaymentRecord, *etlerr.RowError) {
	var pm domain.PaymentRecord
	var e *etlerr.RowError
	if pm.PaymentID, e = p.key(r, "payment_id"); e != nil {
		return pm, e
	}
	if pm.OrderID, e = p.key(r, "order_id"); e != nil {
		return pm, e
	}
	if pm.CustomerID, e = p.key(r, "customer_id"); e != nil {
		return pm, e
	}
	if pm.PaymentDate, e = p.date(r, "payment_date", false); e != nil {
		return pm, e
	}
	if pm.Amount, e = p.money(r, "amount"); e != nil {
		return pm, e
	}
	return pm, nil
}
