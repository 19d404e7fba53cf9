package transformer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/records"
	"customeretl/internal/skiplog"
)

func table(name string, cols []string, rows ...[]string) *records.Table {
	t := records.NewTable(name, cols)
	for i, r := range rows {
		t.Append(i+2, r)
	}
	return t
}

func tables(customers, orders, payments [][]string) map[string]*records.Table {
	return map[string]*records.Table{
		domain.SourceCustomers: table(domain.SourceCustomers, domain.CustomerColumns, customers...),
		domain.SourceOrders:    table(domain.SourceOrders, domain.OrderColumns, orders...),
		domain.SourcePayments:  table(domain.SourcePayments, domain.PaymentColumns, payments...),
	}
}

func TestTransform_SingleMatch(t *testing.T) {
	t.Parallel()

	in := tables(
		[][]string{{"C1", "Ann", "Lee", "KE", "F", "1990-01-01", "ann@example.com"}},
		[][]string{{"O1", "C1", "2023-01-01", "Widget", "9.99"}},
		[][]string{{"P1", "O1", "C1", "2023-01-02", "9.99"}},
	)
	out, err := (&Transformer{}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(out.Rows))
	}
	r := out.Rows[0]
	if r.CustomerID != "C1" || r.FirstName != "Ann" || r.Product != "Widget" {
		t.Fatalf("unexpected row %+v", r)
	}
	if !r.TotalAmount.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("total_amount = %s, want 9.99", r.TotalAmount)
	}
	if !r.OrderDate.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("order_date = %v", r.OrderDate)
	}
	if !r.PaymentDate.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("payment_date = %v", r.PaymentDate)
	}
}

func TestTransform_TotalEqualsAmount(t *testing.T) {
	t.Parallel()

	in := tables(
		[][]string{{"C1", "Ann", "Lee", "KE", "F", "", ""}},
		[][]string{{"O1", "C1", "2023-01-01", "Widget", "100.00"}},
		[][]string{
			{"P1", "O1", "C1", "2023-01-02", "40.00"},
			{"P2", "O1", "C1", "2023-01-03", "60.00"},
		},
	)
	out, err := (&Transformer{}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (one per payment)", len(out.Rows))
	}
	for _, r := range out.Rows {
		if !r.TotalAmount.Equal(r.Amount) {
			t.Fatalf("total %s != amount %s", r.TotalAmount, r.Amount)
		}
		if !r.Price.Equal(decimal.RequireFromString("100")) {
			t.Fatalf("price %s", r.Price)
		}
	}
	if out.Rows[0].Amount.String() != "40" || out.Rows[1].Amount.String() != "60" {
		t.Fatalf("payment order not preserved: %s, %s", out.Rows[0].Amount, out.Rows[1].Amount)
	}
}

func TestTransform_UnmatchedPaymentDropped(t *testing.T) {
	t.Parallel()

	in := tables(
		[][]string{{"C1", "Ann", "Lee", "KE", "F", "1990-01-01", "a@x"}},
		[][]string{{"O1", "C1", "2023-01-01", "Widget", "9.99"}},
		[][]string{
			{"P1", "O1", "C1", "2023-01-02", "9.99"},
			{"P2", "O9", "C1", "2023-01-02", "1.00"}, // unknown order
			{"P3", "O1", "C2", "2023-01-02", "1.00"}, // order belongs to C1
		},
	)
	out, err := (&Transformer{}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(out.Rows))
	}
	if out.Stats.PaymentsWithoutMatch != 2 {
		t.Fatalf("payments_without_match = %d, want 2", out.Stats.PaymentsWithoutMatch)
	}
	if out.Stats.Skipped != 0 {
		t.Fatalf("join drops are not skips, got skipped=%d", out.Stats.Skipped)
	}
}

func TestTransform_OrderWithoutCustomer(t *testing.T) {
	t.Parallel()

	in := tables(
		[][]string{{"C1", "Ann", "Lee", "KE", "F", "", ""}},
		[][]string{{"O1", "C7", "2023-01-01", "Widget", "9.99"}},
		[][]string{{"P1", "O1", "C7", "2023-01-02", "9.99"}},
	)
	out, err := (&Transformer{}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out.Rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(out.Rows))
	}
	if out.Stats.OrdersWithoutCustomer != 1 || out.Stats.PaymentsWithoutMatch != 1 {
		t.Fatalf("stats %+v", out.Stats)
	}
}

func TestTransform_MalformedDateSkipsOneRow(t *testing.T) {
	t.Parallel()

	skips, _ := skiplog.New("")
	in := tables(
		[][]string{
			{"C1", "Ann", "Lee", "KE", "F", "1990-01-01", "a@x"},
			{"C2", "Bob", "Ray", "RW", "M", "not-a-date", "b@x"},
		},
		[][]string{
			{"O1", "C1", "2023-01-01", "Widget", "9.99"},
			{"O2", "C2", "2023-01-01", "Gadget", "5.00"},
		},
		[][]string{
			{"P1", "O1", "C1", "2023-01-02", "9.99"},
			{"P2", "O2", "C2", "2023-01-02", "5.00"},
		},
	)
	out, err := (&Transformer{Skips: skips}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.Stats.Skipped != 1 || skips.Count(ReasonInvalidDate) != 1 {
		t.Fatalf("skipped=%d reasons=%v, want exactly one invalid_date", out.Stats.Skipped, skips.Reasons())
	}
	if len(out.Rows) != 1 || out.Rows[0].CustomerID != "C1" {
		t.Fatalf("rows %+v", out.Rows)
	}
}

func TestTransform_RowRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		order  []string
		reason string
	}{
		{"bad price", []string{"O1", "C1", "2023-01-01", "W", "nine"}, ReasonInvalidDecimal},
		{"price below a cent", []string{"O1", "C1", "2023-01-01", "W", "9.995"}, ReasonInvalidDecimal},
		{"price too large", []string{"O1", "C1", "2023-01-01", "W", "10000000000"}, ReasonInvalidDecimal},
		{"empty order date", []string{"O1", "C1", "", "W", "1.00"}, ReasonInvalidDate},
		{"unknown date layout", []string{"O1", "C1", "2023/13/45", "W", "1.00"}, ReasonInvalidDate},
		{"blank customer", []string{"O1", " ", "2023-01-01", "W", "1.00"}, ReasonMissingKey},
		{"blank order id", []string{"", "C1", "2023-01-01", "W", "1.00"}, ReasonMissingKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			skips, _ := skiplog.New("")
			in := tables(
				[][]string{{"C1", "Ann", "Lee", "KE", "F", "", ""}},
				[][]string{tc.order},
				nil,
			)
			out, err := (&Transformer{Skips: skips}).Transform(in)
			if err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if out.Stats.Orders != 0 || out.Stats.Skipped != 1 {
				t.Fatalf("stats %+v", out.Stats)
			}
			if skips.Count(tc.reason) != 1 {
				t.Fatalf("reasons %v, want %s", skips.Reasons(), tc.reason)
			}
		})
	}
}

func TestTransform_CardinalityAndOrder(t *testing.T) {
	t.Parallel()

	// C2 appears before C1 in the customer file; output follows that order.
	// Duplicate O1 rows for C1 multiply the matching payments.
	in := tables(
		[][]string{
			{"C2", "Bob", "Ray", "RW", "M", "", ""},
			{"C1", "Ann", "Lee", "KE", "F", "", ""},
		},
		[][]string{
			{"O1", "C1", "2023-01-01", "A", "1.00"},
			{"O1", "C1", "2023-01-01", "A-dup", "1.00"},
			{"O2", "C2", "2023-02-01", "B", "2.00"},
			{"O3", "C2", "2023-03-01", "C", "3.00"},
		},
		[][]string{
			{"P1", "O1", "C1", "2023-01-02", "1.00"},
			{"P2", "O3", "C2", "2023-03-02", "3.00"},
			{"P3", "O2", "C2", "2023-02-02", "2.00"},
			{"P4", "O3", "C2", "2023-03-03", "0.50"},
		},
	)
	out, err := (&Transformer{}).Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	// |C ⋈ O ⋈ P| computed by brute force.
	want := 0
	for _, o := range in[domain.SourceOrders].Rows {
		for _, p := range in[domain.SourcePayments].Rows {
			if o.Values[1] == p.Values[2] && o.Values[0] == p.Values[1] {
				want++
			}
		}
	}
	if len(out.Rows) != want {
		t.Fatalf("rows = %d, want %d", len(out.Rows), want)
	}

	var got []string
	for _, r := range out.Rows {
		got = append(got, r.CustomerID+"/"+r.Product+"/"+r.Amount.StringFixed(2))
	}
	exp := []string{"C2/B/2.00", "C2/C/3.00", "C2/C/0.50", "C1/A/1.00", "C1/A-dup/1.00"}
	if len(got) != len(exp) {
		t.Fatalf("got %v, want %v", got, exp)
	}
	for i := range exp {
		if got[i] != exp[i] {
			t.Fatalf("row %d = %s, want %s (all %v)", i, got[i], exp[i], got)
		}
	}
}

func TestTransform_MissingTable(t *testing.T) {
	t.Parallel()

	in := tables(nil, nil, nil)
	delete(in, domain.SourcePayments)
	_, err := (&Transformer{}).Transform(in)
	if !errors.Is(err, etlerr.ErrMalformedRecord) {
		t.Fatalf("want ErrMalformedRecord, got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2023-04-05", "04/05/2023", "05.04.2023", "2023-04-05T00:00:00Z", "2023-04-05 00:00:00"} {
		got, err := ParseDate(s, nil, nil)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseDate("yesterday", nil, nil); !errors.Is(err, etlerr.ErrInvalidDate) {
		t.Fatalf("want ErrInvalidDate, got %v", err)
	}
	loc := time.FixedZone("EAT", 3*3600)
	got, err := ParseDate("2023-04-05", []string{"2006-01-02"}, loc)
	if err != nil || got.Location() != loc {
		t.Fatalf("location not applied: %v %v", got, err)
	}
}
