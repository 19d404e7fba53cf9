package records

import (
	"reflect"
	"testing"
)

func TestTable_IndexAndGet(t *testing.T) {
	t.Parallel()

	tb := NewTable("orders", []string{"order_id", "customer_id", "order_id"})
	tb.Append(2, []string{"O1", "C1", "dup"})
	tb.Append(3, []string{"O2"})

	idx := tb.Index()
	if idx["order_id"] != 0 {
		t.Fatalf("first occurrence should win, got %d", idx["order_id"])
	}
	if got := tb.Rows[0].Get(idx, "customer_id"); got != "C1" {
		t.Fatalf("Get customer_id = %q, want C1", got)
	}
	if got := tb.Rows[1].Get(idx, "customer_id"); got != "" {
		t.Fatalf("short row should yield empty string, got %q", got)
	}
	if got := tb.Rows[0].Get(idx, "nope"); got != "" {
		t.Fatalf("unknown column should yield empty string, got %q", got)
	}
	if tb.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tb.Len())
	}
	if tb.Rows[1].Line != 3 {
		t.Fatalf("line = %d, want 3", tb.Rows[1].Line)
	}
}

func TestTable_Missing(t *testing.T) {
	t.Parallel()

	tb := NewTable("customers", []string{"customer_id", "email"})
	got := tb.Missing([]string{"customer_id", "first_name", "email", "country"})
	want := []string{"first_name", "country"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Missing = %#v, want %#v", got, want)
	}

	var nilTable *Table
	if nilTable.Len() != 0 {
		t.Fatalf("nil table Len should be 0")
	}
}
