package extract

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"customeretl/internal/datasource"
	"customeretl/internal/datasource/file"
	"customeretl/internal/domain"
	"customeretl/internal/etlerr"
	"customeretl/internal/skiplog"
)

const (
	customersCSV = "customer_id,first_name,last_name,country,gender,date_of_birth,email\n" +
		"C1,Ann,Lee,KE,F,1990-01-01,ann@example.com\n" +
		"C2,Bob,Ray,RW,M,1985-05-05\n" // short row
	ordersCSV   = "order_id,customer_id,order_date,product,price\nO1,C1,2023-01-01,Widget,9.99\n"
	paymentsCSV = "payment_id,order_id,customer_id,payment_date,amount\nP1,O1,C1,2023-01-02,9.99\n"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func newExtractor(t *testing.T, customers, orders, payments string) *Extractor {
	t.Helper()
	dir := t.TempDir()
	return &Extractor{
		Sources: map[string]datasource.Source{
			domain.SourceCustomers: file.NewLocal(writeFile(t, dir, "customer_data.csv", customers)),
			domain.SourceOrders:    file.NewLocal(writeFile(t, dir, "order_data.csv", orders)),
			domain.SourcePayments:  file.NewLocal(writeFile(t, dir, "payment_data.csv", payments)),
		},
		Columns: map[string][]string{
			domain.SourceCustomers: domain.CustomerColumns,
			domain.SourceOrders:    domain.OrderColumns,
			domain.SourcePayments:  domain.PaymentColumns,
		},
	}
}

func TestExtract_ReadsAllSources(t *testing.T) {
	t.Parallel()

	ex := newExtractor(t, customersCSV, ordersCSV, paymentsCSV)
	skips, _ := skiplog.New("")
	ex.Skips = skips

	res, err := ex.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Tables) != 3 {
		t.Fatalf("tables = %d, want 3", len(res.Tables))
	}
	if got := res.Tables[domain.SourceCustomers].Len(); got != 1 {
		t.Fatalf("customers rows = %d, want 1", got)
	}
	if res.Stats[domain.SourceCustomers].Skipped != 1 || res.Skipped() != 1 {
		t.Fatalf("skipped stats %+v", res.Stats)
	}
	if skips.Count("field_count") != 1 {
		t.Fatalf("skiplog reasons %v", skips.Reasons())
	}
	if res.Stats[domain.SourceOrders].Bytes != int64(len(ordersCSV)) {
		t.Fatalf("bytes = %d, want %d", res.Stats[domain.SourceOrders].Bytes, len(ordersCSV))
	}
	if len(res.Digest) != 16 {
		t.Fatalf("digest %q should be 16 hex chars", res.Digest)
	}
}

func TestExtract_DigestTracksContent(t *testing.T) {
	t.Parallel()

	a, err := newExtractor(t, customersCSV, ordersCSV, paymentsCSV).Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract a: %v", err)
	}
	b, err := newExtractor(t, customersCSV, ordersCSV, paymentsCSV).Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract b: %v", err)
	}
	c, err := newExtractor(t, customersCSV, ordersCSV, strings.Replace(paymentsCSV, "9.99", "9.98", 1)).Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract c: %v", err)
	}
	if a.Digest != b.Digest {
		t.Fatalf("identical inputs gave different digests %s vs %s", a.Digest, b.Digest)
	}
	if a.Digest == c.Digest {
		t.Fatalf("changed input kept digest %s", a.Digest)
	}
}

func TestExtract_MissingFileIsSourceUnavailable(t *testing.T) {
	t.Parallel()

	ex := newExtractor(t, customersCSV, ordersCSV, paymentsCSV)
	ex.Sources[domain.SourceOrders] = file.NewLocal(filepath.Join(t.TempDir(), "nope.csv"))

	_, err := ex.Extract(context.Background())
	if !errors.Is(err, etlerr.ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause should be preserved: %v", err)
	}
}

func TestExtract_MissingHeaderColumnIsMalformed(t *testing.T) {
	t.Parallel()

	ex := newExtractor(t, customersCSV, "order_id,customer_id,product,price\nO1,C1,W,1\n", paymentsCSV)
	_, err := ex.Extract(context.Background())
	if !errors.Is(err, etlerr.ErrMalformedRecord) {
		t.Fatalf("want ErrMalformedRecord, got %v", err)
	}
	if !strings.Contains(err.Error(), "order_date") {
		t.Fatalf("error should name the missing column: %v", err)
	}
}

func TestExtract_UnterminatedQuoteFailsRun(t *testing.T) {
	t.Parallel()

	customers := "customer_id,first_name,last_name,country,gender,date_of_birth,email\n" +
		"C1,\"Ann,Lee,KE,F,1990-01-01,ann@example.com\n" +
		"C2,Bob,Ray,RW,M,1985-05-05,bob@example.com\n" +
		"C3,Cy,Dee,UG,M,1979-01-30,cy@example.com\n"
	ex := newExtractor(t, customers, ordersCSV, paymentsCSV)
	ex.Skips, _ = skiplog.New("")

	_, err := ex.Extract(context.Background())
	if !errors.Is(err, etlerr.ErrMalformedRecord) {
		t.Fatalf("want ErrMalformedRecord, got %v", err)
	}
	if errors.Is(err, etlerr.ErrSourceUnavailable) {
		t.Fatalf("quote error must not look like an unreadable source: %v", err)
	}
	if n := ex.Skips.Total(); n != 0 {
		t.Fatalf("skipped = %d, want 0", n)
	}
}

type brokenSource struct{}

func (brokenSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader("payment_id,order_id\n"), errReader{})), nil
}
func (brokenSource) Describe() string { return "broken://" }

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestExtract_ReadFailureIsSourceUnavailable(t *testing.T) {
	t.Parallel()

	ex := newExtractor(t, customersCSV, ordersCSV, paymentsCSV)
	ex.Sources[domain.SourcePayments] = brokenSource{}

	_, err := ex.Extract(context.Background())
	if !errors.Is(err, etlerr.ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
}

func TestExtract_NoSources(t *testing.T) {
	t.Parallel()

	if _, err := (&Extractor{}).Extract(context.Background()); err == nil {
		t.Fatalf("expected error with no sources")
	}
}
