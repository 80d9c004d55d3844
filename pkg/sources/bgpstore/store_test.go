package bgpstore

import (
	"testing"

	"go.uber.org/zap"
)

// fakeRows implements scannableRows over an in-memory table of
// (asn, prefix, rpki_status) rows, so scanRoutes can be exercised without a
// live Postgres connection.
type fakeRows struct {
	rows []fakeRow
	pos  int
}

type fakeRow struct {
	asn        int64
	prefix     string
	rpkiStatus *string
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos-1]
	*dest[0].(*int64) = row.asn
	*dest[1].(*string) = row.prefix
	*dest[2].(**string) = row.rpkiStatus
	return nil
}

func (f *fakeRows) Err() error { return nil }
func (f *fakeRows) Close()     {}

func strPtr(s string) *string { return &s }

func TestScanRoutesParsesRows(t *testing.T) {
	s := &Store{resultCap: DefaultResultCap, logger: zap.NewNop()}
	rows := &fakeRows{rows: []fakeRow{
		{asn: 13335, prefix: "1.1.1.0/24", rpkiStatus: strPtr("valid")},
		{asn: 64500, prefix: "192.0.2.0/25"},
	}}

	got, capped, err := s.scanRoutes(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capped {
		t.Error("expected capped=false")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(got))
	}
	if *got[0].ASN != 13335 || got[0].RPKIStatus != "valid" {
		t.Errorf("unexpected first row: %+v", got[0])
	}
	if *got[1].ASN != 64500 || got[1].RPKIStatus != "" {
		t.Errorf("unexpected second row: %+v", got[1])
	}
}

func TestScanRoutesSkipsUnparsablePrefix(t *testing.T) {
	s := &Store{resultCap: DefaultResultCap, logger: zap.NewNop()}
	rows := &fakeRows{rows: []fakeRow{
		{asn: 1, prefix: "not-a-prefix"},
		{asn: 2, prefix: "10.0.0.0/8"},
	}}

	got, _, err := s.scanRoutes(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 route after skipping bad row, got %d", len(got))
	}
	if *got[0].ASN != 2 {
		t.Errorf("expected surviving row to be asn 2, got %d", *got[0].ASN)
	}
}

func TestScanRoutesEnforcesResultCap(t *testing.T) {
	s := &Store{resultCap: 1, logger: zap.NewNop()}
	rows := &fakeRows{rows: []fakeRow{
		{asn: 1, prefix: "10.0.0.0/8"},
		{asn: 2, prefix: "10.1.0.0/16"},
		{asn: 3, prefix: "10.2.0.0/16"},
	}}

	got, capped, err := s.scanRoutes(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected result cap of 1 to be enforced, got %d rows", len(got))
	}
	if !capped {
		t.Error("expected capped=true when the result cap is hit")
	}
}
