package rirstats

import (
	"testing"

	"go.uber.org/zap"
)

type fakeRows struct {
	rows []fakeRow
	pos  int
}

type fakeRow struct {
	rir    string
	prefix string
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
	*dest[0].(*string) = row.rir
	*dest[1].(*string) = row.prefix
	return nil
}

func (f *fakeRows) Err() error { return nil }
func (f *fakeRows) Close()     {}

func TestScanDelegationsParsesRows(t *testing.T) {
	s := &Store{logger: zap.NewNop()}
	rows := &fakeRows{rows: []fakeRow{
		{rir: "APNIC", prefix: "1.1.1.0/24"},
		{rir: "NICBR", prefix: "200.160.0.0/20"},
	}}

	got, err := s.scanDelegations(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 delegations, got %d", len(got))
	}
	if got[0].RIR != "APNIC" || got[1].RIR != "NICBR" {
		t.Errorf("unexpected RIR values: %+v", got)
	}
}

func TestScanDelegationsSkipsUnparsablePrefix(t *testing.T) {
	s := &Store{logger: zap.NewNop()}
	rows := &fakeRows{rows: []fakeRow{
		{rir: "ARIN", prefix: "garbage"},
		{rir: "ARIN", prefix: "10.0.0.0/8"},
	}}

	got, err := s.scanDelegations(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 delegation after skipping bad row, got %d", len(got))
	}
}
