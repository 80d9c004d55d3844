package collector

import (
	"context"
	"net/netip"
	"testing"

	"irrquery/pkg/model"
	"irrquery/pkg/sources/rirstats"
)

type fakeAdapter struct {
	tag         model.DataSource
	byPrefix    map[netip.Prefix][]model.RouteInfo
	byASN       map[uint32][]model.RouteInfo
	prefixesErr error
	asnErr      error
	capped      bool
}

func (f *fakeAdapter) Tag() model.DataSource { return f.tag }

func (f *fakeAdapter) QueryPrefixesAny(_ context.Context, prefixes []netip.Prefix) ([]model.RouteInfo, bool, error) {
	if f.prefixesErr != nil {
		return nil, false, f.prefixesErr
	}
	var out []model.RouteInfo
	for _, p := range prefixes {
		out = append(out, f.byPrefix[p]...)
	}
	return out, f.capped, nil
}

func (f *fakeAdapter) QueryASN(_ context.Context, asn uint32) ([]model.RouteInfo, bool, error) {
	if f.asnErr != nil {
		return nil, false, f.asnErr
	}
	return f.byASN[asn], f.capped, nil
}

type fakeRIRStats struct {
	rows []rirstats.Delegation
}

func (f *fakeRIRStats) QueryPrefixesAny(_ context.Context, _ []netip.Prefix) ([]rirstats.Delegation, error) {
	return f.rows, nil
}

func p(t *testing.T, s string) netip.Prefix {
	t.Helper()
	pre, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return pre.Masked()
}

func asnPtr(n uint32) *uint32 { return &n }

func TestPrefixSummaryCollatesBGPAndIRR(t *testing.T) {
	prefix := p(t, "192.0.2.0/24")
	irr := &fakeAdapter{
		tag: model.SourceIRR,
		byPrefix: map[netip.Prefix][]model.RouteInfo{
			prefix: {
				{Source: model.SourceIRR, Prefix: prefix, ASN: asnPtr(65001), IRRSource: "RADB", RPSLPK: "192.0.2.0/24AS65001"},
				{Source: model.SourceIRR, Prefix: prefix, ASN: asnPtr(65000), IRRSource: "RPKI"},
			},
		},
	}
	bgp := &fakeAdapter{
		tag: model.SourceBGP,
		byPrefix: map[netip.Prefix][]model.RouteInfo{
			prefix: {{Source: model.SourceBGP, Prefix: prefix, ASN: asnPtr(65001)}},
		},
	}
	rir := &fakeRIRStats{rows: []rirstats.Delegation{
		{RIR: model.RIRARIN, Prefix: p(t, "192.0.2.0/23")},
	}}

	c := New(irr, bgp, rir, nil)
	summaries, _, err := c.PrefixSummary(context.Background(), prefix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if _, ok := s.BGPOrigins[65001]; !ok {
		t.Errorf("expected BGP origin 65001")
	}
	if len(s.RPKIRoutes) != 1 || s.RPKIRoutes[0].ASN != 65000 {
		t.Errorf("expected one RPKI route for AS65000, got %v", s.RPKIRoutes)
	}
	if len(s.IRRRoutes["RADB"]) != 1 {
		t.Errorf("expected one RADB route, got %v", s.IRRRoutes)
	}
	if s.RIR == nil || *s.RIR != model.RIRARIN {
		t.Errorf("expected ARIN, got %v", s.RIR)
	}
}

func TestPrefixSummaryBelowFloorReturnsEmpty(t *testing.T) {
	c := New(&fakeAdapter{}, &fakeAdapter{}, &fakeRIRStats{}, nil)
	tiny := p(t, "10.0.0.0/4")
	summaries, _, err := c.PrefixSummary(context.Background(), tiny)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaries != nil {
		t.Errorf("expected nil for below-floor prefix, got %v", summaries)
	}
}

func TestCollectForPrefixesFailsWholeRequestOnSourceError(t *testing.T) {
	irrFail := &fakeAdapter{prefixesErr: context.DeadlineExceeded}
	c := New(irrFail, &fakeAdapter{}, &fakeRIRStats{}, nil)
	_, _, err := c.PrefixSummary(context.Background(), p(t, "192.0.2.0/24"))
	if err == nil {
		t.Fatal("expected SourceUnavailableError")
	}
	var srcErr *model.SourceUnavailableError
	if !asSourceUnavailable(err, &srcErr) {
		t.Fatalf("expected *model.SourceUnavailableError, got %T: %v", err, err)
	}
	if srcErr.Source != model.SourceIRR {
		t.Errorf("expected IRR as failing source, got %v", srcErr.Source)
	}
}

func asSourceUnavailable(err error, target **model.SourceUnavailableError) bool {
	if e, ok := err.(*model.SourceUnavailableError); ok {
		*target = e
		return true
	}
	return false
}

func TestNIRPreferredOverLessSpecificRIR(t *testing.T) {
	prefix := p(t, "200.1.2.0/24")
	irr := &fakeAdapter{byPrefix: map[netip.Prefix][]model.RouteInfo{
		prefix: {{Prefix: prefix, ASN: asnPtr(1), IRRSource: "RADB"}},
	}}
	rirRows := []rirstats.Delegation{
		{RIR: model.RIRLACNIC, Prefix: p(t, "200.0.0.0/8")},
		{RIR: "NICBR", Prefix: p(t, "200.1.0.0/16")},
	}
	c := New(irr, &fakeAdapter{}, &fakeRIRStats{rows: rirRows}, nil)
	summaries, _, err := c.PrefixSummary(context.Background(), prefix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaries[0].RIR == nil || *summaries[0].RIR != "NICBR" {
		t.Errorf("expected NICBR to win over LACNIC, got %v", summaries[0].RIR)
	}
}

func TestASNSummaryPartitionsDirectOriginVsOverlaps(t *testing.T) {
	p1 := p(t, "198.51.100.0/24")
	p2 := p(t, "203.0.113.0/24")
	irr := &fakeAdapter{
		byASN: map[uint32][]model.RouteInfo{
			65001: {{Prefix: p1, ASN: asnPtr(65001), IRRSource: "RADB"}},
		},
		byPrefix: map[netip.Prefix][]model.RouteInfo{
			p1: {{Prefix: p1, ASN: asnPtr(65001), IRRSource: "RADB"}},
			p2: {{Prefix: p2, ASN: asnPtr(65002), IRRSource: "RADB"}},
		},
	}
	bgp := &fakeAdapter{
		byASN: map[uint32][]model.RouteInfo{},
		byPrefix: map[netip.Prefix][]model.RouteInfo{
			p2: {{Prefix: p2, ASN: asnPtr(65002)}},
		},
	}
	// AS65001 only reaches p1, so the aggregated re-fan-out asks for p1
	// alone; p2's records are never returned and overlaps stays empty.
	c := New(irr, bgp, &fakeRIRStats{}, nil)
	_ = p2
	result, _, err := c.ASNSummary(context.Background(), 65001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.DirectOrigin) != 1 || result.DirectOrigin[0].Prefix != p1 {
		t.Errorf("expected p1 in direct_origin, got %v", result.DirectOrigin)
	}
	if len(result.Overlaps) != 0 {
		t.Errorf("expected no overlaps, got %v", result.Overlaps)
	}
}

func TestPrefixSummaryReportsCapWarning(t *testing.T) {
	prefix := p(t, "192.0.2.0/24")
	bgp := &fakeAdapter{capped: true}

	c := New(&fakeAdapter{}, bgp, &fakeRIRStats{}, nil)
	_, warnings, err := c.PrefixSummary(context.Background(), prefix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	var capErr *model.SourceCapError
	if !errorsAsSourceCap(warnings[0], &capErr) {
		t.Fatalf("expected *model.SourceCapError, got %T: %v", warnings[0], warnings[0])
	}
	if capErr.Source != model.SourceBGP {
		t.Errorf("expected BGP as the capped source, got %v", capErr.Source)
	}
}

func errorsAsSourceCap(err error, target **model.SourceCapError) bool {
	if e, ok := err.(*model.SourceCapError); ok {
		*target = e
		return true
	}
	return false
}
