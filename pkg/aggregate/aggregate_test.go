package aggregate

import (
	"net/netip"
	"testing"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return p.Masked()
}

func TestAggregateMergesSiblings(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "192.0.2.0/25"),
		mustPrefix(t, "192.0.2.128/25"),
	}
	got := Aggregate(in)
	want := []netip.Prefix{mustPrefix(t, "192.0.2.0/24")}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAggregateNoSpuriousMerge(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "192.0.2.0/25"),
		mustPrefix(t, "192.0.3.128/25"),
	}
	got := Aggregate(in)
	if len(got) != 2 {
		t.Fatalf("expected no merge, got %v", got)
	}
}

func TestAggregateDeduplicates(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "10.0.0.0/24"),
		mustPrefix(t, "10.0.0.0/24"),
	}
	got := Aggregate(in)
	if len(got) != 1 {
		t.Fatalf("expected dedup to one prefix, got %v", got)
	}
}

func TestAggregateNoContainmentInOutput(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "10.0.0.0/8"),
		mustPrefix(t, "10.1.0.0/16"),
	}
	got := Aggregate(in)
	if len(got) != 1 || got[0].Bits() != 8 {
		t.Fatalf("expected the /8 to subsume the /16, got %v", got)
	}
}

func TestAggregateStableOrder(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "203.0.113.0/24"),
		mustPrefix(t, "192.0.2.0/24"),
	}
	got := Aggregate(in)
	if len(got) != 2 || got[0].String() != "192.0.2.0/24" {
		t.Fatalf("expected lexicographic order, got %v", got)
	}
}

func TestAggregateIPv6(t *testing.T) {
	in := []netip.Prefix{
		mustPrefix(t, "2001:db8::/33"),
		mustPrefix(t, "2001:db8:8000::/33"),
	}
	got := Aggregate(in)
	if len(got) != 1 || got[0].Bits() != 32 {
		t.Fatalf("expected merge into /32, got %v", got)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if got := Aggregate(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}
