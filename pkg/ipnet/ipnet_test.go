package ipnet

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
	return p
}

func TestParseTolerantMasksHostBits(t *testing.T) {
	p, err := ParseTolerant("1.2.3.4/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.String(); got != "1.2.3.0/24" {
		t.Fatalf("got %s, want 1.2.3.0/24", got)
	}
}

func TestParseTolerantRejectsGarbage(t *testing.T) {
	if _, err := ParseTolerant("not-a-prefix"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestFormatCIDRRoundTrip(t *testing.T) {
	p := mustPrefix(t, "192.0.2.0/24")
	if got := FormatCIDR(p); got != "192.0.2.0/24" {
		t.Fatalf("got %s", got)
	}
	round, err := ParseTolerant(FormatCIDR(p))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round != p {
		t.Fatalf("round-trip mismatch: %v != %v", round, p)
	}
}

func TestBoundsIPv4(t *testing.T) {
	p := mustPrefix(t, "192.0.2.0/24")
	start, end := Bounds(p)
	if start.Uint64() != 0xC0000200 {
		t.Fatalf("unexpected start: %v", start)
	}
	if end.Uint64() != 0xC00002FF {
		t.Fatalf("unexpected end: %v", end)
	}
}

func TestBoundsSingleHost(t *testing.T) {
	p := mustPrefix(t, "192.0.2.5/32")
	start, end := Bounds(p)
	if start.Cmp(end) != 0 {
		t.Fatalf("expected start == end for a /32, got %v != %v", start, end)
	}
}

func TestFromBoundsReconstructsPrefix(t *testing.T) {
	p := mustPrefix(t, "192.0.2.0/24")
	start, _ := Bounds(p)
	got, bits, err := FromBounds(start, 24, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bits != 24 || got.Masked() != p {
		t.Fatalf("got %v/%d, want %v", got, bits, p)
	}
}

func TestContainsStrictSubset(t *testing.T) {
	outer := mustPrefix(t, "10.0.0.0/8")
	inner := mustPrefix(t, "10.1.0.0/16")
	if !Contains(outer, inner) {
		t.Fatal("expected outer to contain inner")
	}
	if Contains(inner, outer) {
		t.Fatal("did not expect inner to contain outer")
	}
}

func TestContainsEqualPrefixes(t *testing.T) {
	p := mustPrefix(t, "10.0.0.0/8")
	if !Contains(p, p) {
		t.Fatal("expected a prefix to contain itself")
	}
}

func TestContainsDifferentFamilies(t *testing.T) {
	v4 := mustPrefix(t, "10.0.0.0/8")
	v6 := mustPrefix(t, "2001:db8::/32")
	if Contains(v4, v6) || Contains(v6, v4) {
		t.Fatal("expected no containment across address families")
	}
}

func TestContainsDisjoint(t *testing.T) {
	a := mustPrefix(t, "10.0.0.0/24")
	b := mustPrefix(t, "10.0.1.0/24")
	if Contains(a, b) || Contains(b, a) {
		t.Fatal("expected disjoint prefixes to not contain each other")
	}
}

func TestNormalizeASN(t *testing.T) {
	if got := NormalizeASN(13335); got != "AS13335" {
		t.Fatalf("got %s, want AS13335", got)
	}
	if got := NormalizeASN(0); got != "AS0" {
		t.Fatalf("got %s, want AS0", got)
	}
}
