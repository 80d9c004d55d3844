package classify

import (
	"strings"
	"testing"

	"irrquery/pkg/model"
)

func TestClassifyASN(t *testing.T) {
	c := New()
	for _, raw := range []string{"AS13335", "as13335", "As13335", "A13335"} {
		res, err := c.Classify(raw)
		if err != nil {
			t.Fatalf("Classify(%q): unexpected error: %v", raw, err)
		}
		if res.Category != model.CategoryASN || res.Cleaned != "AS13335" {
			t.Fatalf("Classify(%q) = %+v, want ASN/AS13335", raw, res)
		}
	}
}

func TestClassifyASDashIsNotASN(t *testing.T) {
	c := New()
	res, err := c.Classify("AS-FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryASSet {
		t.Fatalf("expected AS-FOO to route to ASSET, got %+v", res)
	}
}

func TestClassifyPrefixCanonicalizes(t *testing.T) {
	c := New()
	res, err := c.Classify("1.1.1.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryPrefix || res.Cleaned != "1.1.1.0/24" {
		t.Fatalf("got %+v", res)
	}
}

func TestClassifyPrefixHostBitsMaskedToZero(t *testing.T) {
	c := New()
	res, err := c.Classify("1.1.1.5/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Cleaned != "1.1.1.0/24" {
		t.Fatalf("got %q, want masked form", res.Cleaned)
	}
}

func TestClassifyBareIPGetsHostMask(t *testing.T) {
	c := New()
	res, err := c.Classify("9.9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryPrefix || res.Cleaned != "9.9.9.9/32" {
		t.Fatalf("got %+v", res)
	}
}

func TestClassifyPrefixTooLargeRejected(t *testing.T) {
	c := New()
	_, err := c.Classify("10.0.0.0/4")
	if err == nil {
		t.Fatal("expected rejection for a prefix shorter than the v4 floor")
	}
	want := "Query too large: the minimum prefix length is 9."
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestClassifyPrefixAtFloorAccepted(t *testing.T) {
	c := New()
	res, err := c.Classify("10.0.0.0/9")
	if err != nil {
		t.Fatalf("expected the floor prefix length to be accepted: %v", err)
	}
	if res.Category != model.CategoryPrefix {
		t.Fatalf("got %+v", res)
	}
}

func TestClassifyIPv6FloorBoundary(t *testing.T) {
	c := New()
	if _, err := c.Classify("2001:db8::/28"); err == nil {
		t.Fatal("expected /28 to be rejected for the v6 floor of 29")
	}
	if _, err := c.Classify("2001:db8::/29"); err != nil {
		t.Fatalf("expected /29 to be accepted: %v", err)
	}
}

func TestClassifySetName(t *testing.T) {
	c := New()
	res, err := c.Classify("as-foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryASSet || res.Cleaned != "AS-FOO" {
		t.Fatalf("got %+v", res)
	}
}

func TestClassifyRouteSetPrefixed(t *testing.T) {
	c := New()
	res, err := c.Classify("rs-foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryRouteSet {
		t.Fatalf("got %+v, want ROUTESET", res)
	}
}

func TestClassifyRouteSetHierarchical(t *testing.T) {
	c := New()
	res, err := c.Classify("ripe:rs-foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Category != model.CategoryRouteSet {
		t.Fatalf("got %+v, want ROUTESET for a hierarchical rs- name", res)
	}
}

func TestClassifyInvalid(t *testing.T) {
	c := New()
	_, err := c.Classify("hello world")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Not a valid prefix, IP, ASN or AS-set.") {
		t.Fatalf("got %q", err.Error())
	}
}

func TestClassifyRejectsOverlongInput(t *testing.T) {
	c := New()
	c.MaxQueryLength = 10
	_, err := c.Classify(strings.Repeat("a", 11))
	if err == nil {
		t.Fatal("expected overlong input to be rejected")
	}
}

func TestClassifyIdempotentOnCleaned(t *testing.T) {
	c := New()
	for _, raw := range []string{"AS13335", "1.1.1.0/24", "as-foo", "rs-foo", "2001:db8::/32"} {
		first, err := c.Classify(raw)
		if err != nil {
			t.Fatalf("Classify(%q): %v", raw, err)
		}
		second, err := c.Classify(first.Cleaned)
		if err != nil {
			t.Fatalf("Classify(%q) (re-classify of cleaned form): %v", first.Cleaned, err)
		}
		if second.Cleaned != first.Cleaned || second.Category != first.Category {
			t.Fatalf("classify not idempotent: first=%+v second=%+v", first, second)
		}
	}
}
