// Package aggregate implements RFC 4632 prefix aggregation (§4.3): given a
// bag of prefixes from multiple sources, it reduces them to the minimal
// cover such that address coverage is unchanged and no prefix is a proper
// subset of another.
//
// This generalizes the teacher's pkg/iptoasn.Aggregator, which only ever
// collapsed IPv4 /uint32 ranges, to both address families using 256-bit
// arithmetic (github.com/holiman/uint256, the same dependency
// RRetina/netjugo reaches for to do IPv6 range math without overflow).
package aggregate

import (
	"net/netip"
	"sort"

	"github.com/holiman/uint256"

	"irrquery/pkg/ipnet"
)

// Aggregate collapses ps into the minimal set of non-overlapping,
// non-adjacent-mergeable CIDR blocks covering the same addresses. Output
// order is stable: lexicographic by canonical CIDR string.
func Aggregate(ps []netip.Prefix) []netip.Prefix {
	if len(ps) == 0 {
		return nil
	}

	var v4, v6 []netip.Prefix
	for _, p := range ps {
		p = p.Masked()
		if p.Addr().Is4() {
			v4 = append(v4, p)
		} else {
			v6 = append(v6, p)
		}
	}

	out := make([]netip.Prefix, 0, len(ps))
	out = append(out, aggregateFamily(v4, true)...)
	out = append(out, aggregateFamily(v6, false)...)

	sort.Slice(out, func(i, j int) bool {
		return ipnet.FormatCIDR(out[i]) < ipnet.FormatCIDR(out[j])
	})
	return out
}

type span struct {
	start, end *uint256.Int
}

// lte reports a <= b.
func lte(a, b *uint256.Int) bool {
	return a.Lt(b) || a.Eq(b)
}

func aggregateFamily(ps []netip.Prefix, is4 bool) []netip.Prefix {
	if len(ps) == 0 {
		return nil
	}

	spans := make([]span, 0, len(ps))
	for _, p := range ps {
		start, end := ipnet.Bounds(p)
		spans = append(spans, span{start: start, end: end})
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start.Lt(spans[j].start)
	})

	bits := 32
	if !is4 {
		bits = 128
	}

	var merged []span
	cur := spans[0]
	for _, next := range spans[1:] {
		// Overlapping or adjacent (next.start <= cur.end + 1) merges in.
		one := uint256.NewInt(1)
		curEndPlusOne := new(uint256.Int).Add(cur.end, one)
		if lte(next.start, curEndPlusOne) {
			if next.end.Gt(cur.end) {
				cur.end = next.end
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	merged = append(merged, cur)

	var result []netip.Prefix
	for _, m := range merged {
		result = append(result, splitToCIDRs(m.start, m.end, bits, is4)...)
	}
	return result
}

// splitToCIDRs converts an inclusive [start, end] range into the minimal
// ordered list of aligned CIDR blocks, following the teacher's
// rangeToCIDRList greedy algorithm: at each step, take the largest block
// aligned to start's trailing-zero count that still fits within end.
func splitToCIDRs(start, end *uint256.Int, addrBits int, is4 bool) []netip.Prefix {
	var result []netip.Prefix
	one := uint256.NewInt(1)

	for lte(start, end) {
		maxBlockBits := addrBits - trailingZeroBits(start, addrBits)

		prefixLen := addrBits
		for pl := maxBlockBits; pl <= addrBits; pl++ {
			hostBits := addrBits - pl
			blockSize := new(uint256.Int).Lsh(one, uint(hostBits))
			blockEnd := new(uint256.Int).Add(start, blockSize)
			blockEnd.Sub(blockEnd, one)
			if lte(blockEnd, end) {
				prefixLen = pl
				break
			}
		}

		prefix, _, err := ipnet.FromBounds(start, prefixLen, is4)
		if err == nil {
			result = append(result, prefix)
		}

		hostBits := addrBits - prefixLen
		blockSize := new(uint256.Int).Lsh(one, uint(hostBits))
		next := new(uint256.Int).Add(start, blockSize)
		if next.Lt(start) {
			break // wrapped around the address space
		}
		start = next
	}
	return result
}

// trailingZeroBits returns the number of trailing zero bits in v, capped
// at addrBits (a zero value is "aligned to anything"). Computed byte-wise
// over the big-endian 32-byte representation, the 128-bit analogue of the
// teacher's uint32 trailing-zero loop in iptoasn.Aggregator.rangeToCIDRList.
func trailingZeroBits(v *uint256.Int, addrBits int) int {
	if v.IsZero() {
		return addrBits
	}
	bytes := v.Bytes32()
	count := 0
	for i := len(bytes) - 1; i >= 0; i-- {
		b := bytes[i]
		if b == 0 {
			count += 8
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				return count
			}
			count++
		}
	}
	return count
}
