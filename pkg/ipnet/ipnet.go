// Package ipnet provides the IP prefix parsing, canonicalization and range
// arithmetic shared by the classifier, aggregator and collector. It
// generalizes the teacher's pkg/util/ipcodec (which only ever serialized
// IPv4/IPv6 range boundaries for a LevelDB key) to the wider set of
// containment/overlap/range operations this engine needs.
package ipnet

import (
	"fmt"
	"net/netip"

	"github.com/holiman/uint256"
)

// ParseTolerant parses s as a CIDR network, tolerating host bits being set
// (the parser masks them to zero), the way a user pasting "1.2.3.4/24"
// instead of "1.2.3.0/24" expects to work (§4.1).
func ParseTolerant(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return p.Masked(), nil
}

// FormatCIDR returns the canonical (masked) CIDR form of p.
func FormatCIDR(p netip.Prefix) string {
	return p.Masked().String()
}

// Bounds returns the inclusive first and last address of p, as 256-bit
// integers so IPv4 and IPv6 share one code path (the teacher's byte-mask
// loop in ipcodec.CIDRToRange is IPv4/IPv6-agnostic but awkward for the
// arithmetic the aggregator needs — adjacency and "+1" tests).
func Bounds(p netip.Prefix) (start, end *uint256.Int) {
	p = p.Masked()
	start = addrToInt(p.Addr())
	hostBits := p.Addr().BitLen() - p.Bits()
	span := new(uint256.Int).Lsh(uint256.NewInt(1), uint(hostBits))
	span.Sub(span, uint256.NewInt(1))
	end = new(uint256.Int).Add(start, span)
	return start, end
}

func addrToInt(a netip.Addr) *uint256.Int {
	b := a.AsSlice()
	return new(uint256.Int).SetBytes(b)
}

// FromBounds builds the prefix of length bits whose base address is start,
// in the IPv4 family when is4 is set and IPv6 otherwise; the second return
// value is bits unchanged. It does not pick the length itself: the
// aggregator chooses bits so the block fits its range before calling it.
func FromBounds(start *uint256.Int, bits int, is4 bool) (netip.Prefix, int, error) {
	addr, err := intToAddr(start, is4)
	if err != nil {
		return netip.Prefix{}, 0, err
	}
	return netip.PrefixFrom(addr, bits), bits, nil
}

func intToAddr(v *uint256.Int, is4 bool) (netip.Addr, error) {
	size := 16
	if is4 {
		size = 4
	}
	b := v.Bytes32()
	out := make([]byte, size)
	copy(out, b[32-size:])
	addr, ok := netip.AddrFromSlice(out)
	if !ok {
		return netip.Addr{}, fmt.Errorf("ipnet: invalid %d-byte address", size)
	}
	if is4 {
		addr = addr.Unmap()
	}
	return addr, nil
}

// Contains reports whether outer fully contains inner (outer ⊃ inner or
// outer == inner), i.e. every address of inner also belongs to outer.
func Contains(outer, inner netip.Prefix) bool {
	if outer.Addr().Is4() != inner.Addr().Is4() {
		return false
	}
	if outer.Bits() > inner.Bits() {
		return false
	}
	return outer.Masked().Overlaps(inner.Masked()) && outer.Contains(inner.Addr())
}

// NormalizeASN formats an ASN the canonical way: "AS" + decimal, no
// leading zeros, no "as"/"AS" case variance (§3).
func NormalizeASN(n uint32) string {
	return fmt.Sprintf("AS%d", n)
}
