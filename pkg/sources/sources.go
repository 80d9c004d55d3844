// Package sources declares the adapter interfaces the collector and
// expander depend on (§4.2, §9). Keeping these narrow and interface-typed
// — rather than wiring the collector directly to concrete IRR/BGP/RIRStats
// clients — follows the same shape as the teacher's pkg/sources/rdap and
// pkg/sources/ripe: each concrete adapter owns its own transport, and the
// caller only ever sees the capability it needs.
package sources

import (
	"context"
	"net/netip"

	"irrquery/pkg/model"
)

// PrefixASNSource is the capability the IRR and BGP adapters provide: look
// up routes by prefix and by origin ASN. The collector holds one of these
// for each of the two sources without caring which concrete type it is.
type PrefixASNSource interface {
	// Tag identifies which DataSource this adapter populates on the
	// RouteInfo records it returns.
	Tag() model.DataSource

	// QueryPrefixesAny returns every route record whose prefix is exactly
	// one of prefixes, from any of this adapter's sources. capped reports
	// whether the adapter's per-query result cap was hit (§4.2, §7): the
	// returned records are still usable, just truncated.
	QueryPrefixesAny(ctx context.Context, prefixes []netip.Prefix) (routes []model.RouteInfo, capped bool, err error)

	// QueryASN returns every route record this adapter has for asn.
	QueryASN(ctx context.Context, asn uint32) (routes []model.RouteInfo, capped bool, err error)
}

// SetResolver is the IRR-only capability the set expander needs (§4.5,
// §4.6). It is kept off PrefixASNSource deliberately: BGP and RIR-stats
// adapters have no notion of RPSL set membership, and giving them these
// methods would let the expander compile against an adapter it can never
// actually drive.
type SetResolver interface {
	// QuerySetMembers resolves one expansion step for a batch of set
	// names: for each name, for each IRR source that defines it, the
	// direct (unexpanded) member list.
	QuerySetMembers(ctx context.Context, names []string) (map[string]map[string][]string, error)

	// QueryMemberOf returns the raw member-of resolution data for
	// target: the sets it's a direct member of, plus (for AS-sets) the
	// aut-num mntBy/memberOfObjs data needed to apply the mbrs-by-ref
	// rule (§4.6).
	QueryMemberOf(ctx context.Context, target string, class model.ObjectClass) (*MemberOfData, error)
}

// MemberOfData is the raw shape of an IRRd -j member-of query result,
// ahead of the mbrs-by-ref filtering expand.Expander.MemberOf applies.
type MemberOfData struct {
	Sets []MemberOfSet

	// AutNums is populated only for ASSET queries: the queried AS's own
	// aut-num object(s), carrying the mntBy list and the memberOfObjs
	// back-references needed to test mbrs-by-ref membership.
	AutNums []MemberOfAutNum
}

// MemberOfSet is one set found to directly list the target as a member.
type MemberOfSet struct {
	Source string
	RPSLPK string
}

// MemberOfAutNum is one aut-num object's membership-relevant fields.
type MemberOfAutNum struct {
	MntBy        []string
	MemberOfObjs []MemberOfRef
}

// MemberOfRef is one set referenced by an aut-num's member-of attribute,
// together with that set's mbrs-by-ref maintainer list (empty/nil means
// the set doesn't use mbrs-by-ref at all, so membership isn't implied).
type MemberOfRef struct {
	Source    string
	RPSLPK    string
	MbrsByRef []string
}
