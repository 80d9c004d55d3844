// Package model holds the data types shared across the query and
// aggregation engine: the source records adapters return, and the
// collated summaries the orchestrator produces.
package model

import (
	"encoding/json"
	"net/netip"
	"sort"
)

// DataSource identifies which upstream produced a RouteInfo.
type DataSource string

const (
	SourceIRR      DataSource = "IRR"
	SourceBGP      DataSource = "BGP"
	SourceRIRStats DataSource = "RIRSTATS"
	SourceRPKI     DataSource = "RPKI" // pseudo-source: promoted from IRR records with irr_source == "RPKI"
)

// RIR is one of the five Regional Internet Registries.
type RIR string

const (
	RIRAfriNIC RIR = "AFRINIC"
	RIRAPNIC   RIR = "APNIC"
	RIRARIN    RIR = "ARIN"
	RIRLACNIC  RIR = "LACNIC"
	RIRRIPENCC RIR = "RIPENCC"
)

// NIRNames is the closed set of National Internet Registries that take
// precedence over their parent RIR when both cover a prefix.
var NIRNames = map[string]bool{
	"NICBR": true,
	"JPNIC": true,
}

// IsNIR reports whether name (as stored in a RIRStats row's RIR column)
// names a national sub-delegation rather than a plain RIR.
func IsNIR(name string) bool {
	return NIRNames[name]
}

// RPKIStatus is the validation state IRR records may carry for RPKI-sourced
// routes. The core trusts this field verbatim; it never computes it.
type RPKIStatus string

const (
	RPKIValid   RPKIStatus = "valid"
	RPKIInvalid RPKIStatus = "invalid"
	RPKIUnknown RPKIStatus = "unknown"
)

// MinimumPrefixSize is the per-IP-version query floor. Defaults match §3.
type MinimumPrefixSize struct {
	V4 int
	V6 int
}

// DefaultMinimumPrefixSize is used unless overridden by configuration.
var DefaultMinimumPrefixSize = MinimumPrefixSize{V4: 9, V6: 29}

// For returns the configured floor for the IP version of p.
func (m MinimumPrefixSize) For(p netip.Prefix) int {
	if p.Addr().Is4() {
		return m.V4
	}
	return m.V6
}

// RouteInfo is a single record as returned by a source adapter.
type RouteInfo struct {
	Source        DataSource
	Prefix        netip.Prefix
	ASN           *uint32
	IRRSource     string // required for IRR records, e.g. "RADB", "RPKI"
	RPSLPK        string
	RPKIStatus    RPKIStatus
	RPKIMaxLength *uint8
	RPSLText      string
}

// PrefixIRRDetail is the per-record payload attached to a prefix summary,
// carrying everything about one route object except its grouping key
// (prefix and, for irr_routes, source name).
type PrefixIRRDetail struct {
	ASN           uint32     `json:"asn"`
	RPSLPK        string     `json:"rpsl_pk,omitempty"`
	RPKIStatus    RPKIStatus `json:"rpki_status,omitempty"`
	RPKIMaxLength *uint8     `json:"rpki_max_length,omitempty"`
	RPSLText      string     `json:"rpsl_text,omitempty"`
}

// PrefixSummary is the output record for a single prefix: what every
// source said about it, collated and deduplicated.
type PrefixSummary struct {
	Prefix     netip.Prefix
	RIR        *RIR
	BGPOrigins map[uint32]struct{}
	RPKIRoutes []PrefixIRRDetail
	IRRRoutes  map[string][]PrefixIRRDetail
}

// NewPrefixSummary returns an empty summary for prefix p.
func NewPrefixSummary(p netip.Prefix) *PrefixSummary {
	return &PrefixSummary{
		Prefix:     p,
		BGPOrigins: make(map[uint32]struct{}),
		IRRRoutes:  make(map[string][]PrefixIRRDetail),
	}
}

// RPKIOrigins derives the set of ASNs appearing in RPKIRoutes.
func (s *PrefixSummary) RPKIOrigins() map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(s.RPKIRoutes))
	for _, r := range s.RPKIRoutes {
		out[r.ASN] = struct{}{}
	}
	return out
}

// IRROrigins derives the union of ASNs across all irr_routes buckets.
func (s *PrefixSummary) IRROrigins() map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, records := range s.IRRRoutes {
		for _, r := range records {
			out[r.ASN] = struct{}{}
		}
	}
	return out
}

// HasOrigin reports whether asn appears in any of bgp_origins, rpki_origins
// or irr_origins — the predicate that splits ASNPrefixes into
// direct_origin vs overlaps (§3, §4.4.2).
func (s *PrefixSummary) HasOrigin(asn uint32) bool {
	if _, ok := s.BGPOrigins[asn]; ok {
		return true
	}
	for _, r := range s.RPKIRoutes {
		if r.ASN == asn {
			return true
		}
	}
	for _, records := range s.IRRRoutes {
		for _, r := range records {
			if r.ASN == asn {
				return true
			}
		}
	}
	return false
}

// prefixSummaryJSON is the §6.1 wire shape for PrefixSummary: bgp_origins
// as a sorted array rather than the set map PrefixSummary collates into;
// irr_routes' per-source slices are emitted as collated, in their existing
// order.
type prefixSummaryJSON struct {
	Prefix     string                       `json:"prefix"`
	RIR        *RIR                         `json:"rir"`
	BGPOrigins []uint32                     `json:"bgp_origins"`
	RPKIRoutes []PrefixIRRDetail            `json:"rpki_routes"`
	IRRRoutes  map[string][]PrefixIRRDetail `json:"irr_routes"`
}

// MarshalJSON renders the §6.1 wire shape for a prefix summary.
func (s *PrefixSummary) MarshalJSON() ([]byte, error) {
	origins := make([]uint32, 0, len(s.BGPOrigins))
	for asn := range s.BGPOrigins {
		origins = append(origins, asn)
	}
	sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })

	irrRoutes := s.IRRRoutes
	if irrRoutes == nil {
		irrRoutes = make(map[string][]PrefixIRRDetail)
	}

	return json.Marshal(prefixSummaryJSON{
		Prefix:     s.Prefix.String(),
		RIR:        s.RIR,
		BGPOrigins: origins,
		RPKIRoutes: s.RPKIRoutes,
		IRRRoutes:  irrRoutes,
	})
}

// ASNPrefixes is the result of an ASN query: summaries partitioned by
// whether the queried ASN is a claimed origin of the prefix.
type ASNPrefixes struct {
	DirectOrigin []*PrefixSummary `json:"direct_origin"`
	Overlaps     []*PrefixSummary `json:"overlaps"`
}

// ObjectClass distinguishes AS-set membership queries from route-set ones.
type ObjectClass string

const (
	ObjectClassASSet    ObjectClass = "as-set"
	ObjectClassRouteSet ObjectClass = "route-set"
)

// SetExpansion is one (name, source) node discovered while expanding an
// AS-set or route-set's membership tree.
type SetExpansion struct {
	Name    string   `json:"name"`
	Source  string   `json:"source"`
	Depth   int      `json:"depth"`
	Path    []string `json:"path"`
	Members []string `json:"members"`
}

// MemberOf is the result of resolving which sets name a given target as a
// member, honoring the RPSL mbrs-by-ref rule for aut-num/member-of chains.
type MemberOf struct {
	IRRsSeen   []string                       `json:"irrs_seen"`
	SetsPerIRR map[string]map[string]struct{} `json:"-"`
}

// memberOfJSON is the §6.1 wire shape: sets_per_irr as per-source sorted
// arrays rather than the set map MemberOf collates into.
type memberOfJSON struct {
	IRRsSeen   []string            `json:"irrs_seen"`
	SetsPerIRR map[string][]string `json:"sets_per_irr"`
}

// MarshalJSON renders the §6.1 wire shape for a member-of result.
func (m *MemberOf) MarshalJSON() ([]byte, error) {
	sets := make(map[string][]string, len(m.SetsPerIRR))
	for source, names := range m.SetsPerIRR {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		sets[source] = list
	}
	return json.Marshal(memberOfJSON{IRRsSeen: m.IRRsSeen, SetsPerIRR: sets})
}

// NewMemberOf returns an empty MemberOf result.
func NewMemberOf() *MemberOf {
	return &MemberOf{SetsPerIRR: make(map[string]map[string]struct{})}
}

// AddSet records that rpslPK (a set's primary key) was found in source.
func (m *MemberOf) AddSet(source, rpslPK string) {
	if _, ok := m.SetsPerIRR[source]; !ok {
		m.SetsPerIRR[source] = make(map[string]struct{})
	}
	m.SetsPerIRR[source][rpslPK] = struct{}{}
}

// Finalize computes the sorted distinct IRRsSeen list from SetsPerIRR keys.
func (m *MemberOf) Finalize() {
	seen := make([]string, 0, len(m.SetsPerIRR))
	for source := range m.SetsPerIRR {
		seen = append(seen, source)
	}
	sort.Strings(seen)
	m.IRRsSeen = seen
}

// Outcome bundles an operation's primary result with any non-fatal
// warnings collected while producing it (§7: SourceCap, ExpansionTimeout
// and ExpansionTruncated are warnings, not failures, and ride along with
// the result rather than aborting the request).
type Outcome[T any] struct {
	Value    T        `json:"value"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewOutcome wraps value with warnings stringified in encounter order.
func NewOutcome[T any](value T, warnings []error) Outcome[T] {
	out := Outcome[T]{Value: value}
	for _, w := range warnings {
		if w != nil {
			out.Warnings = append(out.Warnings, w.Error())
		}
	}
	return out
}

// Category is the result of classifying a raw user query (§4.1).
type Category string

const (
	CategoryASN      Category = "ASN"
	CategoryPrefix   Category = "PREFIX"
	CategoryASSet    Category = "ASSET"
	CategoryRouteSet Category = "ROUTESET"
)
