// Package collector implements the Prefix Collector & Collator (§4.4): the
// orchestrator that fans out to the three source adapters, aggregates and
// collates their results per prefix, and assigns each prefix its governing
// RIR/NIR. Grounded directly on irrexplorer's PrefixCollector
// (api/collectors.py) — the Go translation keeps its method names
// (prefix_summary → PrefixSummary, asn_summary → ASNSummary,
// _collate_per_prefix → collate, _rir_for_prefix → rirFor) and algorithm
// shape, replacing asyncio.gather with a WaitGroup-joined fan-out.
package collector

import (
	"context"
	"net/netip"
	"sort"
	"sync"

	"go.uber.org/zap"

	"irrquery/pkg/aggregate"
	"irrquery/pkg/model"
	"irrquery/pkg/sources"
	"irrquery/pkg/sources/bgpstore"
	"irrquery/pkg/sources/rirstats"
)

// RIRStatsSource is the narrow capability the collector needs from the
// RIR-stats adapter — distinct from sources.PrefixASNSource because
// rirstats rows carry no RouteInfo shape, only a (rir, prefix) delegation.
type RIRStatsSource interface {
	QueryPrefixesAny(ctx context.Context, prefixes []netip.Prefix) ([]rirstats.Delegation, error)
}

// Collector orchestrates the three source adapters. It holds no
// per-request state (each call's joined adapter results live in a local
// collected value), so one Collector is shared across requests.
type Collector struct {
	IRR      sources.PrefixASNSource
	BGP      sources.PrefixASNSource
	RIRStats RIRStatsSource

	MinimumPrefix model.MinimumPrefixSize

	Logger *zap.Logger
}

// New returns a Collector wired to the three adapters, using spec defaults
// for the minimum prefix floor.
func New(irr, bgp sources.PrefixASNSource, rirStats RIRStatsSource, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		IRR:           irr,
		BGP:           bgp,
		RIRStats:      rirStats,
		MinimumPrefix: model.DefaultMinimumPrefixSize,
		Logger:        logger,
	}
}

// collected is the joined, per-request result of fanning out to the three
// adapters — the Go equivalent of the Python collector's
// irrd_per_prefix/bgp_per_prefix/rirstats instance attributes, but held as
// a value local to one call instead of mutable state on the collector.
type collected struct {
	irrPerPrefix map[netip.Prefix][]model.RouteInfo
	bgpPerPrefix map[netip.Prefix][]model.RouteInfo
	rirstats     []rirstats.Delegation
}

// PrefixSummary implements §4.4.1: the summary list for one classified
// prefix. The returned warnings are non-fatal (§7: SourceCap) and ride
// along with the result rather than failing the request.
func (c *Collector) PrefixSummary(ctx context.Context, p netip.Prefix) ([]*model.PrefixSummary, []error, error) {
	// Redundant with the classifier's own floor check; kept here as the
	// spec requires (§4.4.1 step 1) since callers may invoke the
	// collector directly, bypassing classify.Classify.
	if p.Bits() < c.MinimumPrefix.For(p) {
		return nil, nil, nil
	}

	data, warnings, err := c.collectForPrefixes(ctx, []netip.Prefix{p})
	if err != nil {
		return nil, nil, err
	}
	return c.collate(data), warnings, nil
}

// ASNSummary implements §4.4.2: the partitioned (direct_origin, overlaps)
// result for an ASN query.
func (c *Collector) ASNSummary(ctx context.Context, asn uint32) (*model.ASNPrefixes, []error, error) {
	prefixes, warnings, err := c.aggregatePrefixesForASN(ctx, asn)
	if err != nil {
		return nil, nil, err
	}

	data, moreWarnings, err := c.collectForPrefixes(ctx, prefixes)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, moreWarnings...)
	summaries := c.collate(data)

	result := &model.ASNPrefixes{}
	for _, s := range summaries {
		if s.HasOrigin(asn) {
			result.DirectOrigin = append(result.DirectOrigin, s)
		} else {
			result.Overlaps = append(result.Overlaps, s)
		}
	}
	return result, warnings, nil
}

// aggregatePrefixesForASN implements §4.4.2 step 1–2: gather IRR+BGP
// prefixes for asn, filter by the version floor, and aggregate.
func (c *Collector) aggregatePrefixesForASN(ctx context.Context, asn uint32) ([]netip.Prefix, []error, error) {
	var irrRoutes, bgpRoutes []model.RouteInfo
	var irrCapped, bgpCapped bool
	var irrErr, bgpErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		irrRoutes, irrCapped, irrErr = c.IRR.QueryASN(ctx, asn)
	}()
	go func() {
		defer wg.Done()
		bgpRoutes, bgpCapped, bgpErr = c.BGP.QueryASN(ctx, asn)
	}()
	wg.Wait()

	if irrErr != nil {
		return nil, nil, &model.SourceUnavailableError{Source: model.SourceIRR, Err: irrErr}
	}
	if bgpErr != nil {
		return nil, nil, &model.SourceUnavailableError{Source: model.SourceBGP, Err: bgpErr}
	}

	var warnings []error
	if irrCapped {
		warnings = append(warnings, &model.SourceCapError{Source: model.SourceIRR})
	}
	if bgpCapped {
		warnings = append(warnings, &model.SourceCapError{Source: model.SourceBGP, Cap: bgpstore.DefaultResultCap})
	}

	var prefixes []netip.Prefix
	for _, r := range irrRoutes {
		if r.Prefix.Bits() >= c.MinimumPrefix.For(r.Prefix) {
			prefixes = append(prefixes, r.Prefix)
		}
	}
	for _, r := range bgpRoutes {
		if r.Prefix.Bits() >= c.MinimumPrefix.For(r.Prefix) {
			prefixes = append(prefixes, r.Prefix)
		}
	}
	return aggregate.Aggregate(prefixes), warnings, nil
}

// collectForPrefixes implements §4.4.1 steps 2–3 and §4.4.5: fan out to
// all three adapters concurrently, join with a barrier, and fail the whole
// request if any source errors.
func (c *Collector) collectForPrefixes(ctx context.Context, prefixes []netip.Prefix) (*collected, []error, error) {
	result := &collected{
		irrPerPrefix: make(map[netip.Prefix][]model.RouteInfo),
		bgpPerPrefix: make(map[netip.Prefix][]model.RouteInfo),
	}
	if len(prefixes) == 0 {
		return result, nil, nil
	}

	var irrRoutes, bgpRoutes []model.RouteInfo
	var rirRows []rirstats.Delegation
	var irrCapped, bgpCapped bool
	var irrErr, bgpErr, rirErr error
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		irrRoutes, irrCapped, irrErr = c.IRR.QueryPrefixesAny(ctx, prefixes)
	}()
	go func() {
		defer wg.Done()
		bgpRoutes, bgpCapped, bgpErr = c.BGP.QueryPrefixesAny(ctx, prefixes)
	}()
	go func() {
		defer wg.Done()
		rirRows, rirErr = c.RIRStats.QueryPrefixesAny(ctx, prefixes)
	}()
	wg.Wait()

	if irrErr != nil {
		return nil, nil, &model.SourceUnavailableError{Source: model.SourceIRR, Err: irrErr}
	}
	if bgpErr != nil {
		return nil, nil, &model.SourceUnavailableError{Source: model.SourceBGP, Err: bgpErr}
	}
	if rirErr != nil {
		return nil, nil, &model.SourceUnavailableError{Source: model.SourceRIRStats, Err: rirErr}
	}

	var warnings []error
	if irrCapped {
		warnings = append(warnings, &model.SourceCapError{Source: model.SourceIRR})
	}
	if bgpCapped {
		warnings = append(warnings, &model.SourceCapError{Source: model.SourceBGP, Cap: bgpstore.DefaultResultCap})
	}

	for _, r := range irrRoutes {
		result.irrPerPrefix[r.Prefix] = append(result.irrPerPrefix[r.Prefix], r)
	}
	for _, r := range bgpRoutes {
		result.bgpPerPrefix[r.Prefix] = append(result.bgpPerPrefix[r.Prefix], r)
	}
	result.rirstats = rirRows

	return result, warnings, nil
}

// collate implements §4.4.3: build one PrefixSummary per distinct prefix
// seen in either the IRR or BGP bucket.
func (c *Collector) collate(data *collected) []*model.PrefixSummary {
	seen := make(map[netip.Prefix]struct{})
	for p := range data.irrPerPrefix {
		seen[p] = struct{}{}
	}
	for p := range data.bgpPerPrefix {
		seen[p] = struct{}{}
	}

	prefixes := make([]netip.Prefix, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i].String() < prefixes[j].String() })

	out := make([]*model.PrefixSummary, 0, len(prefixes))
	for _, p := range prefixes {
		summary := model.NewPrefixSummary(p)

		for _, r := range data.bgpPerPrefix[p] {
			if r.ASN != nil {
				summary.BGPOrigins[*r.ASN] = struct{}{}
			}
		}

		irrEntries := append([]model.RouteInfo(nil), data.irrPerPrefix[p]...)
		sort.SliceStable(irrEntries, func(i, j int) bool {
			ai, aj := uint32(0), uint32(0)
			if irrEntries[i].ASN != nil {
				ai = *irrEntries[i].ASN
			}
			if irrEntries[j].ASN != nil {
				aj = *irrEntries[j].ASN
			}
			return ai < aj
		})

		for _, r := range irrEntries {
			if r.ASN == nil {
				c.Logger.Error("IRR entry missing ASN", zap.String("prefix", r.Prefix.String()))
				continue
			}
			if r.IRRSource == "" {
				c.Logger.Error("IRR entry missing source", zap.String("prefix", r.Prefix.String()), zap.Uint32("asn", *r.ASN))
				continue
			}
			detail := model.PrefixIRRDetail{
				ASN:           *r.ASN,
				RPSLPK:        r.RPSLPK,
				RPKIStatus:    r.RPKIStatus,
				RPKIMaxLength: r.RPKIMaxLength,
				RPSLText:      r.RPSLText,
			}
			if r.IRRSource == "RPKI" {
				summary.RPKIRoutes = append(summary.RPKIRoutes, detail)
			} else {
				summary.IRRRoutes[r.IRRSource] = append(summary.IRRRoutes[r.IRRSource], detail)
			}
		}

		rir := c.rirFor(p, data.rirstats)
		summary.RIR = rir

		out = append(out, summary)
	}
	return out
}

// rirFor implements §4.4.4: the most specific overlapping rirstats entry
// wins, but a NIR match beats any RIR match regardless of specificity.
func (c *Collector) rirFor(p netip.Prefix, delegations []rirstats.Delegation) *model.RIR {
	sorted := append([]rirstats.Delegation(nil), delegations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Prefix.Bits() > sorted[j].Prefix.Bits()
	})

	var best *rirstats.Delegation
	for i := range sorted {
		d := sorted[i]
		if !overlaps(d.Prefix, p) {
			continue
		}
		if best == nil {
			best = &sorted[i]
		}
		if model.IsNIR(string(d.RIR)) {
			best = &sorted[i]
			break
		}
	}
	if best == nil {
		return nil
	}
	rir := best.RIR
	return &rir
}

func overlaps(a, b netip.Prefix) bool {
	return a.Overlaps(b)
}
