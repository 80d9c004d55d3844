// Package bgpstore implements the local SQL-backed BGP origin store adapter
// (§4.2, §6.2): a pgx/v5 pool over the bgp(asn, prefix, rpki_status) table,
// GiST-indexed on prefix. Grounded on the teacher's pkg/iporgdb.DB for the
// wrap-a-handle-in-a-struct shape, with pgx/v5 (sourced from the
// route-beacon/rib-ingester manifest in the example pack) standing in for
// LevelDB since this adapter's data genuinely lives in a relational table
// populated out-of-core by an importer (§1 Non-goals).
package bgpstore

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"irrquery/pkg/ipnet"
	"irrquery/pkg/model"
	"irrquery/pkg/sources"
)

// DefaultResultCap is the hard per-query row limit (§4.2): "implementations
// must cap results at a hard limit (default 10,000) and log a warning when
// truncated."
const DefaultResultCap = 10_000

// Store is the BGP origin store adapter.
type Store struct {
	pool      *pgxpool.Pool
	resultCap int
	logger    *zap.Logger
}

// Open connects a pgx pool to databaseURL and returns a Store.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bgpstore: connecting: %w", err)
	}
	return &Store{pool: pool, resultCap: DefaultResultCap, logger: logger}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() { s.pool.Close() }

var _ sources.PrefixASNSource = (*Store)(nil)

// Tag identifies this adapter's DataSource.
func (s *Store) Tag() model.DataSource { return model.SourceBGP }

// QueryPrefixesAny returns one row per (prefix, asn) exactly matching any
// p ∈ prefixes (§4.2: "one row per (prefix, asn) matching any p ∈ ps
// exactly").
func (s *Store) QueryPrefixesAny(ctx context.Context, prefixes []netip.Prefix) ([]model.RouteInfo, bool, error) {
	if len(prefixes) == 0 {
		return nil, false, nil
	}
	cidrs := make([]string, len(prefixes))
	for i, p := range prefixes {
		cidrs[i] = ipnet.FormatCIDR(p)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT asn, prefix::text, rpki_status FROM bgp WHERE prefix = ANY($1::cidr[]) LIMIT $2`,
		cidrs, s.resultCap+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("bgpstore: query_prefixes_any: %w", err)
	}
	return s.scanRoutes(rows)
}

// QueryASN returns every row for asn, capped at resultCap.
func (s *Store) QueryASN(ctx context.Context, asn uint32) ([]model.RouteInfo, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asn, prefix::text, rpki_status FROM bgp WHERE asn = $1 LIMIT $2`,
		int64(asn), s.resultCap+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("bgpstore: query_asn: %w", err)
	}
	return s.scanRoutes(rows)
}

func (s *Store) scanRoutes(rows scannableRows) ([]model.RouteInfo, bool, error) {
	defer rows.Close()

	var out []model.RouteInfo
	var capped bool
	for rows.Next() {
		if len(out) >= s.resultCap {
			s.logger.Warn("bgp result cap reached, truncating", zap.Int("cap", s.resultCap))
			capped = true
			break
		}
		var asn int64
		var prefixStr string
		var rpkiStatus *string
		if err := rows.Scan(&asn, &prefixStr, &rpkiStatus); err != nil {
			return nil, false, fmt.Errorf("bgpstore: scanning row: %w", err)
		}
		p, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			s.logger.Error("bgp row has unparsable prefix", zap.String("prefix", prefixStr), zap.Error(err))
			continue
		}
		a := uint32(asn)
		ri := model.RouteInfo{
			Source: model.SourceBGP,
			Prefix: p.Masked(),
			ASN:    &a,
		}
		if rpkiStatus != nil {
			ri.RPKIStatus = model.RPKIStatus(*rpkiStatus)
		}
		out = append(out, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("bgpstore: iterating rows: %w", err)
	}
	return out, capped, nil
}

// scannableRows is the subset of pgx.Rows this package needs, narrowed so
// tests can supply a fake without depending on pgx's connection machinery.
type scannableRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}
