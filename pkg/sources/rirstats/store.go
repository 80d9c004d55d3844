// Package rirstats implements the local SQL-backed RIR statistics adapter
// (§4.2, §6.2): a pgx/v5 pool over the rirstats(rir, prefix) delegation
// table, used only to attribute the RIR/NIR owner of a prefix.
package rirstats

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"irrquery/pkg/ipnet"
	"irrquery/pkg/model"
)

// Store is the RIR statistics adapter.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects a pgx pool to databaseURL and returns a Store.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("rirstats: connecting: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() { s.pool.Close() }

// Delegation is one (rir, prefix) row, kept distinct from model.RouteInfo
// since rirstats rows carry no ASN and are only ever used for RIR/NIR
// resolution (§4.4.4), never surfaced as route records.
type Delegation struct {
	RIR    model.RIR
	Prefix netip.Prefix
}

// QueryPrefixesAny returns every delegation row whose prefix overlaps any
// p ∈ prefixes — the union of ancestors and descendants in the prefix tree
// (§4.2: "the union of ancestors and descendants in the prefix tree").
func (s *Store) QueryPrefixesAny(ctx context.Context, prefixes []netip.Prefix) ([]Delegation, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	cidrs := make([]string, len(prefixes))
	for i, p := range prefixes {
		cidrs[i] = ipnet.FormatCIDR(p)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT rir, prefix::text FROM rirstats r WHERE EXISTS (
			SELECT 1 FROM unnest($1::cidr[]) q(p) WHERE r.prefix >>= q.p OR r.prefix <<= q.p
		)`,
		cidrs,
	)
	if err != nil {
		return nil, fmt.Errorf("rirstats: query_prefixes_any: %w", err)
	}
	return s.scanDelegations(rows)
}

func (s *Store) scanDelegations(rows scannableRows) ([]Delegation, error) {
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		var rir, prefixStr string
		if err := rows.Scan(&rir, &prefixStr); err != nil {
			return nil, fmt.Errorf("rirstats: scanning row: %w", err)
		}
		p, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			s.logger.Error("rirstats row has unparsable prefix", zap.String("prefix", prefixStr), zap.Error(err))
			continue
		}
		out = append(out, Delegation{RIR: model.RIR(rir), Prefix: p.Masked()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rirstats: iterating rows: %w", err)
	}
	return out, nil
}

// scannableRows is the subset of pgx.Rows this package needs, narrowed so
// tests can supply a fake without depending on pgx's connection machinery.
type scannableRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}
