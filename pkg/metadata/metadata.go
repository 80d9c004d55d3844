// Package metadata implements the last-import metadata reader behind the
// GET /metadata endpoint contract (§6.1, §6.2): "Metadata store records
// the most recent successful import of each source." Grounded on the
// teacher's pkg/iporgdb metadata key/value convention (SetMetadata/
// GetMetadata over a schema/built_at/builder_version triple), adapted from
// a LevelDB key prefix to a small SQL table the importers write to.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IRRLastUpdateSource is the capability metadata needs from the IRR
// adapter: its own view of upstream mirror freshness.
type IRRLastUpdateSource interface {
	LastUpdate(ctx context.Context) (*time.Time, error)
}

// ImportInfo is one source's last-successful-import record, written by the
// bgp-importer / rirstats-importer command-line tools (§1 Non-goals: the
// importers themselves are out of core scope, but the table they write to
// is part of the core's external interface).
type ImportInfo struct {
	Source    string
	UpdatedAt time.Time
}

// Reader reads the metadata table and, for the IRR source, the adapter's
// own freshness signal.
type Reader struct {
	pool *pgxpool.Pool
	irr  IRRLastUpdateSource
}

// New returns a Reader over pool's import_metadata table and irr's
// LastUpdate.
func New(pool *pgxpool.Pool, irr IRRLastUpdateSource) *Reader {
	return &Reader{pool: pool, irr: irr}
}

// LastUpdate is the §6.1 /metadata response shape: {last_update: {irr,
// importer}}. "importer" here is keyed by table name (bgp, rirstats) since
// each importer runs independently.
type LastUpdate struct {
	IRR      *time.Time           `json:"irr"`
	Importer map[string]time.Time `json:"importer"`
}

// Get assembles the current LastUpdate snapshot.
func (r *Reader) Get(ctx context.Context) (*LastUpdate, error) {
	result := &LastUpdate{Importer: make(map[string]time.Time)}

	if r.irr != nil {
		irrUpdate, err := r.irr.LastUpdate(ctx)
		if err != nil {
			return nil, fmt.Errorf("metadata: irr last update: %w", err)
		}
		result.IRR = irrUpdate
	}

	if r.pool == nil {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT source, updated_at FROM import_metadata`)
	if err != nil {
		return nil, fmt.Errorf("metadata: querying import_metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info ImportInfo
		if err := rows.Scan(&info.Source, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("metadata: scanning row: %w", err)
		}
		result.Importer[info.Source] = info.UpdatedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: iterating rows: %w", err)
	}
	return result, nil
}

// RecordImport upserts source's last successful import time — called by
// the importer command-line tools at the end of a successful run.
func RecordImport(ctx context.Context, pool *pgxpool.Pool, source string, at time.Time) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO import_metadata (source, updated_at) VALUES ($1, $2)
		 ON CONFLICT (source) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		source, at,
	)
	if err != nil {
		return fmt.Errorf("metadata: recording import for %s: %w", source, err)
	}
	return nil
}
