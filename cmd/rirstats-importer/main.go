// Command rirstats-importer populates the rirstats(rir, prefix) table
// (§6.2) from RIR "delegated-extended" statistics files, the same format
// APNIC/ARIN/RIPE NCC/LACNIC/AFriNIC and their NIRs (JPNIC, NIC.br) publish
// daily. It is an out-of-core collaborator per §1 Non-goals, the same way
// bgp-importer is, adapted from the teacher's cmd/arin-bulk-build fetch+
// build CLI shape but parsing the delegated-extended line format instead
// of ARIN's bulk whois XML.
package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"flag"
	"fmt"
	"log"
	"math/bits"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"irrquery/pkg/metadata"
	"irrquery/pkg/model"
)

// nirOpaqueIDs maps the delegated-extended opaque-id prefixes NIRs use to
// tag their own rows to the model.RIR name irrquery stores for them.
// Rows not matching one of these fall back to the registry named by the
// --registry flag (§4.4.4: NIR rows "take precedence over their parent RIR when
// both cover a prefix").
var nirOpaqueIDs = map[string]model.RIR{
	"jpnic":  "JPNIC",
	"nic-br": "NICBR",
	"nicbr":  "NICBR",
}

type delegationRow struct {
	RIR    model.RIR
	Prefix netip.Prefix
}

func main() {
	sourceURL := flag.String("url", "", "delegated-extended statistics file URL (http(s) or local path with file://)")
	registry := flag.String("registry", "", "Registry name to stamp rows with when the opaque-id doesn't identify an NIR (e.g. APNIC, ARIN)")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.Parse()

	if *sourceURL == "" {
		log.Fatal("rirstats-importer: --url is required")
	}
	if *registry == "" {
		log.Fatal("rirstats-importer: --registry is required")
	}
	if *databaseURL == "" {
		log.Fatal("rirstats-importer: --database-url or DATABASE_URL is required")
	}

	ctx := context.Background()

	log.Printf("fetching %s", *sourceURL)
	rows, err := fetchDelegations(ctx, *sourceURL, model.RIR(strings.ToUpper(*registry)))
	if err != nil {
		log.Fatalf("rirstats-importer: fetch failed: %v", err)
	}
	log.Printf("parsed %d delegations", len(rows))

	pool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("rirstats-importer: connecting: %v", err)
	}
	defer pool.Close()

	if err := loadDelegations(ctx, pool, *registry, rows); err != nil {
		log.Fatalf("rirstats-importer: load failed: %v", err)
	}

	if err := metadata.RecordImport(ctx, pool, "rirstats", time.Now()); err != nil {
		log.Fatalf("rirstats-importer: recording metadata: %v", err)
	}

	log.Printf("import complete: %d rows written", len(rows))
}

func fetchDelegations(ctx context.Context, url string, defaultRIR model.RIR) ([]delegationRow, error) {
	body, err := openSource(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var rows []delegationRow
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "2|") {
			// "2|" is the delegated-extended version/summary line.
			continue
		}
		row, ok := parseDelegatedLine(line, defaultRIR)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning statistics file: %w", err)
	}
	return rows, nil
}

type readCloser struct {
	io interface {
		Read([]byte) (int, error)
	}
	closers []func() error
}

func (r readCloser) Read(p []byte) (int, error) { return r.io.Read(p) }
func (r readCloser) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if cerr := r.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func openSource(ctx context.Context, url string) (interface {
	Read([]byte) (int, error)
	Close() error
}, error) {
	if strings.HasPrefix(url, "file://") {
		f, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", url, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return readCloser{io: gz, closers: []func() error{gz.Close, resp.Body.Close}}, nil
	}
	return resp.Body, nil
}

// parseDelegatedLine parses one data line of the delegated-extended format:
//
//	registry|cc|type|start|value|date|status[|opaque-id]
//
// e.g. "apnic|JP|ipv4|202.0.0.0|131072|20000101|allocated|jpnic"
// or   "apnic|AU|ipv6|2001:df2::|32|20000101|allocated".
func parseDelegatedLine(line string, defaultRIR model.RIR) (delegationRow, bool) {
	fields := strings.Split(line, "|")
	if len(fields) < 7 {
		return delegationRow{}, false
	}
	recordType := fields[2]
	if recordType != "ipv4" && recordType != "ipv6" {
		return delegationRow{}, false
	}
	status := fields[6]
	if status != "allocated" && status != "assigned" {
		return delegationRow{}, false
	}

	start := fields[3]
	addr, err := netip.ParseAddr(start)
	if err != nil {
		return delegationRow{}, false
	}

	var prefixLen int
	if recordType == "ipv6" {
		prefixLen, err = strconv.Atoi(fields[4])
		if err != nil {
			return delegationRow{}, false
		}
	} else {
		count, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil || count == 0 {
			return delegationRow{}, false
		}
		// ipv4 rows give an address count rather than a prefix length;
		// only power-of-two counts are valid CIDR blocks.
		if bits.OnesCount64(count) != 1 {
			return delegationRow{}, false
		}
		prefixLen = 32 - bits.TrailingZeros64(count)
	}

	prefix, err := addr.Prefix(prefixLen)
	if err != nil {
		return delegationRow{}, false
	}

	rir := defaultRIR
	if len(fields) > 7 {
		if nir, ok := nirOpaqueIDs[strings.ToLower(fields[7])]; ok {
			rir = nir
		}
	}

	return delegationRow{RIR: rir, Prefix: prefix.Masked()}, true
}

const chunkSize = 5000

func loadDelegations(ctx context.Context, pool *pgxpool.Pool, registry string, rows []delegationRow) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Clear the registry's own rows plus any NIR rows this batch actually
	// carries (an NIR only appears in its parent RIR's file, so clearing
	// NIRs not present here would wipe data an unrelated import owns).
	if _, err := tx.Exec(ctx, `DELETE FROM rirstats WHERE rir = $1 OR rir = ANY($2::text[])`,
		strings.ToUpper(registry), nirValuesIn(rows)); err != nil {
		return fmt.Errorf("clearing existing rows for %s: %w", registry, err)
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		rowsToCopy := make([][]any, len(batch))
		for i, r := range batch {
			rowsToCopy[i] = []any{string(r.RIR), r.Prefix.String()}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"rirstats"}, []string{"rir", "prefix"}, pgx.CopyFromRows(rowsToCopy))
		if err != nil {
			return fmt.Errorf("copying batch at offset %d: %w", start, err)
		}
	}

	return tx.Commit(ctx)
}

// nirValuesIn returns the distinct NIR names present in rows, so a rerun
// of a parent registry's importer also refreshes its NIRs' rows without
// touching NIRs that belong to a different registry's file.
func nirValuesIn(rows []delegationRow) []string {
	seen := make(map[model.RIR]bool)
	var out []string
	for _, row := range rows {
		if _, ok := seen[row.RIR]; ok {
			continue
		}
		for _, nir := range nirOpaqueIDs {
			if nir == row.RIR {
				seen[row.RIR] = true
				out = append(out, string(row.RIR))
				break
			}
		}
	}
	return out
}
