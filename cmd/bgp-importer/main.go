// Command bgp-importer populates the bgp(asn, prefix, rpki_status) table
// (§6.2) from a BGP origin feed (default: bgp.tools' table.jsonl, the same
// BGP_SOURCE irrexplorer's BGPImporter uses). It is an out-of-core
// collaborator per §1 Non-goals ("the BGP/RIR importers ... are treated as
// external collaborators"), adapted from the teacher's cmd/iptoasn-build
// fetch+build CLI shape and irrexplorer's backends/bgp.py BGPImporter
// parsing logic.
package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"irrquery/pkg/metadata"
)

const (
	defaultSourceURL   = "https://bgp.tools/table.jsonl"
	defaultMinimumHits = 20
	// defaultIPv4Cutoff / defaultIPv6Cutoff filter out router-to-router
	// links and other tiny blocks, matching irrexplorer's
	// BGP_IPV4_LENGTH_CUTOFF / BGP_IPV6_LENGTH_CUTOFF defaults.
	defaultIPv4Cutoff = 29
	defaultIPv6Cutoff = 124
)

type bgpRow struct {
	CIDR string `json:"CIDR"`
	ASN  int64  `json:"ASN"`
	Hits int    `json:"Hits"`
}

func main() {
	sourceURL := flag.String("url", defaultSourceURL, "BGP origin feed URL")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	minimumHits := flag.Int("minimum-hits", defaultMinimumHits, "Minimum observation count to trust a row")
	ipv4Cutoff := flag.Int("ipv4-cutoff", defaultIPv4Cutoff, "Drop IPv4 prefixes at least this specific")
	ipv6Cutoff := flag.Int("ipv6-cutoff", defaultIPv6Cutoff, "Drop IPv6 prefixes at least this specific")
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("bgp-importer: --database-url or DATABASE_URL is required")
	}

	ctx := context.Background()

	log.Printf("fetching %s", *sourceURL)
	rows, err := fetchRows(ctx, *sourceURL, *minimumHits, *ipv4Cutoff, *ipv6Cutoff)
	if err != nil {
		log.Fatalf("bgp-importer: fetch failed: %v", err)
	}
	log.Printf("parsed %d rows", len(rows))

	pool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("bgp-importer: connecting: %v", err)
	}
	defer pool.Close()

	if err := loadRows(ctx, pool, rows); err != nil {
		log.Fatalf("bgp-importer: load failed: %v", err)
	}

	if err := metadata.RecordImport(ctx, pool, "bgp", time.Now()); err != nil {
		log.Fatalf("bgp-importer: recording metadata: %v", err)
	}

	log.Printf("import complete: %d rows written", len(rows))
}

func fetchRows(ctx context.Context, url string, minimumHits, ipv4Cutoff, ipv6Cutoff int) ([]bgpRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var rows []bgpRow
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var row bgpRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			log.Printf("skipping invalid line: %v", err)
			continue
		}
		if row.Hits < minimumHits {
			continue
		}
		if !includeRoute(row.CIDR, ipv4Cutoff, ipv6Cutoff) {
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning feed: %w", err)
	}
	return rows, nil
}

func includeRoute(cidr string, ipv4Cutoff, ipv6Cutoff int) bool {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return false
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	isV6 := strings.Contains(cidr, ":")
	if isV6 {
		return length < ipv6Cutoff
	}
	return length < ipv4Cutoff
}

const chunkSize = 5000

func loadRows(ctx context.Context, pool *pgxpool.Pool, rows []bgpRow) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM bgp`); err != nil {
		return fmt.Errorf("clearing bgp table: %w", err)
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		rowsToCopy := make([][]any, len(batch))
		for i, r := range batch {
			rowsToCopy[i] = []any{r.ASN, r.CIDR}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"bgp"}, []string{"asn", "prefix"}, pgx.CopyFromRows(rowsToCopy))
		if err != nil {
			return fmt.Errorf("copying batch at offset %d: %w", start, err)
		}
	}

	return tx.Commit(ctx)
}
