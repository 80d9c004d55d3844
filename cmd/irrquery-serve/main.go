// Command irrquery-serve is the HTTP boundary (§6.1) wiring the core query
// engine to the outside world: a thin net/http layer in the same vein as
// the teacher's examples/library-usage/http-api.go (plain http.HandleFunc,
// JSON responses, a sentinel-error-to-status-code switch), upgraded to
// Go's pattern-based ServeMux for the path-parameterized routes and to
// structured zap logging and Prometheus metrics for the ambient stack this
// repo carries beyond the teacher's lookup-tool scope.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"irrquery/pkg/classify"
	"irrquery/pkg/collector"
	"irrquery/pkg/config"
	"irrquery/pkg/expand"
	"irrquery/pkg/memo"
	"irrquery/pkg/metadata"
	"irrquery/pkg/model"
	"irrquery/pkg/sources/bgpstore"
	"irrquery/pkg/sources/irr"
	"irrquery/pkg/sources/rirstats"
)

const summaryCacheTTL = 5 * time.Minute
const expansionCacheTTL = 5 * time.Minute

type server struct {
	classifier *classify.Classifier
	collector  *collector.Collector
	expander   *expand.Expander
	metadata   *metadata.Reader
	cache      *memo.Cache
	logger     *zap.Logger
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "irrquery-serve: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("IRRQUERY_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}

	ctx := context.Background()

	bgpStore, err := bgpstore.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("opening bgp store", zap.Error(err))
	}
	defer bgpStore.Close()

	rirStatsStore, err := rirstats.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("opening rirstats store", zap.Error(err))
	}
	defer rirStatsStore.Close()

	irrClient := irr.New(irr.Config{
		Endpoint: cfg.IRRDEndpoint,
		Logger:   logger,
	})

	var cache *memo.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parsing redis url", zap.Error(err))
		}
		cache = memo.New(redis.NewClient(opts), logger)
	} else {
		// A nil backing client puts the cache in bypass mode (§5 "Failures
		// degrade to bypass"): every call executes fn directly.
		cache = memo.New(nil, logger)
	}
	cache.RegisterMetrics(prometheus.DefaultRegisterer)

	metaPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("opening metadata pool", zap.Error(err))
	}
	defer metaPool.Close()

	srv := &server{
		classifier: &classify.Classifier{
			MaxQueryLength: cfg.MaxQueryLength,
			MinimumPrefix:  cfg.MinimumPrefixSize(),
		},
		collector: collector.New(irrClient, bgpStore, rirStatsStore, logger),
		expander: &expand.Expander{
			IRR:       irrClient,
			SizeLimit: cfg.SetSizeLimit,
			Timeout:   cfg.SetExpansionTimeout,
			Logger:    logger,
		},
		metadata: metadata.New(metaPool, irrClient),
		cache:    cache,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /clean_query/{q}", srv.handleCleanQuery)
	mux.HandleFunc("GET /prefixes/prefix/{p...}", srv.handlePrefixSummary)
	mux.HandleFunc("GET /prefixes/asn/{asn}", srv.handleASNSummary)
	mux.HandleFunc("GET /sets/member-of/{class}/{target}", srv.handleMemberOf)
	mux.HandleFunc("GET /sets/expand/{target}", srv.handleExpand)
	mux.HandleFunc("GET /metadata", srv.handleMetadata)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + envOr("PORT", "8080")
	logger.Info("starting irrquery-serve", zap.String("addr", addr))
	logger.Fatal("server exited", zap.Error(http.ListenAndServe(addr, mux)))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *server) handleCleanQuery(w http.ResponseWriter, r *http.Request) {
	q := r.PathValue("q")
	result, err := s.classifier.Classify(q)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"category": string(result.Category),
		"cleaned":  result.Cleaned,
	})
}

func (s *server) handlePrefixSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("p")
	result, err := s.classifier.Classify(raw)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if result.Category != model.CategoryPrefix {
		http.Error(w, "not a valid prefix", http.StatusBadRequest)
		return
	}
	prefix, err := netip.ParsePrefix(result.Cleaned)
	if err != nil {
		http.Error(w, "not a valid prefix", http.StatusBadRequest)
		return
	}

	outcome, err := memo.Wrap(r.Context(), s.cache, memo.Options{TTL: summaryCacheTTL, KeyPrefix: "prefix", StaleWhileRevalidate: true},
		"prefix:"+result.Cleaned,
		func(ctx context.Context) (model.Outcome[[]*model.PrefixSummary], error) {
			summaries, warnings, err := s.collector.PrefixSummary(ctx, prefix)
			return model.NewOutcome(summaries, warnings), err
		})
	if err != nil {
		writeSourceError(w, s.logger, err)
		return
	}
	writeSummaryJSON(w, outcome.Value, outcome.Warnings)
}

func (s *server) handleASNSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("asn")
	result, err := s.classifier.Classify(raw)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if result.Category != model.CategoryASN {
		http.Error(w, "not a valid AS number", http.StatusBadRequest)
		return
	}
	asn, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(result.Cleaned), "AS"), 10, 32)
	if err != nil {
		http.Error(w, "not a valid AS number", http.StatusBadRequest)
		return
	}

	outcome, err := memo.Wrap(r.Context(), s.cache, memo.Options{TTL: summaryCacheTTL, KeyPrefix: "asn", StaleWhileRevalidate: true},
		"asn:"+result.Cleaned,
		func(ctx context.Context) (model.Outcome[*model.ASNPrefixes], error) {
			out, warnings, err := s.collector.ASNSummary(ctx, uint32(asn))
			return model.NewOutcome(out, warnings), err
		})
	if err != nil {
		writeSourceError(w, s.logger, err)
		return
	}
	writeSummaryJSON(w, outcome.Value, outcome.Warnings)
}

func (s *server) handleMemberOf(w http.ResponseWriter, r *http.Request) {
	classParam := r.PathValue("class")
	target := r.PathValue("target")

	var class model.ObjectClass
	switch classParam {
	case string(model.ObjectClassASSet):
		class = model.ObjectClassASSet
	case string(model.ObjectClassRouteSet):
		class = model.ObjectClassRouteSet
	default:
		http.Error(w, "object class must be as-set or route-set", http.StatusBadRequest)
		return
	}

	result, err := memo.Wrap(r.Context(), s.cache, memo.Options{TTL: expansionCacheTTL},
		"member-of:"+classParam+":"+strings.ToUpper(target),
		func(ctx context.Context) (*model.MemberOf, error) {
			return s.expander.MemberOf(ctx, strings.ToUpper(target), class)
		})
	if err != nil {
		writeSourceError(w, s.logger, err)
		return
	}
	writeSummaryJSON(w, result, nil)
}

func (s *server) handleExpand(w http.ResponseWriter, r *http.Request) {
	target := strings.ToUpper(r.PathValue("target"))

	outcome, err := memo.Wrap(r.Context(), s.cache, memo.Options{TTL: expansionCacheTTL},
		"expand:"+target,
		func(ctx context.Context) (model.Outcome[[]model.SetExpansion], error) {
			result, warnings := s.expander.Expand(ctx, target)
			return model.NewOutcome(result, warnings), nil
		})
	if err != nil {
		writeSourceError(w, s.logger, err)
		return
	}
	writeSummaryJSON(w, outcome.Value, outcome.Warnings)
}

func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	result, err := s.metadata.Get(r.Context())
	if err != nil {
		writeSourceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_update": result})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var invalid *model.InvalidQueryError
	if errors.As(err, &invalid) {
		http.Error(w, invalid.Reason, http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeSourceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var unavailable *model.SourceUnavailableError
	if errors.As(err, &unavailable) {
		logger.Error("upstream source unavailable", zap.String("source", string(unavailable.Source)), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  err.Error(),
			"source": string(unavailable.Source),
		})
		return
	}
	logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

// writeSummaryJSON emits a successful summary/expansion response with the
// §6.1 caching headers: a fixed max-age and a content-hash ETag. Non-fatal
// warnings (§7: SourceCap, ExpansionTimeout, ExpansionTruncated) ride along
// in the envelope rather than failing the request.
func writeSummaryJSON(w http.ResponseWriter, v any, warnings []string) {
	envelope := map[string]any{"result": v}
	if len(warnings) > 0 {
		envelope["warnings"] = warnings
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(body)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:16])+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
