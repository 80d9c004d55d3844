// Package irr implements the remote IRR adapter (§4.2): an HTTP client
// speaking IRRd's GraphQL-like query API, rate-limited and retried the way
// the teacher's pkg/sources/rdap.Client and pkg/sources/ripe.Client talk to
// their respective remote services.
package irr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"irrquery/pkg/ipnet"
	"irrquery/pkg/model"
	"irrquery/pkg/sources"
	"irrquery/pkg/workers"
)

const defaultTimeout = 30 * time.Second

// Client queries a remote IRRd instance's GraphQL-like query endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Config configures a Client. Endpoint corresponds to the IRRD_ENDPOINT
// environment key (§6.3).
type Config struct {
	Endpoint  string
	RateLimit float64 // queries per second, 0 = unlimited
	Logger    *zap.Logger
}

// New returns an IRR Client. A nil logger falls back to zap.NewNop(), the
// same degrade-quietly-in-tests posture the teacher's adapters favor.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    limiter,
		logger:     logger,
	}
}

var _ sources.PrefixASNSource = (*Client)(nil)
var _ sources.SetResolver = (*Client)(nil)

// Tag identifies this adapter's DataSource.
func (c *Client) Tag() model.DataSource { return model.SourceIRR }

type queryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type routeObject struct {
	Prefix        string  `json:"prefix"`
	ASN           *uint32 `json:"asn"`
	Source        string  `json:"source"`
	RPSLPK        string  `json:"rpslPk"`
	RPKIStatus    string  `json:"rpkiStatus"`
	RPKIMaxLength *uint8  `json:"rpkiMaxLength"`
	RPSLText      string  `json:"rpslText"`
}

type routesResponse struct {
	Data struct {
		Routes []routeObject `json:"routes"`
	} `json:"data"`
}

// QueryPrefixesAny returns every route/route6 object whose prefix is
// exactly one of prefixes (§4.2: "return all IRR route/route6 objects
// whose prefix is exactly any p ∈ ps"). The remote IRR service is not
// subject to the hard result cap §4.2 mandates for the BGP store, so
// capped is always false.
func (c *Client) QueryPrefixesAny(ctx context.Context, prefixes []netip.Prefix) ([]model.RouteInfo, bool, error) {
	if len(prefixes) == 0 {
		return nil, false, nil
	}
	cidrs := make([]string, len(prefixes))
	for i, p := range prefixes {
		cidrs[i] = ipnet.FormatCIDR(p)
	}
	req := queryRequest{
		Query: `query($prefixes: [String!]!) { routes(prefixes: $prefixes) { prefix asn source rpslPk rpkiStatus rpkiMaxLength rpslText } }`,
		Variables: map[string]any{
			"prefixes": cidrs,
		},
	}
	var resp routesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, false, err
	}
	return toRouteInfos(resp.Data.Routes), false, nil
}

// QueryASN returns every IRR object with asn as origin.
func (c *Client) QueryASN(ctx context.Context, asn uint32) ([]model.RouteInfo, bool, error) {
	req := queryRequest{
		Query: `query($asn: Int!) { routes(asn: $asn) { prefix asn source rpslPk rpkiStatus rpkiMaxLength rpslText } }`,
		Variables: map[string]any{
			"asn": asn,
		},
	}
	var resp routesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, false, err
	}
	return toRouteInfos(resp.Data.Routes), false, nil
}

func toRouteInfos(objs []routeObject) []model.RouteInfo {
	out := make([]model.RouteInfo, 0, len(objs))
	for _, o := range objs {
		p, err := netip.ParsePrefix(o.Prefix)
		if err != nil {
			continue
		}
		ri := model.RouteInfo{
			Source:        model.SourceIRR,
			Prefix:        p.Masked(),
			ASN:           o.ASN,
			IRRSource:     o.Source,
			RPSLPK:        o.RPSLPK,
			RPKIStatus:    model.RPKIStatus(o.RPKIStatus),
			RPKIMaxLength: o.RPKIMaxLength,
			RPSLText:      o.RPSLText,
		}
		out = append(out, ri)
	}
	return out
}

type memberOfResponse struct {
	Data struct {
		Set []struct {
			Source string `json:"source"`
			RPSLPK string `json:"rpslPk"`
		} `json:"set"`
		AutNum []struct {
			MntBy        []string `json:"mntBy"`
			MemberOfObjs []struct {
				Source    string   `json:"source"`
				RPSLPK    string   `json:"rpslPk"`
				MbrsByRef []string `json:"mbrsByRef"`
			} `json:"memberOfObjs"`
		} `json:"autNum"`
	} `json:"data"`
}

// QueryMemberOf resolves which sets name target as a member (§4.2, §4.6).
func (c *Client) QueryMemberOf(ctx context.Context, target string, class model.ObjectClass) (*sources.MemberOfData, error) {
	req := queryRequest{
		Query: `query($target: String!, $objectClass: String!) {
			set(target: $target) { source rpslPk }
			autNum(target: $target, objectClass: $objectClass) {
				mntBy
				memberOfObjs { source rpslPk mbrsByRef }
			}
		}`,
		Variables: map[string]any{
			"target":      target,
			"objectClass": string(class),
		},
	}
	var resp memberOfResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	out := &sources.MemberOfData{}
	for _, s := range resp.Data.Set {
		out.Sets = append(out.Sets, sources.MemberOfSet{Source: s.Source, RPSLPK: s.RPSLPK})
	}
	for _, a := range resp.Data.AutNum {
		autnum := sources.MemberOfAutNum{MntBy: a.MntBy}
		for _, m := range a.MemberOfObjs {
			autnum.MemberOfObjs = append(autnum.MemberOfObjs, sources.MemberOfRef{
				Source:    m.Source,
				RPSLPK:    m.RPSLPK,
				MbrsByRef: m.MbrsByRef,
			})
		}
		out.AutNums = append(out.AutNums, autnum)
	}
	return out, nil
}

type setMembersResponse struct {
	Data struct {
		SetMembers map[string]map[string][]string `json:"setMembers"`
	} `json:"data"`
}

// QuerySetMembers resolves one BFS layer for the set expander (§4.5):
// batched so that a wide frontier costs one round trip, not one per name.
func (c *Client) QuerySetMembers(ctx context.Context, names []string) (map[string]map[string][]string, error) {
	if len(names) == 0 {
		return map[string]map[string][]string{}, nil
	}
	req := queryRequest{
		Query: `query($names: [String!]!) { setMembers(names: $names) }`,
		Variables: map[string]any{
			"names": names,
		},
	}
	var resp setMembersResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.SetMembers == nil {
		return map[string]map[string][]string{}, nil
	}
	return resp.Data.SetMembers, nil
}

type lastUpdateResponse struct {
	Data struct {
		LastUpdate *time.Time `json:"lastUpdate"`
	} `json:"data"`
}

// LastUpdate returns the IRR service's most recent successful mirror sync
// time, for the /metadata endpoint contract (§6.1, §6.2).
func (c *Client) LastUpdate(ctx context.Context) (*time.Time, error) {
	req := queryRequest{Query: `query { lastUpdate }`}
	var resp lastUpdateResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data.LastUpdate, nil
}

func (c *Client) do(ctx context.Context, q queryRequest, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("irr: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("irr: encoding query: %w", err)
	}

	return workers.Retry(ctx, workers.DefaultRetryConfig(), func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/graphql", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("irr: building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("irr: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("rate limited by IRR service")
			return model.ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("irr: unexpected status %d: %s", resp.StatusCode, respBody)
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("irr: reading response: %w", err)
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("irr: decoding response: %w", err)
		}
		return nil
	})
}
