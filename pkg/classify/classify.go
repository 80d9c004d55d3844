// Package classify implements the query classifier (§4.1): it is the one
// gate in the system that trusts nothing, so every other component can
// trust its output.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"irrquery/pkg/ipnet"
	"irrquery/pkg/model"
)

const defaultMaxQueryLength = 255

var (
	asnRe = regexp.MustCompile(`(?i)^AS?([0-9]+)$`)
	setRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_:-]*[A-Za-z0-9]$`)
)

// Result is the classifier's output: a category and the canonicalized
// query string for it.
type Result struct {
	Category model.Category
	Cleaned  string
}

// Classifier holds the configuration the classifier needs: the input
// length cap and the per-version minimum prefix length (both overridable
// via §6.3 environment configuration).
type Classifier struct {
	MaxQueryLength int
	MinimumPrefix  model.MinimumPrefixSize
}

// New returns a Classifier configured with spec defaults.
func New() *Classifier {
	return &Classifier{
		MaxQueryLength: defaultMaxQueryLength,
		MinimumPrefix:  model.DefaultMinimumPrefixSize,
	}
}

// Classify parses raw into a (category, cleaned) pair, or returns an
// InvalidQueryError describing why raw isn't accepted.
//
// Branches are tried in a fixed order — ASN, then PREFIX, then SET — and
// each is independent: "AS-FOO" must fail the ASN branch (it has no pure
// digit suffix) before set matching is attempted, so that a set name
// starting with "AS-" is never misrouted to the ASN category.
func (c *Classifier) Classify(raw string) (Result, error) {
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = defaultMaxQueryLength
	}
	if len(raw) > c.MaxQueryLength {
		return Result{}, &model.InvalidQueryError{
			Reason: fmt.Sprintf("Query too long: maximum length is %d characters.", c.MaxQueryLength),
		}
	}

	trimmed := strings.TrimSpace(raw)

	if asn, ok := parseASN(trimmed); ok {
		return Result{Category: model.CategoryASN, Cleaned: ipnet.NormalizeASN(asn)}, nil
	}

	if result, err, matched := c.classifyPrefix(trimmed); matched {
		return result, err
	}

	if result, ok := classifySet(trimmed); ok {
		return result, nil
	}

	return Result{}, &model.InvalidQueryError{Reason: "Not a valid prefix, IP, ASN or AS-set."}
}

// parseASN recognizes "[aA][sS]?<digits>", explicitly rejecting the "AS-"
// set-name prefix before attempting a numeric parse.
func parseASN(s string) (uint32, bool) {
	if strings.HasPrefix(strings.ToUpper(s), "AS-") {
		return 0, false
	}
	m := asnRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// classifyPrefix attempts to parse s as an IPv4/IPv6 network. The third
// return value reports whether s looked enough like a prefix/IP to commit
// to this branch (so a genuine parse failure doesn't fall through to being
// silently treated as a set name).
func (c *Classifier) classifyPrefix(s string) (Result, error, bool) {
	candidate := s
	if !strings.Contains(candidate, "/") {
		if strings.Contains(candidate, ":") {
			candidate = candidate + "/128"
		} else if strings.Count(candidate, ".") == 3 {
			candidate = candidate + "/32"
		} else {
			return Result{}, nil, false
		}
	}

	p, err := ipnet.ParseTolerant(candidate)
	if err != nil {
		return Result{}, nil, false
	}

	floor := c.MinimumPrefix.For(p)
	if p.Bits() < floor {
		return Result{}, &model.InvalidQueryError{
			Reason: fmt.Sprintf("Query too large: the minimum prefix length is %d.", floor),
		}, true
	}

	return Result{Category: model.CategoryPrefix, Cleaned: ipnet.FormatCIDR(p)}, nil, true
}

// classifySet matches RPSL set/as-set naming rules and distinguishes
// route-sets (RS- prefixed, or containing ":RS-") from AS-sets.
func classifySet(s string) (Result, bool) {
	if !setRe.MatchString(s) {
		return Result{}, false
	}
	upper := strings.ToUpper(s)
	category := model.CategoryASSet
	if strings.HasPrefix(upper, "RS-") || strings.Contains(upper, ":RS-") {
		category = model.CategoryRouteSet
	}
	return Result{Category: category, Cleaned: upper}, true
}
