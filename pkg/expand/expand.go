// Package expand implements the Set Expander (§4.5) and Member-Of
// resolution (§4.6): recursive AS-set/route-set membership traversal
// through the IRR adapter, with cycle detection, a depth cap, a size cap,
// and a hard timeout. Grounded directly on collect_set_expansion and
// collect_member_of in irrexplorer's api/collectors.py.
package expand

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"irrquery/pkg/model"
	"irrquery/pkg/sources"
)

const (
	// MaxDepth bounds the BFS frontier walk (§4.5: "MAX_DEPTH (20)").
	MaxDepth = 20
	// DefaultSizeLimit bounds the resolved/frontier node count (§4.5,
	// §6.3 SET_SIZE_LIMIT).
	DefaultSizeLimit = 1000
	// DefaultTimeout is the hard wall-clock deadline for one expansion
	// call (§4.5, §6.3 SET_EXPANSION_TIMEOUT).
	DefaultTimeout = 30 * time.Second
)

var asnLiteralRe = regexp.MustCompile(`(?i)^AS[0-9]+$`)

// isSet reports whether name is a set token rather than an ASN terminal
// (§4.5: "A token is 'a set' iff it does not match ^AS[0-9]+$").
func isSet(name string) bool {
	return !asnLiteralRe.MatchString(name)
}

// Expander resolves AS-set/route-set membership trees.
type Expander struct {
	IRR sources.SetResolver

	SizeLimit int
	Timeout   time.Duration

	Logger *zap.Logger
}

// New returns an Expander configured with spec defaults.
func New(irr sources.SetResolver, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		IRR:       irr,
		SizeLimit: DefaultSizeLimit,
		Timeout:   DefaultTimeout,
		Logger:    logger,
	}
}

// Expand implements §4.5: expand(name) → list<SetExpansion>.
//
// On timeout, an empty result is returned (not an error) — the spec treats
// expansion as advisory: "on timeout, return an empty list and log." The
// timeout is reported back as a warning (§7: ExpansionTimeout), not an
// error, so callers can still return 200 with the (empty) result.
func (e *Expander) Expand(ctx context.Context, name string) ([]model.SetExpansion, []error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	type outcome struct {
		result   []model.SetExpansion
		warnings []error
	}
	done := make(chan outcome, 1)
	go func() {
		result, warnings := e.expandUnbounded(ctx, name)
		done <- outcome{result: result, warnings: warnings}
	}()

	select {
	case o := <-done:
		return o.result, o.warnings
	case <-ctx.Done():
		e.Logger.Error("set expansion timed out", zap.String("name", name), zap.Duration("timeout", e.Timeout))
		return nil, []error{&model.ExpansionTimeoutError{Name: name}}
	}
}

// resolvedMap maps a set name to its per-source direct member list, the same
// shape IRRDQuery.query_set_members returns for a batch.
type resolvedMap map[string]map[string][]string

func (e *Expander) expandUnbounded(ctx context.Context, name string) ([]model.SetExpansion, []error) {
	resolved := resolvedMap{name: {}}
	frontier := map[string]struct{}{name: {}}
	var warnings []error

	for depth := 0; len(frontier) > 0 && depth < MaxDepth; {
		depth++

		if len(frontier) > e.SizeLimit || len(resolved) > e.SizeLimit {
			e.Logger.Warn("set expansion size limit reached", zap.Int("limit", e.SizeLimit), zap.String("name", name))
			warnings = append(warnings, &model.ExpansionTruncatedError{Name: name, Reason: "size limit reached"})
			break
		}

		batchNames := make([]string, 0, len(frontier))
		for n := range frontier {
			batchNames = append(batchNames, n)
		}

		step, err := e.IRR.QuerySetMembers(ctx, batchNames)
		if err != nil {
			e.Logger.Error("set members query failed", zap.Error(err), zap.String("name", name))
			return nil, warnings
		}
		for n, perSource := range step {
			resolved[n] = perSource
		}

		next := make(map[string]struct{})
		for _, perSource := range step {
			for _, members := range perSource {
				for _, m := range members {
					if isSet(m) {
						next[m] = struct{}{}
					}
				}
			}
		}
		for n := range resolved {
			delete(next, n)
		}
		frontier = next

		if len(frontier) > 0 && depth >= MaxDepth {
			warnings = append(warnings, &model.ExpansionTruncatedError{Name: name, Reason: "depth limit reached"})
		}
	}

	return traverse(resolved, name), warnings
}

// traverse implements the depth-first walk that turns the resolved
// adjacency map into one SetExpansion per (visited_name, source) pair,
// breaking cycles by path membership and deduplicating by structural
// equality.
func traverse(resolved resolvedMap, root string) []model.SetExpansion {
	var results []model.SetExpansion
	seen := make(map[string]struct{})

	var walk func(name string, depth int, path []string)
	walk = func(name string, depth int, path []string) {
		for _, p := range path {
			if p == name {
				return // circular reference
			}
		}
		path = append(append([]string(nil), path...), name)
		depth++

		perSource := resolved[name]
		sourceNames := make([]string, 0, len(perSource))
		for source := range perSource {
			sourceNames = append(sourceNames, source)
		}
		sort.Strings(sourceNames)

		for _, source := range sourceNames {
			members := append([]string(nil), perSource[source]...)
			sort.Strings(members)
			key := dedupKey(name, source, depth, path, members)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				results = append(results, model.SetExpansion{
					Name:    name,
					Source:  source,
					Depth:   depth,
					Path:    path,
					Members: members,
				})
			}
		}

		for _, source := range sourceNames {
			for _, member := range perSource[source] {
				if _, ok := resolved[member]; ok {
					walk(member, depth, path)
				}
			}
		}
	}

	walk(root, 0, nil)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Depth != results[j].Depth {
			return results[i].Depth < results[j].Depth
		}
		return results[i].Name < results[j].Name
	})
	return results
}

// dedupKey builds a cheap structural-equality key for expansion dedup,
// cheaper than reflect.DeepEqual over a struct with slice-valued fields.
func dedupKey(name, source string, depth int, path, members []string) string {
	key := name + "\x00" + source + "\x00" + strconv.Itoa(depth)
	for _, p := range path {
		key += "\x00" + p
	}
	key += "\x01"
	for _, m := range members {
		key += "\x00" + m
	}
	return key
}

// MemberOf implements §4.6: resolving which sets name target as a member,
// applying the RPSL mbrs-by-ref filter from §4.2 for aut-num entries under
// ASSET queries.
func (e *Expander) MemberOf(ctx context.Context, target string, class model.ObjectClass) (*model.MemberOf, error) {
	data, err := e.IRR.QueryMemberOf(ctx, target, class)
	if err != nil {
		return nil, &model.SourceUnavailableError{Source: model.SourceIRR, Err: err}
	}

	result := model.NewMemberOf()
	for _, s := range data.Sets {
		result.AddSet(s.Source, s.RPSLPK)
	}

	if class == model.ObjectClassASSet {
		for _, autnum := range data.AutNums {
			mntBy := toSet(autnum.MntBy)
			for _, ref := range autnum.MemberOfObjs {
				expected := toSet(ref.MbrsByRef)
				if expected["ANY"] || intersects(mntBy, expected) {
					result.AddSet(ref.Source, ref.RPSLPK)
				}
			}
		}
	}

	result.Finalize()
	return result, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
