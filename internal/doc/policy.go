package doc

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/roach88/avcs/internal/merge"
)

// Strategy names how a conflict is settled.
type Strategy string

const (
	// StrategyOurs keeps the current branch's changes.
	StrategyOurs Strategy = "ours"
	// StrategyTheirs keeps the merged-in branch's changes.
	StrategyTheirs Strategy = "theirs"
	// StrategyBoth replays both sides; the last writer wins on each tip.
	StrategyBoth Strategy = "both"
	// StrategyFail aborts the merge.
	StrategyFail Strategy = "fail"
)

// Strategies lists every valid strategy.
var Strategies = []Strategy{StrategyOurs, StrategyTheirs, StrategyBoth, StrategyFail}

// ParseStrategy validates s.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !slices.Contains(Strategies, st) {
		return "", fmt.Errorf("unknown resolve strategy %q (want one of ours, theirs, both, fail)", s)
	}
	return st, nil
}

// Policy maps dotted path prefixes to strategies. The longest matching
// prefix wins; Default covers everything else.
type Policy struct {
	Default Strategy
	Paths   map[string]Strategy
}

// PolicyResolver settles document conflicts according to a Policy.
type PolicyResolver struct {
	def      Strategy
	prefixes []prefixRule
	calls    atomic.Int64
}

type prefixRule struct {
	path     []string
	strategy Strategy
}

// NewPolicyResolver compiles p. An empty Default means StrategyFail.
func NewPolicyResolver(p Policy) (*PolicyResolver, error) {
	def := p.Default
	if def == "" {
		def = StrategyFail
	}
	if _, err := ParseStrategy(string(def)); err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	r := &PolicyResolver{def: def}
	for prefix, st := range p.Paths {
		if _, err := ParseStrategy(string(st)); err != nil {
			return nil, fmt.Errorf("path %q: %w", prefix, err)
		}
		r.prefixes = append(r.prefixes, prefixRule{path: ParsePath(prefix), strategy: st})
	}
	// Longest first so the first match is the most specific.
	slices.SortFunc(r.prefixes, func(a, b prefixRule) int {
		if len(a.path) != len(b.path) {
			return len(b.path) - len(a.path)
		}
		return strings.Compare(strings.Join(a.path, "."), strings.Join(b.path, "."))
	})
	return r, nil
}

// StrategyFor returns the strategy that applies to path.
func (r *PolicyResolver) StrategyFor(path []string) Strategy {
	for _, rule := range r.prefixes {
		if len(rule.path) <= len(path) && slices.Equal(rule.path, path[:len(rule.path)]) {
			return rule.strategy
		}
	}
	return r.def
}

// Calls returns how many conflicts this resolver has been asked to settle.
func (r *PolicyResolver) Calls() int {
	return int(r.calls.Load())
}

// Resolve implements merge.Resolver. Every path in the conflict group must
// map to the same strategy; a group spanning differently configured paths is
// left unresolved.
func (r *PolicyResolver) Resolve(ctx context.Context, c merge.Conflict[Op, Undo]) (merge.Resolution[Op, Undo], error) {
	r.calls.Add(1)

	st := r.def
	for i, p := range c.Paths {
		s := r.StrategyFor(p)
		if i == 0 {
			st = s
			continue
		}
		if s != st {
			return merge.Resolution[Op, Undo]{}, fmt.Errorf("%w: %s spans strategies %s and %s",
				merge.ErrUnresolved, merge.FormatPaths(c.Paths), st, s)
		}
	}

	var inner merge.Resolver[Op, Undo]
	switch st {
	case StrategyOurs:
		inner = merge.KeepLeft[Op, Undo]()
	case StrategyTheirs:
		inner = merge.KeepRight[Op, Undo]()
	case StrategyBoth:
		inner = merge.KeepBoth[Op, Undo]()
	default:
		inner = merge.Fail[Op, Undo]()
	}
	return inner.Resolve(ctx, c)
}
