package dag

import (
	"slices"
	"strconv"
	"strings"
)

// Scope names a location in application state that an action touches.
//
// A nil ModifyType marks a last-writer-wins overwrite. A non-nil tag names a
// commutative operation class; two actions on the same leaf commute only
// when both carry the same tag.
type Scope struct {
	Keys       []string `json:"keys"`
	ModifyType *int     `json:"modify_type,omitempty"`
}

// ScopeFunc reports the scopes a payload touches.
type ScopeFunc[T any] func(data T) []Scope

// Overwrite returns a last-writer-wins scope over keys.
func Overwrite(keys ...string) Scope {
	return Scope{Keys: keys}
}

// Commutative returns a scope over keys tagged with the operation class tag.
func Commutative(tag int, keys ...string) Scope {
	return Scope{Keys: keys, ModifyType: &tag}
}

// IsOverwrite reports whether s has no commutative tag.
func (s Scope) IsOverwrite() bool {
	return s.ModifyType == nil
}

// HasPrefix reports whether prefix is a (non-strict) key prefix of s.
func (s Scope) HasPrefix(prefix []string) bool {
	return len(prefix) <= len(s.Keys) && slices.Equal(s.Keys[:len(prefix)], prefix)
}

// String renders the scope as dotted keys, with "#tag" for commutative scopes.
func (s Scope) String() string {
	path := strings.Join(s.Keys, ".")
	if s.ModifyType == nil {
		return path
	}
	return path + "#" + strconv.Itoa(*s.ModifyType)
}

// ScopesOf returns the scopes touched by a.
//
// Normal actions delegate to fn. Merge actions union the scopes of every
// payload folded into every parent record; because unrelated payloads can
// address nested locations, the union is normalized: duplicate key paths
// collapse (an overwrite, or disagreeing tags, wins as an overwrite) and any
// scope beneath another collapses into the outer one as an overwrite. Init
// touches nothing.
func ScopesOf[T, U any](a Action[T, U], fn ScopeFunc[T]) []Scope {
	switch a.Kind {
	case KindNormal:
		return fn(a.Data)
	case KindMerge:
		var all []Scope
		for _, p := range a.Parents {
			for _, d := range p.Data {
				all = append(all, fn(d)...)
			}
		}
		return normalizeScopes(all)
	default:
		return nil
	}
}

func normalizeScopes(scopes []Scope) []Scope {
	var out []Scope
	for _, s := range scopes {
		merged := false
		for i := range out {
			switch {
			case slices.Equal(out[i].Keys, s.Keys):
				if !sameTag(out[i], s) {
					out[i].ModifyType = nil
				}
				merged = true
			case s.HasPrefix(out[i].Keys):
				out[i].ModifyType = nil
				merged = true
			case out[i].HasPrefix(s.Keys):
				out[i] = Overwrite(s.Keys...)
				merged = true
			}
			if merged {
				break
			}
		}
		if !merged {
			out = append(out, s)
		}
	}
	return dropCovered(out)
}

// dropCovered removes scopes that became nested after an earlier scope was
// widened in place.
func dropCovered(scopes []Scope) []Scope {
	out := make([]Scope, 0, len(scopes))
	for i, s := range scopes {
		covered := false
		for j, other := range scopes {
			if i == j {
				continue
			}
			if len(other.Keys) < len(s.Keys) && s.HasPrefix(other.Keys) {
				covered = true
				break
			}
			if j < i && slices.Equal(other.Keys, s.Keys) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, s)
		}
	}
	return out
}

func sameTag(a, b Scope) bool {
	if a.ModifyType == nil || b.ModifyType == nil {
		return false
	}
	return *a.ModifyType == *b.ModifyType
}
