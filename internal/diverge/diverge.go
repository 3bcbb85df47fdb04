// Package diverge finds where two newest-first histories last shared an
// action.
package diverge

import (
	"context"

	"github.com/roach88/avcs/internal/dag"
)

// Path is the result of Find. Left and Right each run from their tip down to
// and including the common ancestor, so both end in the same action.
type Path[T, U any] struct {
	Left  []dag.Action[T, U]
	Right []dag.Action[T, U]
}

// Base returns the common ancestor.
func (p Path[T, U]) Base() dag.Action[T, U] {
	return p.Left[len(p.Left)-1]
}

// LeftExclusive returns the left stack without the common ancestor.
func (p Path[T, U]) LeftExclusive() []dag.Action[T, U] {
	return p.Left[:len(p.Left)-1]
}

// RightExclusive returns the right stack without the common ancestor.
func (p Path[T, U]) RightExclusive() []dag.Action[T, U] {
	return p.Right[:len(p.Right)-1]
}

// LeftIsBase reports whether the left tip is the common ancestor, meaning
// right is a fast-forward of left.
func (p Path[T, U]) LeftIsBase() bool {
	return len(p.Left) == 1
}

// RightIsBase reports whether the right tip is the common ancestor.
func (p Path[T, U]) RightIsBase() bool {
	return len(p.Right) == 1
}

// Find pulls one action from each sequence per round until an id shows up
// on both sides. When one side runs out it keeps draining the other alone.
//
// A Merge also meets the other side through its later parents. When one side
// stacks a Merge whose later parent is on the other stack, the walks meet
// there and that side's stack ends by crossing the Merge into that parent.
// Work merged before is then not counted as exclusive again.
//
// If both sequences end without meeting, Find returns the partial stacks
// together with a NoCommonAncestor error.
func Find[T, U any](ctx context.Context, left, right dag.Sequence[T, U]) (Path[T, U], error) {
	l := newWalk(left)
	r := newWalk(right)

	for {
		la, lok, err := l.next(ctx)
		if err != nil {
			return Path[T, U]{Left: l.stack, Right: r.stack}, err
		}
		ra, rok, err := r.next(ctx)
		if err != nil {
			return Path[T, U]{Left: l.stack, Right: r.stack}, err
		}
		if !lok && !rok {
			return Path[T, U]{Left: l.stack, Right: r.stack}, dag.NewNoCommonAncestorError(len(l.stack), len(r.stack))
		}

		if lok && l.meet(la, r) {
			return Path[T, U]{Left: l.stack, Right: r.stack}, nil
		}
		if rok && r.meet(ra, l) {
			return Path[T, U]{Left: l.stack, Right: r.stack}, nil
		}
	}
}

// walk is one side of Find.
type walk[T, U any] struct {
	seq   dag.Sequence[T, U]
	stack []dag.Action[T, U]
	seen  map[string]int // id -> stack position
	via   map[string]int // later parent of a stacked Merge -> the Merge's position
	done  bool
}

func newWalk[T, U any](seq dag.Sequence[T, U]) *walk[T, U] {
	return &walk[T, U]{seq: seq, seen: make(map[string]int), via: make(map[string]int)}
}

func (w *walk[T, U]) next(ctx context.Context) (dag.Action[T, U], bool, error) {
	if w.done {
		return dag.Action[T, U]{}, false, nil
	}
	a, ok, err := w.seq.Next(ctx)
	if err != nil {
		return a, false, err
	}
	w.done = !ok
	return a, ok, nil
}

// meet stacks a and reports whether it joins w with other. On a meeting
// both stacks are cut so they end in the same action.
func (w *walk[T, U]) meet(a dag.Action[T, U], other *walk[T, U]) bool {
	if pos, ok := other.seen[a.ID]; ok {
		other.stack = other.stack[:pos+1]
		w.stack = append(w.stack, a)
		return true
	}
	if pos, ok := other.via[a.ID]; ok {
		other.stack = append(other.stack[:pos+1], a)
		w.stack = append(w.stack, a)
		return true
	}
	later := a.MergedIDs()
	for _, id := range later {
		if pos, ok := other.seen[id]; ok {
			base := other.stack[pos]
			other.stack = other.stack[:pos+1]
			w.stack = append(w.stack, a, base)
			return true
		}
	}

	w.seen[a.ID] = len(w.stack)
	for _, id := range later {
		if _, ok := w.via[id]; !ok {
			w.via[id] = len(w.stack)
		}
	}
	w.stack = append(w.stack, a)
	return false
}
