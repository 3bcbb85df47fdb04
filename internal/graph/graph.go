// Package graph flattens a branching action history into a single ordered
// list of entries, newest first, and renders it as an ASCII log.
//
// Every branch is walked with the same first-parent history function. At
// each step the branch whose pending action is deepest is emitted; since a
// descendant is always deeper than its ancestors, all branches that lead to
// an action have arrived there by the time it is emitted.
package graph

import (
	"context"
	"fmt"

	"github.com/roach88/avcs/internal/dag"
)

// Entry is one flattened action with its edges in both directions.
type Entry[T, U any] struct {
	// ParentIDs are the ids the action points at.
	ParentIDs []string
	// ChildIDs are the emitted actions that point at this one.
	ChildIDs []string
	Action   dag.Action[T, U]
}

// HistoryFunc returns the first-parent walk starting at id, newest first.
type HistoryFunc[T, U any] func(id string) dag.Sequence[T, U]

type branch[T, U any] struct {
	seq    dag.Sequence[T, U]
	action dag.Action[T, U]
	prev   string
}

func startBranch[T, U any](ctx context.Context, history HistoryFunc[T, U], id, prev string) (*branch[T, U], bool, error) {
	seq := history(id)
	a, ok, err := seq.Next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return &branch[T, U]{seq: seq, action: a, prev: prev}, true, nil
}

// deepest returns the branch with the greatest pending depth; ties go to
// the earliest branch.
func deepest[T, U any](branches []*branch[T, U]) int {
	target, depth := 0, 0
	for i, b := range branches {
		if b.action.Depth > depth {
			target, depth = i, b.action.Depth
		}
	}
	return target
}

// Walk emits the graph reachable from startID to yield, one entry at a
// time. A yield error stops the walk and is returned.
func Walk[T, U any](ctx context.Context, history HistoryFunc[T, U], startID string, yield func(Entry[T, U]) error) error {
	first, ok, err := startBranch(ctx, history, startID, "")
	if err != nil {
		return fmt.Errorf("start graph walk: %w", err)
	}
	if !ok {
		return nil
	}
	branches := []*branch[T, U]{first}

	for len(branches) > 0 {
		idx := deepest(branches)
		b := branches[idx]
		a := b.action

		var children []string
		if b.prev != "" {
			children = append(children, b.prev)
		}
		// Branches that converged here contribute their child and retire.
		kept := branches[:0]
		for i, other := range branches {
			if i != idx && other.action.ID == a.ID {
				children = append(children, other.prev)
				continue
			}
			kept = append(kept, other)
		}
		branches = kept
		idx = indexOf(branches, b)

		if err := yield(Entry[T, U]{ParentIDs: a.ParentIDs(), ChildIDs: children, Action: a}); err != nil {
			return err
		}

		if a.Kind == dag.KindMerge {
			for _, p := range a.Parents[1:] {
				nb, ok, err := startBranch(ctx, history, p.ID, a.ID)
				if err != nil {
					return fmt.Errorf("walk merge parent %s: %w", p.ID, err)
				}
				if ok {
					branches = append(branches, nb)
				}
			}
		}

		next, ok, err := b.seq.Next(ctx)
		if err != nil {
			return fmt.Errorf("walk graph: %w", err)
		}
		if !ok {
			branches = append(branches[:idx], branches[idx+1:]...)
			continue
		}
		b.prev, b.action = a.ID, next
	}
	return nil
}

func indexOf[T, U any](branches []*branch[T, U], b *branch[T, U]) int {
	for i, other := range branches {
		if other == b {
			return i
		}
	}
	return -1
}

// Flatten collects Walk into a slice.
func Flatten[T, U any](ctx context.Context, history HistoryFunc[T, U], startID string) ([]Entry[T, U], error) {
	var out []Entry[T, U]
	err := Walk(ctx, history, startID, func(e Entry[T, U]) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
