// Package merge partitions the exclusive actions of two branches into the
// replay lists each side needs to reach the merged state.
//
// Both branches are folded into scope-domain trees which are then walked in
// lock-step. Work that touches disjoint scopes, or the same leaf with one
// commutative tag, is simply crossed over: left's actions become replay
// instructions for right and vice versa. Everything else is handed to a
// Resolver, one call per alias-linked conflict group.
package merge

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/domain"
)

// Conflict describes one group of incompatible changes.
type Conflict[T, U any] struct {
	// Paths are the key paths of every node in the group.
	Paths [][]string

	// Left and Right are each side's actions touching the group, oldest
	// first, each action at most once.
	Left  []dag.Action[T, U]
	Right []dag.Action[T, U]
}

// Resolution is a resolver's answer. Left is replayed on top of the left
// branch and Right on top of the right branch, verbatim.
type Resolution[T, U any] struct {
	Left  []dag.Action[T, U]
	Right []dag.Action[T, U]
}

// Resolver settles conflicts the engine cannot merge on its own.
type Resolver[T, U any] interface {
	Resolve(ctx context.Context, c Conflict[T, U]) (Resolution[T, U], error)
}

// Result is the outcome of Merge.
type Result[T, U any] struct {
	// Left must be applied on the left tip to reach the merged state.
	Left []dag.Action[T, U]
	// Right must be applied on the right tip to reach the merged state.
	Right []dag.Action[T, U]
	// Conflicts is the number of resolver calls made.
	Conflicts int
}

type workItem struct {
	path        []string
	left, right int
}

type engine[T, U any] struct {
	left, right *domain.Tree[T, U]
	resolver    Resolver[T, U]

	skipLeft, skipRight map[int]bool

	// Plain cross-assignments keyed by input order. toLeft holds right-side
	// actions, toRight holds left-side actions.
	toLeft, toRight map[int]dag.Action[T, U]

	// Orders already handed to the resolver; never cross-assigned again.
	resolvedLeft, resolvedRight map[int]bool

	result Result[T, U]
}

// Merge computes the replay lists for two branches. left and right are each
// branch's exclusive actions oldest first, without the common ancestor.
func Merge[T, U any](
	ctx context.Context,
	left, right []dag.Action[T, U],
	scopesOf dag.ScopeFunc[T],
	resolver Resolver[T, U],
) (Result[T, U], error) {
	lt, err := domain.Build(left, scopesOf)
	if err != nil {
		return Result[T, U]{}, fmt.Errorf("build left domain: %w", err)
	}
	rt, err := domain.Build(right, scopesOf)
	if err != nil {
		return Result[T, U]{}, fmt.Errorf("build right domain: %w", err)
	}

	e := &engine[T, U]{
		left:          lt,
		right:         rt,
		resolver:      resolver,
		skipLeft:      make(map[int]bool),
		skipRight:     make(map[int]bool),
		toLeft:        make(map[int]dag.Action[T, U]),
		toRight:       make(map[int]dag.Action[T, U]),
		resolvedLeft:  make(map[int]bool),
		resolvedRight: make(map[int]bool),
	}
	if err := e.run(ctx); err != nil {
		return Result[T, U]{}, err
	}

	e.result.Left = slices.Concat(e.crossed(e.toLeft, e.resolvedRight), e.result.Left)
	e.result.Right = slices.Concat(e.crossed(e.toRight, e.resolvedLeft), e.result.Right)
	return e.result, nil
}

func (e *engine[T, U]) run(ctx context.Context) error {
	queue := []workItem{{path: nil, left: 0, right: 0}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := queue[0]
		queue = queue[1:]

		ln := e.node(e.left, e.skipLeft, item.left)
		rn := e.node(e.right, e.skipRight, item.right)
		if ln == nil && rn == nil {
			continue
		}

		switch {
		case ln == nil && len(rn.Aliases) == 0:
			e.cross(e.toLeft, rn.Actions)
		case rn == nil && len(ln.Aliases) == 0:
			e.cross(e.toRight, ln.Actions)
		case ln != nil && rn != nil && !ln.Triggered && !rn.Triggered:
			queue = append(queue, e.children(item.path, ln, rn)...)
		default:
			if err := e.group(ctx, item.path); err != nil {
				return err
			}
		}
	}
	return nil
}

// node returns the live node for id, or nil when it is absent, empty or
// already handled.
func (e *engine[T, U]) node(t *domain.Tree[T, U], skip map[int]bool, id int) *domain.Node[T, U] {
	if id < 0 || skip[id] {
		return nil
	}
	n := t.Node(id)
	if n.Empty() {
		return nil
	}
	return n
}

func (e *engine[T, U]) children(path []string, ln, rn *domain.Node[T, U]) []workItem {
	var items []workItem
	for _, key := range ln.Keys() {
		lid, _ := ln.Child(key)
		rid, ok := rn.Child(key)
		if !ok {
			rid = -1
		}
		items = append(items, workItem{path: append(slices.Clip(path), key), left: lid, right: rid})
	}
	for _, key := range rn.Keys() {
		if _, ok := ln.Child(key); ok {
			continue
		}
		rid, _ := rn.Child(key)
		items = append(items, workItem{path: append(slices.Clip(path), key), left: -1, right: rid})
	}
	return items
}

// group handles the alias-closed conflict group reachable from path.
func (e *engine[T, U]) group(ctx context.Context, start []string) error {
	paths := e.closure(start)

	conflict := false
	var leftEntries, rightEntries []domain.Entry[T, U]
	for _, p := range paths {
		ln := e.lookup(e.left, e.skipLeft, p)
		rn := e.lookup(e.right, e.skipRight, p)
		if ln != nil && rn != nil && !ln.Claim.Compatible(rn.Claim) {
			conflict = true
		}
		if ln != nil {
			leftEntries = append(leftEntries, ln.Actions...)
		}
		if rn != nil {
			rightEntries = append(rightEntries, rn.Actions...)
		}
	}
	for _, p := range paths {
		markSubtree(e.left, e.skipLeft, p)
		markSubtree(e.right, e.skipRight, p)
	}

	if !conflict {
		e.cross(e.toRight, leftEntries)
		e.cross(e.toLeft, rightEntries)
		return nil
	}

	left := e.claim(leftEntries, e.resolvedLeft)
	right := e.claim(rightEntries, e.resolvedRight)
	res, err := e.resolver.Resolve(ctx, Conflict[T, U]{Paths: paths, Left: left, Right: right})
	if err != nil {
		return dag.NewConflictResolutionError(paths, err)
	}
	e.result.Conflicts++
	e.result.Left = append(e.result.Left, res.Left...)
	e.result.Right = append(e.result.Right, res.Right...)
	return nil
}

// closure collects start plus every alias path reachable from it on either
// side, transitively.
func (e *engine[T, U]) closure(start []string) [][]string {
	paths := [][]string{start}
	for i := 0; i < len(paths); i++ {
		for _, t := range []*domain.Tree[T, U]{e.left, e.right} {
			id, ok := t.Lookup(paths[i])
			if !ok {
				continue
			}
			for _, alias := range t.Node(id).Aliases {
				if !slices.ContainsFunc(paths, func(p []string) bool { return slices.Equal(p, alias) }) {
					paths = append(paths, alias)
				}
			}
		}
	}
	return paths
}

func (e *engine[T, U]) lookup(t *domain.Tree[T, U], skip map[int]bool, path []string) *domain.Node[T, U] {
	id, ok := t.Lookup(path)
	if !ok {
		return nil
	}
	return e.node(t, skip, id)
}

func markSubtree[T, U any](t *domain.Tree[T, U], skip map[int]bool, path []string) {
	id, ok := t.Lookup(path)
	if !ok {
		return
	}
	stack := []int{id}
	for len(stack) > 0 {
		n := t.Node(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		skip[n.ID] = true
		for _, key := range n.Keys() {
			child, _ := n.Child(key)
			stack = append(stack, child)
		}
	}
}

func (e *engine[T, U]) cross(dst map[int]dag.Action[T, U], entries []domain.Entry[T, U]) {
	for _, en := range entries {
		dst[en.Order] = en.Action
	}
}

// claim dedups entries by order, sorts them and records them as resolved.
func (e *engine[T, U]) claim(entries []domain.Entry[T, U], resolved map[int]bool) []dag.Action[T, U] {
	byOrder := make(map[int]dag.Action[T, U], len(entries))
	for _, en := range entries {
		if resolved[en.Order] {
			continue
		}
		byOrder[en.Order] = en.Action
		resolved[en.Order] = true
	}
	return sortedByOrder(byOrder, nil)
}

// crossed returns the plain assignments in dst minus anything a resolver
// already took, oldest first.
func (e *engine[T, U]) crossed(dst map[int]dag.Action[T, U], resolved map[int]bool) []dag.Action[T, U] {
	return sortedByOrder(dst, resolved)
}

func sortedByOrder[T, U any](m map[int]dag.Action[T, U], exclude map[int]bool) []dag.Action[T, U] {
	orders := make([]int, 0, len(m))
	for o := range m {
		if !exclude[o] {
			orders = append(orders, o)
		}
	}
	slices.Sort(orders)
	out := make([]dag.Action[T, U], len(orders))
	for i, o := range orders {
		out[i] = m[o]
	}
	return out
}
