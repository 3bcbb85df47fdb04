package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/avcs/internal/dag"
)

// pair is one applied payload with the undo value it produced.
type pair[T, U any] struct {
	data T
	undo U
}

// recordPairs returns a branch record's pairs in [from, to), oldest first.
// Records store pairs nearest-to-merge first, so oldest first is the
// reverse index order.
func recordPairs[T, U any](p dag.ParentBranch[T, U], from, to int) []pair[T, U] {
	out := make([]pair[T, U], 0, to-from)
	for k := to - 1; k >= from; k-- {
		out = append(out, pair[T, U]{data: p.Data[k], undo: p.UndoData[k]})
	}
	return out
}

// redoOps returns the payloads that carry state from the branch fromID of a
// into a itself, in application order.
func (m *Machine[T, U]) redoOps(a dag.Action[T, U], fromID string) ([]T, error) {
	switch a.Kind {
	case dag.KindNormal:
		return []T{a.Data}, nil
	case dag.KindMerge:
		i, ok := a.Branch(fromID)
		if !ok {
			return nil, dag.NewUnknownBranchError(a.ID, fromID)
		}
		first := a.Parents[FirstParent]
		var ops []T
		if i != FirstParent {
			// Back down to the common ancestor, then up the first branch.
			own := a.Parents[i]
			for k := own.Cross; k < own.Len(); k++ {
				ops = append(ops, m.payload.Reverse(own.Data[k], own.UndoData[k]))
			}
			for _, p := range recordPairs(first, first.Cross, first.Len()) {
				ops = append(ops, p.data)
			}
		}
		for _, p := range recordPairs(first, 0, first.Cross) {
			ops = append(ops, p.data)
		}
		return ops, nil
	default:
		return nil, nil
	}
}

// undoOps returns the payloads that carry state from a down into its branch
// toID, in application order.
func (m *Machine[T, U]) undoOps(a dag.Action[T, U], toID string) ([]T, error) {
	switch a.Kind {
	case dag.KindNormal:
		return []T{m.payload.Reverse(a.Data, a.UndoData)}, nil
	case dag.KindMerge:
		i, ok := a.Branch(toID)
		if !ok {
			return nil, dag.NewUnknownBranchError(a.ID, toID)
		}
		first := a.Parents[FirstParent]
		var ops []T
		for k := 0; k < first.Cross; k++ {
			ops = append(ops, m.payload.Reverse(first.Data[k], first.UndoData[k]))
		}
		if i != FirstParent {
			for k := first.Cross; k < first.Len(); k++ {
				ops = append(ops, m.payload.Reverse(first.Data[k], first.UndoData[k]))
			}
			own := a.Parents[i]
			for _, p := range recordPairs(own, own.Cross, own.Len()) {
				ops = append(ops, p.data)
			}
		}
		return ops, nil
	default:
		return nil, nil
	}
}

// crossPairs returns the recorded pairs that carry state from the branch
// fromID of a into a, oldest first. Only the first branch's undo data was
// captured by running the pairs. A later branch's cross list reuses the undo
// values its pairs produced on the other side, which differ only at keys a
// resolver settled.
func crossPairs[T, U any](a dag.Action[T, U], fromID string) ([]pair[T, U], error) {
	switch a.Kind {
	case dag.KindNormal:
		return []pair[T, U]{{data: a.Data, undo: a.UndoData}}, nil
	case dag.KindMerge:
		i, ok := a.Branch(fromID)
		if !ok {
			return nil, dag.NewUnknownBranchError(a.ID, fromID)
		}
		p := a.Parents[i]
		return recordPairs(p, 0, p.Cross), nil
	default:
		return nil, nil
	}
}

// flatten turns a newest-first stack segment into pairs, oldest first.
// adjacent is the id each stack entry is crossed from: the next entry, or
// base for the last one.
func flatten[T, U any](stack []dag.Action[T, U], base string) ([]pair[T, U], error) {
	var out []pair[T, U]
	for k := len(stack) - 1; k >= 0; k-- {
		from := base
		if k+1 < len(stack) {
			from = stack[k+1].ID
		}
		ps, err := crossPairs(stack[k], from)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// nearestFirst reverses pairs into the order branch records use.
func nearestFirst[T, U any](ps []pair[T, U]) ([]T, []U) {
	data := make([]T, len(ps))
	undo := make([]U, len(ps))
	for i, p := range ps {
		data[len(ps)-1-i] = p.data
		undo[len(ps)-1-i] = p.undo
	}
	return data, undo
}

// forceUndo walks state down a newest-first stack, excluding its last
// element, without recording history. It returns how many payloads ran.
func (m *Machine[T, U]) forceUndo(ctx context.Context, stack []dag.Action[T, U]) (int, error) {
	applied := 0
	for k := 0; k < len(stack)-1; k++ {
		ops, err := m.undoOps(stack[k], stack[k+1].ID)
		if err != nil {
			return applied, err
		}
		for _, data := range ops {
			if _, err := m.payload.Run(ctx, data); err != nil {
				return applied, fmt.Errorf("undo %s: %w", stack[k].ID, err)
			}
			applied++
		}
		m.logger.Debug("force undo", "id", stack[k].ID, "to", stack[k+1].ID, "steps", len(ops))
	}
	m.observer.Replayed(DirectionUndo, applied)
	return applied, nil
}

// forceRedo walks state up a newest-first stack from its last element to
// its first, without recording history.
func (m *Machine[T, U]) forceRedo(ctx context.Context, stack []dag.Action[T, U]) (int, error) {
	applied := 0
	for k := len(stack) - 2; k >= 0; k-- {
		ops, err := m.redoOps(stack[k], stack[k+1].ID)
		if err != nil {
			return applied, err
		}
		for _, data := range ops {
			if _, err := m.payload.Run(ctx, data); err != nil {
				return applied, fmt.Errorf("redo %s: %w", stack[k].ID, err)
			}
			applied++
		}
		m.logger.Debug("force redo", "id", stack[k].ID, "from", stack[k+1].ID, "steps", len(ops))
	}
	m.observer.Replayed(DirectionRedo, applied)
	return applied, nil
}

// apply runs pairs in order and returns them with the undo values this run
// produced.
func (m *Machine[T, U]) apply(ctx context.Context, ps []pair[T, U]) ([]pair[T, U], error) {
	out := make([]pair[T, U], 0, len(ps))
	for _, p := range ps {
		undo, err := m.payload.Run(ctx, p.data)
		if err != nil {
			return out, fmt.Errorf("replay payload: %w", err)
		}
		out = append(out, pair[T, U]{data: p.data, undo: undo})
	}
	m.observer.Replayed(DirectionRedo, len(out))
	return out, nil
}

// Checkout moves the materialized state to targetID and makes it current.
// No history is recorded.
func (m *Machine[T, U]) Checkout(ctx context.Context, targetID string) (a dag.Action[T, U], err error) {
	defer m.observe("checkout", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	target, err := m.storage.Get(ctx, targetID)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("load checkout target: %w", err)
	}
	if cur.ID == target.ID {
		return cur, nil
	}
	if err := m.travel(ctx, "checkout", cur.ID, target.ID); err != nil {
		return dag.Action[T, U]{}, err
	}
	if err := m.storage.SetCurrent(ctx, target.ID); err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("set current %s: %w", target.ID, err)
	}
	m.logger.Info("checked out", "from", cur.ID, "to", target.ID)
	return target, nil
}

// travel moves state from fromID to toID along their diverging path.
func (m *Machine[T, U]) travel(ctx context.Context, op, fromID, toID string) error {
	path, err := m.diverge(ctx, fromID, m.History(toID))
	if err != nil {
		return err
	}
	undone, err := m.forceUndo(ctx, path.Left)
	if err != nil {
		if undone > 0 {
			m.sideEffectsLost(op, undone, err)
		}
		return err
	}
	redone, err := m.forceRedo(ctx, path.Right)
	if err != nil {
		if undone+redone > 0 {
			m.sideEffectsLost(op, undone+redone, err)
		}
		return err
	}
	return nil
}

// Materialize replays the current history from Init onto the payload's
// state, which must be empty. Storage is left untouched.
func (m *Machine[T, U]) Materialize(ctx context.Context) (err error) {
	defer m.observe("materialize", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return fmt.Errorf("get current: %w", err)
	}
	stack, err := dag.Collect(ctx, m.History(cur.ID))
	if err != nil {
		return err
	}
	if len(stack) == 0 || stack[len(stack)-1].Kind != dag.KindInit {
		return dag.NewInvalidActionError(cur.ID, "history does not reach init")
	}
	n, err := m.forceRedo(ctx, stack)
	if err != nil {
		return err
	}
	m.logger.Debug("materialized", "current", cur.ID, "steps", n)
	return nil
}

// idsOf returns the ids of actions, for logging.
func idsOf[T, U any](actions []dag.Action[T, U]) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}
