package machine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/diverge"
	"github.com/roach88/avcs/internal/merge"
)

func (m *Machine[T, U]) diverge(ctx context.Context, fromID string, right dag.Sequence[T, U]) (diverge.Path[T, U], error) {
	path, err := diverge.Find(ctx, m.History(fromID), right)
	if err != nil {
		return path, fmt.Errorf("find diverging path: %w", err)
	}
	return path, nil
}

// Merge joins the history of targetID into the current one.
//
// If the current action is an ancestor of the target, state is replayed
// forward and the target becomes current with no Merge action. If the
// target is an ancestor of the current action nothing happens. Otherwise a
// Merge action with two parent records is committed and returned.
func (m *Machine[T, U]) Merge(ctx context.Context, targetID string) (a dag.Action[T, U], err error) {
	defer m.observe("merge", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	target, err := m.storage.Get(ctx, targetID)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("load merge target: %w", err)
	}
	path, err := m.diverge(ctx, cur.ID, m.History(target.ID))
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	return m.mergePath(ctx, "merge", cur, path)
}

func (m *Machine[T, U]) mergePath(ctx context.Context, op string, cur dag.Action[T, U], path diverge.Path[T, U]) (dag.Action[T, U], error) {
	tip := path.Right[0]
	switch {
	case path.RightIsBase():
		m.logger.Debug("already up to date", "op", op, "current", cur.ID, "target", tip.ID)
		return cur, nil
	case path.LeftIsBase():
		n, err := m.forceRedo(ctx, path.Right)
		if err != nil {
			if n > 0 {
				m.sideEffectsLost(op, n, err)
			}
			return dag.Action[T, U]{}, err
		}
		if err := m.storage.SetCurrent(ctx, tip.ID); err != nil {
			m.sideEffectsLost(op, n, err)
			return dag.Action[T, U]{}, fmt.Errorf("set current %s: %w", tip.ID, err)
		}
		m.logger.Info("fast-forwarded", "op", op, "from", cur.ID, "to", tip.ID, "steps", n)
		return tip, nil
	}

	base := path.Base().ID
	leftEx, err := crossing(path.LeftExclusive(), base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	rightEx, err := crossing(path.RightExclusive(), base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}

	res, err := merge.Merge(ctx, oldestFirst(leftEx), oldestFirst(rightEx), m.payload.Scopes, m.resolver)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	m.observer.Conflicts(res.Conflicts)

	leftReplay, err := replayPairs(res.Left, rightEx, base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	rightReplay, err := replayPairs(res.Right, leftEx, base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	leftOwn, err := flatten(leftEx, base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	rightOwn, err := flatten(rightEx, base)
	if err != nil {
		return dag.Action[T, U]{}, err
	}

	applied, err := m.apply(ctx, leftReplay)
	if err != nil {
		if len(applied) > 0 {
			m.sideEffectsLost(op, len(applied), err)
		}
		return dag.Action[T, U]{}, err
	}

	parents := []dag.ParentBranch[T, U]{
		branchRecord(cur.ID, applied, leftOwn),
		branchRecord(tip.ID, rightReplay, rightOwn),
	}
	ma := dag.NewMerge(m.ids.Generate([]string{cur.ID, tip.ID}), parents, []int{cur.Depth, tip.Depth})
	if err := m.commit(ctx, ma); err != nil {
		m.sideEffectsLost(op, len(applied), err)
		return dag.Action[T, U]{}, err
	}
	m.logger.Info("merge committed",
		"op", op,
		"id", ma.ID,
		"left", cur.ID,
		"right", tip.ID,
		"base", base,
		"replayed", len(applied),
		"conflicts", res.Conflicts)
	return ma, nil
}

// branchRecord builds a parent record from the cross list and the branch's
// own segment, both oldest first.
func branchRecord[T, U any](id string, cross, own []pair[T, U]) dag.ParentBranch[T, U] {
	cd, cu := nearestFirst(cross)
	od, ou := nearestFirst(own)
	return dag.ParentBranch[T, U]{
		ID:       id,
		Data:     slices.Concat(cd, od),
		UndoData: slices.Concat(cu, ou),
		Cross:    len(cd),
	}
}

// replayPairs flattens merge output into pairs. A Merge action is crossed
// from the entry below it in the stack it came from; actions a resolver made
// up are crossed from their first parent.
func replayPairs[T, U any](actions, source []dag.Action[T, U], base string) ([]pair[T, U], error) {
	pos := make(map[string]int, len(source))
	for k, a := range source {
		pos[a.ID] = k
	}
	var out []pair[T, U]
	for _, a := range actions {
		from := ""
		if a.Kind == dag.KindMerge {
			from = a.Parents[FirstParent].ID
			if k, ok := pos[a.ID]; ok {
				from = base
				if k+1 < len(source) {
					from = source[k+1].ID
				}
			}
		}
		ps, err := crossPairs(a, from)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// crossing narrows every Merge in a newest-first stack segment to the one
// record the walk crosses it from, holding only the crossed pairs. Scopes
// and replay of a narrowed Merge then cover just what it adds on top of the
// entry below it.
func crossing[T, U any](stack []dag.Action[T, U], base string) ([]dag.Action[T, U], error) {
	out := slices.Clone(stack)
	for k, a := range out {
		if a.Kind != dag.KindMerge {
			continue
		}
		from := base
		if k+1 < len(out) {
			from = out[k+1].ID
		}
		ps, err := crossPairs(a, from)
		if err != nil {
			return nil, err
		}
		data, undo := nearestFirst(ps)
		a.Parents = []dag.ParentBranch[T, U]{{ID: from, Data: data, UndoData: undo, Cross: len(data)}}
		out[k] = a
	}
	return out, nil
}

func oldestFirst[T, U any](stack []dag.Action[T, U]) []dag.Action[T, U] {
	out := slices.Clone(stack)
	slices.Reverse(out)
	return out
}

// Sync merges the remote's history into the current one and submits what
// the remote lacks. The remote history is paged in lazily, in lock-step
// with the local walk. The branches behind every pulled or pushed Merge
// travel with it, so both sides keep a complete DAG. Syncing an
// uninitialized history clones the remote instead.
func (m *Machine[T, U]) Sync(ctx context.Context, remote Remote[T, U]) (a dag.Action[T, U], err error) {
	defer m.observe("sync", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if dag.IsNotFound(err) {
		return m.clone(ctx, remote)
	}
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	pages := remoteHistory(remote, "")
	path, err := m.diverge(ctx, cur.ID, pages)
	if err != nil {
		return dag.Action[T, U]{}, err
	}

	remoteEx := oldestFirst(path.RightExclusive())
	if err := m.storeRemote(ctx, remoteEx); err != nil {
		return dag.Action[T, U]{}, err
	}
	pulled, err := m.pullBranches(ctx, remote, remoteEx)
	if err != nil {
		return dag.Action[T, U]{}, err
	}

	result, err := m.mergePath(ctx, "sync", cur, path)
	if err != nil {
		return dag.Action[T, U]{}, err
	}

	submit := oldestFirst(path.LeftExclusive())
	if !path.LeftIsBase() && !path.RightIsBase() {
		submit = append(submit, result)
	}
	branches, err := m.pushBranches(ctx, path.Right[0].ID, submit)
	if err != nil {
		return result, err
	}
	submit = append(branches, submit...)
	if len(submit) > 0 {
		if err := remote.Submit(ctx, submit); err != nil {
			return result, fmt.Errorf("submit to remote: %w", err)
		}
	}
	m.logger.Info("synced",
		"current", result.ID,
		"pulled", len(remoteEx)+pulled,
		"pushed", len(submit),
		"pages", pages.Pages())
	return result, nil
}

func (m *Machine[T, U]) clone(ctx context.Context, remote Remote[T, U]) (dag.Action[T, U], error) {
	stack, err := dag.Collect[T, U](ctx, remoteHistory(remote, ""))
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("fetch remote history: %w", err)
	}
	if len(stack) == 0 {
		return dag.Action[T, U]{}, dag.NewNotFoundError("")
	}
	if root := stack[len(stack)-1]; root.Kind != dag.KindInit {
		return dag.Action[T, U]{}, dag.NewInvalidActionError(root.ID, "remote history does not reach init")
	}
	if err := m.storeRemote(ctx, oldestFirst(stack)); err != nil {
		return dag.Action[T, U]{}, err
	}
	pulled, err := m.pullBranches(ctx, remote, stack)
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	n, err := m.forceRedo(ctx, stack)
	if err != nil {
		if n > 0 {
			m.sideEffectsLost("sync", n, err)
		}
		return dag.Action[T, U]{}, err
	}
	tip := stack[0]
	if err := m.storage.SetCurrent(ctx, tip.ID); err != nil {
		m.sideEffectsLost("sync", n, err)
		return dag.Action[T, U]{}, fmt.Errorf("set current %s: %w", tip.ID, err)
	}
	m.logger.Info("cloned remote history", "current", tip.ID, "actions", len(stack)+pulled)
	return tip, nil
}

// remoteHistory pages the remote's first-parent history from fromID, or
// from its current action when fromID is empty.
func remoteHistory[T, U any](remote Remote[T, U], fromID string) *dag.PagedSequence[T, U] {
	return dag.NewPagedSequence[T, U](func(ctx context.Context, lastID string) ([]dag.Action[T, U], error) {
		return remote.Fetch(ctx, fromID, lastID)
	})
}

func (m *Machine[T, U]) storeRemote(ctx context.Context, actions []dag.Action[T, U]) error {
	for _, ra := range actions {
		if err := ra.Validate(); err != nil {
			return fmt.Errorf("remote action: %w", err)
		}
		if err := m.storage.Set(ctx, ra.ID, ra); err != nil {
			return fmt.Errorf("store remote action %s: %w", ra.ID, err)
		}
	}
	return nil
}

func (m *Machine[T, U]) has(ctx context.Context, id string) (bool, error) {
	_, err := m.storage.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case dag.IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("look up %s: %w", id, err)
	}
}

// pullBranches stores the remote history behind the merged branches of
// every Merge in actions. Each branch is paged from its tip until it
// reaches an action held locally; Merges met on the way are followed too.
// It returns how many actions were stored.
func (m *Machine[T, U]) pullBranches(ctx context.Context, remote Remote[T, U], actions []dag.Action[T, U]) (int, error) {
	pulled := 0
	queue := slices.Clone(actions)
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		for _, id := range a.MergedIDs() {
			var missing []dag.Action[T, U]
			seq := remoteHistory(remote, id)
			for {
				ra, ok, err := seq.Next(ctx)
				if err != nil {
					return pulled, fmt.Errorf("fetch merged branch %s: %w", id, err)
				}
				if !ok {
					return pulled, dag.NewNoCommonAncestorError(len(missing), 0)
				}
				known, err := m.has(ctx, ra.ID)
				if err != nil {
					return pulled, err
				}
				if known {
					break
				}
				missing = append(missing, ra)
			}
			if err := m.storeRemote(ctx, oldestFirst(missing)); err != nil {
				return pulled, err
			}
			pulled += len(missing)
			queue = append(queue, missing...)
		}
	}
	return pulled, nil
}

// pushBranches returns the local history behind the merged branches of
// every Merge in submit that the remote, whose tip is remoteTip, lacks.
// Actions already in submit are left out. The result is oldest first per
// branch.
func (m *Machine[T, U]) pushBranches(ctx context.Context, remoteTip string, submit []dag.Action[T, U]) ([]dag.Action[T, U], error) {
	sent := make(map[string]bool, len(submit))
	for _, a := range submit {
		sent[a.ID] = true
	}
	var out []dag.Action[T, U]
	queue := slices.Clone(submit)
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		for _, id := range a.MergedIDs() {
			if sent[id] {
				continue
			}
			path, err := m.diverge(ctx, id, m.History(remoteTip))
			if err != nil {
				return nil, fmt.Errorf("merged branch %s: %w", id, err)
			}
			var missing []dag.Action[T, U]
			for _, la := range path.LeftExclusive() {
				if !sent[la.ID] {
					sent[la.ID] = true
					missing = append(missing, la)
				}
			}
			out = append(out, oldestFirst(missing)...)
			queue = append(queue, missing...)
		}
	}
	return out, nil
}

// Receive is the peer side of Sync: it stores submitted actions, oldest
// first, and moves to the newest one. A submitted Merge that has the current
// action as a parent is adopted directly; anything else is merged.
func (m *Machine[T, U]) Receive(ctx context.Context, actions []dag.Action[T, U]) (a dag.Action[T, U], err error) {
	defer m.observe("receive", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	if len(actions) == 0 {
		return cur, nil
	}
	for _, ra := range actions {
		if err := ra.Validate(); err != nil {
			return dag.Action[T, U]{}, fmt.Errorf("submitted action: %w", err)
		}
		if err := m.storage.Set(ctx, ra.ID, ra); err != nil {
			return dag.Action[T, U]{}, fmt.Errorf("store submitted action %s: %w", ra.ID, err)
		}
	}

	m.logger.Debug("received actions", "ids", idsOf(actions))

	tip := actions[len(actions)-1]
	if tip.ID == cur.ID {
		return cur, nil
	}
	if _, ok := tip.Branch(cur.ID); ok && tip.Kind == dag.KindMerge {
		n, err := m.forceRedo(ctx, []dag.Action[T, U]{tip, cur})
		if err != nil {
			if n > 0 {
				m.sideEffectsLost("receive", n, err)
			}
			return dag.Action[T, U]{}, err
		}
		if err := m.storage.SetCurrent(ctx, tip.ID); err != nil {
			m.sideEffectsLost("receive", n, err)
			return dag.Action[T, U]{}, fmt.Errorf("set current %s: %w", tip.ID, err)
		}
		m.logger.Info("adopted merge", "id", tip.ID, "from", cur.ID, "steps", n)
		return tip, nil
	}

	path, err := m.diverge(ctx, cur.ID, m.History(tip.ID))
	if err != nil {
		return dag.Action[T, U]{}, err
	}
	return m.mergePath(ctx, "receive", cur, path)
}

// Page returns up to limit actions of the first-parent history that follows
// afterID, newest first. An empty afterID starts the history at fromID, or at
// the current action when fromID is empty too.
func (m *Machine[T, U]) Page(ctx context.Context, fromID, afterID string, limit int) ([]dag.Action[T, U], error) {
	start := afterID
	switch {
	case afterID == "" && fromID != "":
		if _, err := m.storage.Get(ctx, fromID); err != nil {
			return nil, fmt.Errorf("load page start: %w", err)
		}
		start = fromID
	case afterID == "":
		cur, err := m.storage.GetCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("get current: %w", err)
		}
		start = cur.ID
	default:
		after, err := m.storage.Get(ctx, afterID)
		if err != nil {
			return nil, fmt.Errorf("load page cursor: %w", err)
		}
		parents := after.ParentIDs()
		if len(parents) == 0 {
			return nil, nil
		}
		start = parents[FirstParent]
	}

	seq := m.History(start)
	var page []dag.Action[T, U]
	for len(page) < limit {
		a, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		page = append(page, a)
	}
	return page, nil
}
