// Package machine is the orchestrator over an action history: it runs
// payloads, records undo and redo as new history, moves the materialized
// state between actions, and merges or syncs divergent branches.
//
// A Machine owns the external application state reached through its Payload
// for the duration of every operation. Mutating operations are serialized by
// an internal mutex.
package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/graph"
	"github.com/roach88/avcs/internal/merge"
)

// Storage persists actions and the current pointer.
// Get returns an error matching dag.ErrNotFound for unknown ids.
type Storage[T, U any] interface {
	Get(ctx context.Context, id string) (dag.Action[T, U], error)
	Set(ctx context.Context, id string, a dag.Action[T, U]) error
	GetCurrent(ctx context.Context) (dag.Action[T, U], error)
	SetCurrent(ctx context.Context, id string) error
}

// Committer is implemented by storages that can persist an action and make
// it current in one atomic step.
type Committer[T, U any] interface {
	Commit(ctx context.Context, a dag.Action[T, U]) error
}

// Payload applies and reverses payloads against the application state.
type Payload[T, U any] interface {
	// Scopes reports the locations data touches.
	Scopes(data T) []dag.Scope
	// Reverse returns the payload that undoes data, given the undo value
	// produced when data was applied.
	Reverse(data T, undo U) T
	// Run applies data and returns its undo value.
	Run(ctx context.Context, data T) (U, error)
}

// Remote is the peer side of Sync.
type Remote[T, U any] interface {
	// Fetch returns the page of the peer's first-parent history that
	// follows lastID, newest first. lastID is empty for the first page,
	// which starts at fromID, or at the peer's current action when fromID
	// is empty. An empty page ends the history.
	Fetch(ctx context.Context, fromID, lastID string) ([]dag.Action[T, U], error)
	// Submit hands the peer the actions it lacks, oldest first.
	Submit(ctx context.Context, actions []dag.Action[T, U]) error
}

// Observer receives operation outcomes, for metrics.
type Observer interface {
	OperationDone(op string, elapsed time.Duration, err error)
	Replayed(direction string, steps int)
	Conflicts(n int)
}

type nopObserver struct{}

func (nopObserver) OperationDone(string, time.Duration, error) {}
func (nopObserver) Replayed(string, int) {}
func (nopObserver) Conflicts(int) {}

// Replay directions reported to Observer.Replayed.
const (
	DirectionUndo = "undo"
	DirectionRedo = "redo"
)

// FirstParent is the branch index History follows through Merge actions.
// Every walk, and therefore every diverge and checkout path, crosses a
// Merge through this parent.
const FirstParent = 0

// Machine orchestrates one history.
type Machine[T, U any] struct {
	mu       sync.Mutex
	storage  Storage[T, U]
	payload  Payload[T, U]
	resolver merge.Resolver[T, U]
	ids      dag.IDGenerator
	logger   *slog.Logger
	observer Observer
}

// Option configures a Machine.
type Option func(*options)

type options struct {
	ids      dag.IDGenerator
	logger   *slog.Logger
	observer Observer
}

// WithIDGenerator sets the id source. Default: dag.UUIDv7Generator.
func WithIDGenerator(g dag.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// New creates a Machine.
func New[T, U any](storage Storage[T, U], payload Payload[T, U], resolver merge.Resolver[T, U], opts ...Option) *Machine[T, U] {
	o := options{
		ids:      dag.UUIDv7Generator{},
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Machine[T, U]{
		storage:  storage,
		payload:  payload,
		resolver: resolver,
		ids:      o.ids,
		logger:   o.logger,
		observer: o.observer,
	}
}

func (m *Machine[T, U]) observe(op string, start time.Time, err *error) {
	m.observer.OperationDone(op, time.Since(start), *err)
	if *err != nil {
		m.logger.Debug("operation failed", "op", op, "error", *err)
	}
}

// commit persists a and makes it current.
func (m *Machine[T, U]) commit(ctx context.Context, a dag.Action[T, U]) error {
	if c, ok := m.storage.(Committer[T, U]); ok {
		if err := c.Commit(ctx, a); err != nil {
			return fmt.Errorf("commit action %s: %w", a.ID, err)
		}
		return nil
	}
	if err := m.storage.Set(ctx, a.ID, a); err != nil {
		return fmt.Errorf("store action %s: %w", a.ID, err)
	}
	if err := m.storage.SetCurrent(ctx, a.ID); err != nil {
		return fmt.Errorf("set current %s: %w", a.ID, err)
	}
	return nil
}

// sideEffectsLost logs an abort that happened after the payload already
// changed application state.
func (m *Machine[T, U]) sideEffectsLost(op string, applied int, err error) {
	m.logger.Error("operation aborted after applying side effects",
		"op", op,
		"applied", applied,
		"error", err)
}

// Init records the root action and makes it current.
func (m *Machine[T, U]) Init(ctx context.Context) (a dag.Action[T, U], err error) {
	defer m.observe("init", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	a = dag.NewInit[T, U](m.ids.Generate(nil))
	if err := m.commit(ctx, a); err != nil {
		return dag.Action[T, U]{}, err
	}
	m.logger.Info("history initialized", "id", a.ID)
	return a, nil
}

// Current returns the current action.
func (m *Machine[T, U]) Current(ctx context.Context) (dag.Action[T, U], error) {
	return m.storage.GetCurrent(ctx)
}

// Get returns the action with the given id.
func (m *Machine[T, U]) Get(ctx context.Context, id string) (dag.Action[T, U], error) {
	return m.storage.Get(ctx, id)
}

// History walks from id towards the root, newest first, following
// FirstParent through Merge actions. The walk reads storage lazily.
func (m *Machine[T, U]) History(id string) dag.Sequence[T, U] {
	next := id
	return dag.SequenceFunc[T, U](func(ctx context.Context) (dag.Action[T, U], bool, error) {
		if next == "" {
			return dag.Action[T, U]{}, false, nil
		}
		a, err := m.storage.Get(ctx, next)
		if err != nil {
			return dag.Action[T, U]{}, false, fmt.Errorf("walk history: %w", err)
		}
		parents := a.ParentIDs()
		if len(parents) > FirstParent {
			next = parents[FirstParent]
		} else {
			next = ""
		}
		return a, true, nil
	})
}

// Graph flattens the DAG reachable from startID, following every branch of
// every Merge. An empty startID starts at the current action.
func (m *Machine[T, U]) Graph(ctx context.Context, startID string) ([]graph.Entry[T, U], error) {
	if startID == "" {
		cur, err := m.storage.GetCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("get current: %w", err)
		}
		startID = cur.ID
	}
	return graph.Flatten[T, U](ctx, m.History, startID)
}

// Run applies data and records it as a Normal action on top of current.
func (m *Machine[T, U]) Run(ctx context.Context, data T) (a dag.Action[T, U], err error) {
	defer m.observe("run", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.record(ctx, "run", data, "")
}

// record applies data on the current state and commits a Normal action.
func (m *Machine[T, U]) record(ctx context.Context, op string, data T, undoID string) (dag.Action[T, U], error) {
	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	undo, err := m.payload.Run(ctx, data)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("run payload: %w", err)
	}

	a := dag.NewNormal(m.ids.Generate([]string{cur.ID}), cur, data, undo)
	a.UndoID = undoID
	if err := m.commit(ctx, a); err != nil {
		m.sideEffectsLost(op, 1, err)
		return dag.Action[T, U]{}, err
	}
	m.logger.Debug("action recorded", "op", op, "id", a.ID, "parent", cur.ID)
	return a, nil
}

// Undo records a Normal action that reverses the action id. Merge actions
// cannot be undone this way; use UndoMerge and name the branch.
func (m *Machine[T, U]) Undo(ctx context.Context, id string) (a dag.Action[T, U], err error) {
	defer m.observe("undo", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.undo(ctx, id)
}

// UndoLast undoes the current action.
func (m *Machine[T, U]) UndoLast(ctx context.Context) (a dag.Action[T, U], err error) {
	defer m.observe("undo", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.storage.GetCurrent(ctx)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	return m.undo(ctx, cur.ID)
}

func (m *Machine[T, U]) undo(ctx context.Context, id string) (dag.Action[T, U], error) {
	target, err := m.storage.Get(ctx, id)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("load action to undo: %w", err)
	}
	switch target.Kind {
	case dag.KindMerge:
		e := dag.NewUnknownBranchError(target.ID, "")
		e.Message = "undoing a merge requires a parent branch, use UndoMerge"
		return dag.Action[T, U]{}, e
	case dag.KindInit:
		return dag.Action[T, U]{}, dag.NewInvalidActionError(target.ID, "init cannot be undone")
	}
	return m.record(ctx, "undo", m.payload.Reverse(target.Data, target.UndoData), target.ID)
}

// UndoMerge reverts the state introduced by the merge mergeID back to what
// its parent parentID held, recording one Normal action per replayed step.
// It returns the recorded actions; the last one is the new current.
func (m *Machine[T, U]) UndoMerge(ctx context.Context, mergeID, parentID string) (actions []dag.Action[T, U], err error) {
	defer m.observe("undo", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.storage.Get(ctx, mergeID)
	if err != nil {
		return nil, fmt.Errorf("load merge to undo: %w", err)
	}
	if target.Kind != dag.KindMerge {
		return nil, dag.NewInvalidActionError(target.ID, "not a merge action")
	}
	ops, err := m.undoOps(target, parentID)
	if err != nil {
		return nil, err
	}
	for _, data := range ops {
		a, err := m.record(ctx, "undo", data, target.ID)
		if err != nil {
			if len(actions) > 0 {
				m.sideEffectsLost("undo", len(actions), err)
			}
			return actions, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Redo records a Normal action that re-applies the payload of id.
func (m *Machine[T, U]) Redo(ctx context.Context, id string) (a dag.Action[T, U], err error) {
	defer m.observe("redo", time.Now(), &err)
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.storage.Get(ctx, id)
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("load action to redo: %w", err)
	}
	if target.Kind != dag.KindNormal {
		return dag.Action[T, U]{}, dag.NewInvalidActionError(target.ID, fmt.Sprintf("cannot redo %s action", target.Kind))
	}
	return m.record(ctx, "redo", target.Data, "")
}
