package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/graph"
	"github.com/roach88/avcs/internal/ir"
	"github.com/roach88/avcs/internal/machine"
	"github.com/roach88/avcs/internal/store"
	"github.com/roach88/avcs/internal/testutil"
)

type docMachine = machine.Machine[doc.Op, doc.Undo]

// Harness is the test execution engine for one scenario.
// Ids come from a sequence generator so traces are identical across runs.
type Harness struct {
	machine  *docMachine
	store    *store.Memory[doc.Op, doc.Undo]
	state    *doc.State
	resolver *doc.PolicyResolver
	labels   map[string]string
	logger   *slog.Logger
}

// Run executes a scenario against a fresh machine and returns the result.
//
// A step that fails unexpectedly, or succeeds when an error was expected,
// fails the result and stops the run; the final state and graph are still
// captured. Run itself only errors when the harness cannot be set up.
func Run(scenario *Scenario) (*Result, error) {
	policy, err := scenario.Resolve.policy()
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}
	resolver, err := doc.NewPolicyResolver(policy)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store:    store.NewMemory[doc.Op, doc.Undo](),
		state:    doc.NewState(),
		resolver: resolver,
		labels:   map[string]string{},
		logger:   logger,
	}
	h.machine = machine.New[doc.Op, doc.Undo](h.store, h.state, resolver,
		machine.WithIDGenerator(testutil.NewSeqGenerator("a")),
		machine.WithLogger(logger),
	)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if !h.executeStep(ctx, i, step, result) {
			break
		}
	}

	result.State = h.state.Snapshot()
	result.ResolverCalls = resolver.Calls()
	entries, err := h.machine.Graph(ctx, "")
	if err != nil {
		result.AddError(fmt.Sprintf("graph: %v", err))
	} else {
		result.Graph = graph.Render(entries, describe)
	}

	for _, msg := range h.evaluate(ctx, scenario.Expect, result, len(entries)) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and traces it. It reports whether the run
// should continue.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) bool {
	before := h.count(ctx)
	detail, err := h.apply(ctx, step)

	event := TraceEvent{Step: i, Op: step.Op, Detail: detail}
	if cur, cerr := h.machine.Current(ctx); cerr == nil {
		event.ActionID = cur.ID
		event.Kind = string(cur.Kind)
		if step.Label != "" && err == nil {
			h.labels[step.Label] = cur.ID
		}
	}
	event.Recorded = h.count(ctx) - before

	switch {
	case step.Error == "" && err != nil:
		result.Trace = append(result.Trace, event)
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
		return false
	case step.Error != "" && err == nil:
		result.Trace = append(result.Trace, event)
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got success", i, step.Op, step.Error))
		return false
	case step.Error != "":
		var de *dag.Error
		if !errors.As(err, &de) || string(de.Code) != step.Error {
			result.Trace = append(result.Trace, event)
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got %v", i, step.Op, step.Error, err))
			return false
		}
		event.Error = string(de.Code)
	}
	result.Trace = append(result.Trace, event)

	h.logger.Info("step completed",
		"step", i,
		"op", step.Op,
		"current", event.ActionID,
		"recorded", event.Recorded,
	)
	return true
}

func (h *Harness) apply(ctx context.Context, step Step) (string, error) {
	switch step.Op {
	case OpInit:
		_, err := h.machine.Init(ctx)
		return "", err
	case OpSet, OpInc, OpDel:
		op, err := docOp(step)
		if err != nil {
			return "", err
		}
		_, err = h.machine.Run(ctx, op)
		return op.String(), err
	case OpUndo:
		_, err := h.machine.Undo(ctx, h.ref(step.Ref))
		return "ref=" + step.Ref, err
	case OpUndoLast:
		_, err := h.machine.UndoLast(ctx)
		return "", err
	case OpUndoMerge:
		_, err := h.machine.UndoMerge(ctx, h.ref(step.Ref), h.ref(step.Parent))
		return "ref=" + step.Ref + " parent=" + step.Parent, err
	case OpRedo:
		_, err := h.machine.Redo(ctx, h.ref(step.Ref))
		return "ref=" + step.Ref, err
	case OpCheckout:
		_, err := h.machine.Checkout(ctx, h.ref(step.Ref))
		return "ref=" + step.Ref, err
	case OpMerge:
		_, err := h.machine.Merge(ctx, h.ref(step.Ref))
		return "ref=" + step.Ref, err
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

// ref resolves a label to its action id. Anything else is taken as an id.
func (h *Harness) ref(s string) string {
	if id, ok := h.labels[s]; ok {
		return id
	}
	return s
}

func (h *Harness) count(ctx context.Context) int {
	all, err := h.store.List(ctx)
	if err != nil {
		return 0
	}
	return len(all)
}

// docOp converts a set, inc or del step into a document op.
func docOp(step Step) (doc.Op, error) {
	switch step.Op {
	case OpDel:
		return doc.Del(step.Path), nil
	case OpInc:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return doc.Op{}, fmt.Errorf("inc value: %w", err)
		}
		n, ok := v.(ir.IRInt)
		if !ok {
			return doc.Op{}, fmt.Errorf("inc value must be an integer, got %T", step.Value)
		}
		return doc.Inc(step.Path, int64(n)), nil
	default:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return doc.Op{}, fmt.Errorf("set value: %w", err)
		}
		return doc.Set(step.Path, v), nil
	}
}

// describe labels a graph line.
func describe(a dag.Action[doc.Op, doc.Undo]) string {
	switch a.Kind {
	case dag.KindNormal:
		s := a.ID + " " + a.Data.String()
		if a.UndoID != "" {
			s += " (undoes " + a.UndoID + ")"
		}
		return s
	default:
		return a.ID + " " + string(a.Kind)
	}
}
