package doc

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/ir"
)

// State is an in-memory JSON document. It implements machine.Payload for
// Op and Undo.
//
// Thread-safety: safe for concurrent use via internal mutex.
type State struct {
	mu   sync.Mutex
	root ir.IRObject
}

// NewState returns an empty document.
func NewState() *State {
	return &State{root: ir.IRObject{}}
}

// Scopes implements machine.Payload.
func (s *State) Scopes(op Op) []dag.Scope {
	return Scopes(op)
}

// Reverse implements machine.Payload.
func (s *State) Reverse(op Op, u Undo) Op {
	return Reverse(op, u)
}

// Run applies op and returns what it displaced.
func (s *State) Run(ctx context.Context, op Op) (Undo, error) {
	if err := ctx.Err(); err != nil {
		return Undo{}, err
	}
	if err := op.Validate(); err != nil {
		return Undo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.parent(op.Path, op.Kind != OpDel)
	if err != nil {
		return Undo{}, fmt.Errorf("%s %s: %w", op.Kind, op.PathString(), err)
	}
	if parent == nil {
		return Undo{}, nil
	}
	key := op.Path[len(op.Path)-1]
	prev, existed := parent[key]
	undo := Undo{Existed: existed}
	if existed {
		undo.Prev = ir.Clone(prev)
	}

	switch op.Kind {
	case OpSet:
		parent[key] = ir.Clone(op.Value)
	case OpDel:
		delete(parent, key)
	case OpInc:
		var cur ir.IRInt
		if existed {
			n, ok := prev.(ir.IRInt)
			if !ok {
				return Undo{}, fmt.Errorf("inc %s: value is %T, not an integer", op.PathString(), prev)
			}
			cur = n
		}
		parent[key] = cur + op.Value.(ir.IRInt)
	}
	return undo, nil
}

// parent returns the object holding the last key of path. Missing
// intermediate objects are created when create is set; otherwise a missing
// one yields nil.
func (s *State) parent(path []string, create bool) (ir.IRObject, error) {
	obj := s.root
	for i, k := range path[:len(path)-1] {
		next, ok := obj[k]
		if !ok {
			if !create {
				return nil, nil
			}
			child := ir.IRObject{}
			obj[k] = child
			obj = child
			continue
		}
		child, ok := next.(ir.IRObject)
		if !ok {
			if !create {
				return nil, nil
			}
			return nil, fmt.Errorf("%s is %T, not an object", joinPath(path[:i+1]), next)
		}
		obj = child
	}
	return obj, nil
}

// Get returns the value at path.
func (s *State) Get(path []string) (ir.IRValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur ir.IRValue = s.root
	for _, k := range path {
		obj, ok := cur.(ir.IRObject)
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return ir.Clone(cur), true
}

// Snapshot returns a deep copy of the whole document.
func (s *State) Snapshot() ir.IRObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ir.Clone(s.root).(ir.IRObject)
}

func joinPath(p []string) string {
	return Op{Path: p}.PathString()
}
