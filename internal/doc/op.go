// Package doc is a JSON document payload for the machine: operations that
// set, increment and delete values at key paths, the state they run
// against, and resolver policies keyed by path prefix.
package doc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/ir"
)

// OpKind names a document operation.
type OpKind string

const (
	OpSet OpKind = "set"
	OpInc OpKind = "inc"
	OpDel OpKind = "del"
)

// TagCounter is the commutative scope tag carried by increments. Two
// increments of one path always merge without a conflict.
const TagCounter = 1

// Op is one document operation. Value is the new value for set and the
// delta (an ir.IRInt) for inc; del ignores it.
type Op struct {
	Kind  OpKind     `json:"kind"`
	Path  []string   `json:"path"`
	Value ir.IRValue `json:"value,omitempty"`
}

// Undo is what an applied Op displaced.
type Undo struct {
	Existed bool       `json:"existed"`
	Prev    ir.IRValue `json:"prev,omitempty"`
}

// Set returns an op that stores v at the dotted path.
func Set(path string, v ir.IRValue) Op {
	return Op{Kind: OpSet, Path: ParsePath(path), Value: v}
}

// Inc returns an op that adds n to the integer at the dotted path.
func Inc(path string, n int64) Op {
	return Op{Kind: OpInc, Path: ParsePath(path), Value: ir.IRInt(n)}
}

// Del returns an op that removes the dotted path.
func Del(path string) Op {
	return Op{Kind: OpDel, Path: ParsePath(path)}
}

// ParsePath splits a dotted path. The empty string is the empty path.
func ParsePath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// Validate checks that op can be run.
func (op Op) Validate() error {
	if len(op.Path) == 0 {
		return fmt.Errorf("%s: empty path", op.Kind)
	}
	for i, k := range op.Path {
		if k == "" {
			return fmt.Errorf("%s: empty key at position %d", op.Kind, i)
		}
	}
	switch op.Kind {
	case OpSet:
		if op.Value == nil {
			return fmt.Errorf("set %s: missing value", op.PathString())
		}
	case OpInc:
		if _, ok := op.Value.(ir.IRInt); !ok {
			return fmt.Errorf("inc %s: delta must be an integer, got %T", op.PathString(), op.Value)
		}
	case OpDel:
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// PathString returns the dotted path.
func (op Op) PathString() string {
	return strings.Join(op.Path, ".")
}

// String renders op for logs and graph labels, e.g. "set a.b=1".
func (op Op) String() string {
	switch op.Kind {
	case OpDel:
		return "del " + op.PathString()
	case OpInc:
		n, _ := op.Value.(ir.IRInt)
		if n < 0 {
			return "inc " + op.PathString() + strconv.FormatInt(int64(n), 10)
		}
		return "inc " + op.PathString() + "+" + strconv.FormatInt(int64(n), 10)
	default:
		b, err := ir.MarshalIRValue(op.Value)
		if err != nil {
			return string(op.Kind) + " " + op.PathString()
		}
		return string(op.Kind) + " " + op.PathString() + "=" + string(b)
	}
}

// Scopes reports what op touches: set and del overwrite their path, inc
// commutes with other increments.
func Scopes(op Op) []dag.Scope {
	if op.Kind == OpInc {
		return []dag.Scope{dag.Commutative(TagCounter, op.Path...)}
	}
	return []dag.Scope{dag.Overwrite(op.Path...)}
}

// Reverse returns the op that undoes op, given what it displaced.
func Reverse(op Op, u Undo) Op {
	if op.Kind == OpInc {
		n, _ := op.Value.(ir.IRInt)
		return Op{Kind: OpInc, Path: op.Path, Value: -n}
	}
	if u.Existed {
		return Op{Kind: OpSet, Path: op.Path, Value: u.Prev}
	}
	return Op{Kind: OpDel, Path: op.Path}
}

type opWire struct {
	Kind  OpKind          `json:"kind"`
	Path  []string        `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (op *Op) UnmarshalJSON(data []byte) error {
	var w opWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*op = Op{Kind: w.Kind, Path: w.Path}
	if len(w.Value) > 0 {
		v, err := ir.DecodeValue(w.Value)
		if err != nil {
			return fmt.Errorf("decode op value: %w", err)
		}
		op.Value = v
	}
	return nil
}

type undoWire struct {
	Existed bool            `json:"existed"`
	Prev    json.RawMessage `json:"prev,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Undo) UnmarshalJSON(data []byte) error {
	var w undoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = Undo{Existed: w.Existed}
	if len(w.Prev) > 0 {
		v, err := ir.DecodeValue(w.Prev)
		if err != nil {
			return fmt.Errorf("decode undo value: %w", err)
		}
		u.Prev = v
	}
	return nil
}
