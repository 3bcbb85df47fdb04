package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/roach88/avcs/internal/dag"
)

// RegOp is an operation on a named integer register: "=" stores Value, "+"
// adds it. Additions commute with each other.
type RegOp struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value int    `json:"value"`
}

// ErrRegisterFault is returned by Register.Run once FailAfter runs have
// succeeded.
var ErrRegisterFault = errors.New("register fault")

// Register is a payload over named integer registers that records every
// run, for asserting how a machine replays history.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Register struct {
	mu     sync.Mutex
	values map[string]int
	log    []RegOp

	// FailAfter makes Run fail once it has succeeded this many times.
	// Zero disables the fault.
	FailAfter int
}

// NewRegister returns a register set with every key at zero.
func NewRegister() *Register {
	return &Register{values: map[string]int{}}
}

// Set returns an overwrite op.
func Set(key string, v int) RegOp { return RegOp{Key: key, Op: "=", Value: v} }

// Add returns a commutative addition.
func Add(key string, v int) RegOp { return RegOp{Key: key, Op: "+", Value: v} }

// Scopes implements machine.Payload.
func (r *Register) Scopes(op RegOp) []dag.Scope {
	if op.Op == "+" {
		return []dag.Scope{dag.Commutative(0, op.Key)}
	}
	return []dag.Scope{dag.Overwrite(op.Key)}
}

// Reverse implements machine.Payload. The undo value is the register's
// previous value.
func (r *Register) Reverse(op RegOp, prev int) RegOp {
	if op.Op == "+" {
		return Add(op.Key, -op.Value)
	}
	return Set(op.Key, prev)
}

// Run implements machine.Payload.
func (r *Register) Run(ctx context.Context, op RegOp) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailAfter > 0 && len(r.log) >= r.FailAfter {
		return 0, ErrRegisterFault
	}
	prev := r.values[op.Key]
	switch op.Op {
	case "=":
		r.values[op.Key] = op.Value
	case "+":
		r.values[op.Key] = prev + op.Value
	default:
		return 0, fmt.Errorf("unknown register op %q", op.Op)
	}
	r.log = append(r.log, op)
	return prev, nil
}

// Values returns a copy of every register, omitting zeros.
func (r *Register) Values() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := maps.Clone(r.values)
	maps.DeleteFunc(out, func(_ string, v int) bool { return v == 0 })
	return out
}

// Log returns every op run so far.
func (r *Register) Log() []RegOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RegOp(nil), r.log...)
}

// ResetLog clears the run log, keeping values.
func (r *Register) ResetLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}
