package harness

import "github.com/roach88/avcs/internal/ir"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
	// ActionID is the id of the action the step left current.
	ActionID string `json:"action_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	// Recorded is how many actions the step added to storage.
	Recorded int `json:"recorded"`
	// Error is the history error code of an expected failure.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final document.
	State ir.IRObject `json:"state"`

	// Graph is the rendered history reachable from the final action.
	Graph []string `json:"graph"`

	// ResolverCalls counts conflict groups the policy resolved.
	ResolverCalls int `json:"resolver_calls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  ir.IRObject{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
