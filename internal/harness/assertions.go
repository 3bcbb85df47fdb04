package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/ir"
)

// AssertionError is returned when an expectation fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Expectation that failed
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Step, event.Op, event.Detail, event.ActionID)
	}
	return buf.String()
}

// evaluate checks every set expectation and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, expect Expect, result *Result, graphEntries int) []string {
	var errs []error

	if expect.State != nil {
		errs = append(errs, assertState(result, expect.State)...)
	}
	for _, path := range expect.Absent {
		if v, ok := h.state.Get(doc.ParsePath(path)); ok {
			errs = append(errs, &AssertionError{
				Type:     "absent",
				Expected: fmt.Sprintf("%s missing", path),
				Actual:   fmt.Sprintf("%s = %s", path, render(v)),
				Trace:    result.Trace,
			})
		}
	}
	if expect.Current != "" {
		want := h.ref(expect.Current)
		if cur, err := h.machine.Current(ctx); err != nil || cur.ID != want {
			actual := cur.ID
			if err != nil {
				actual = err.Error()
			}
			errs = append(errs, &AssertionError{
				Type:     "current",
				Expected: fmt.Sprintf("%s (%s)", want, expect.Current),
				Actual:   actual,
				Trace:    result.Trace,
			})
		}
	}
	if expect.ResolverCalls != nil && *expect.ResolverCalls != result.ResolverCalls {
		errs = append(errs, &AssertionError{
			Type:     "resolver_calls",
			Expected: fmt.Sprintf("%d", *expect.ResolverCalls),
			Actual:   fmt.Sprintf("%d", result.ResolverCalls),
			Trace:    result.Trace,
		})
	}
	if expect.GraphEntries != nil && *expect.GraphEntries != graphEntries {
		errs = append(errs, &AssertionError{
			Type:     "graph_entries",
			Expected: fmt.Sprintf("%d", *expect.GraphEntries),
			Actual:   fmt.Sprintf("%d", graphEntries),
			Trace:    result.Trace,
		})
	}

	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return msgs
}

// assertState matches want against the final document as a subset: every
// leaf in want must exist with an equal value. Nested maps recurse; arrays
// compare whole.
func assertState(result *Result, want map[string]any) []error {
	var errs []error
	var walk func(prefix []string, want map[string]any, got ir.IRObject)
	walk = func(prefix []string, want map[string]any, got ir.IRObject) {
		keys := make([]string, 0, len(want))
		for k := range want {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			path := append(append([]string(nil), prefix...), k)
			name := strings.Join(path, ".")
			actual, ok := got[k]
			if !ok {
				errs = append(errs, &AssertionError{
					Type:     "state",
					Expected: fmt.Sprintf("%s = %v", name, want[k]),
					Actual:   fmt.Sprintf("%s missing", name),
					Trace:    result.Trace,
				})
				continue
			}
			if sub, isMap := want[k].(map[string]any); isMap {
				if obj, isObj := actual.(ir.IRObject); isObj {
					walk(path, sub, obj)
					continue
				}
			}
			expected, err := ir.FromGo(want[k])
			if err != nil {
				errs = append(errs, fmt.Errorf("state %s: %w", name, err))
				continue
			}
			if !ir.Equal(expected, actual) {
				errs = append(errs, &AssertionError{
					Type:     "state",
					Expected: fmt.Sprintf("%s = %s", name, render(expected)),
					Actual:   fmt.Sprintf("%s = %s", name, render(actual)),
					Trace:    result.Trace,
				})
			}
		}
	}
	walk(nil, want, result.State)
	return errs
}

func render(v ir.IRValue) string {
	data, err := ir.MarshalIRValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
