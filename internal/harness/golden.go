package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/avcs/internal/ir"
)

// TraceSnapshot is what a golden file holds for one scenario.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	State        ir.IRObject  `json:"state"`
	Graph        []string     `json:"graph"`
}

// toCanonicalMap converts a TraceSnapshot for ir.MarshalCanonical, which
// only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step":     event.Step,
			"op":       event.Op,
			"recorded": event.Recorded,
		}
		if event.Detail != "" {
			eventMap["detail"] = event.Detail
		}
		if event.ActionID != "" {
			eventMap["action_id"] = event.ActionID
			eventMap["kind"] = event.Kind
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}
	graph := make([]any, len(s.Graph))
	for i, line := range s.Graph {
		graph[i] = line
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state":         s.State,
		"graph":         graph,
	}
}

// Snapshot marshals the golden form of result.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		State:        result.State,
		Graph:        result.Graph,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario, fails t on unmet expectations, and
// compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
