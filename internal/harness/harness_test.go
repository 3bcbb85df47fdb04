package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	results, err := RunDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, fr := range results {
		t.Run(filepath.Base(fr.Path), func(t *testing.T) {
			require.NoError(t, fr.Err)
			assert.True(t, fr.Passed(), strings.Join(fr.Result.Errors, "\n"))
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"linear_undo_redo", "merge_policy"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata/scenarios", name+".yaml"))
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_TracesExpectedErrors(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/conflict_fail.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, OpMerge, last.Op)
	assert.Equal(t, "CONFLICT_RESOLUTION", last.Error)
	assert.Equal(t, 0, last.Recorded)
	assert.Equal(t, "a3", last.ActionID)
}

func TestRun_UnexpectedErrorStops(t *testing.T) {
	scenario := &Scenario{
		Name:        "stops",
		Description: "second step fails",
		Steps: []Step{
			{Op: OpInit},
			{Op: OpCheckout, Ref: "nowhere"},
			{Op: OpSet, Path: "x", Value: 1},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Len(t, result.Trace, 2)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] checkout")
	assert.Empty(t, result.State)
}

func TestRun_MissingExpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_error",
		Description: "merge of an ancestor succeeds",
		Steps: []Step{
			{Op: OpInit, Label: "root"},
			{Op: OpSet, Path: "x", Value: 1},
			{Op: OpMerge, Ref: "root", Error: "CONFLICT_RESOLUTION"},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected CONFLICT_RESOLUTION error, got success")
}

func TestRun_FailedExpectations(t *testing.T) {
	calls, entries := 3, 9
	scenario := &Scenario{
		Name:        "wrong",
		Description: "every expectation is off",
		Steps: []Step{
			{Op: OpInit, Label: "root"},
			{Op: OpSet, Path: "a.b", Value: "x"},
		},
		Expect: Expect{
			State:         map[string]any{"a": map[string]any{"b": "y"}, "c": 1},
			Absent:        []string{"a.b"},
			Current:       "root",
			ResolverCalls: &calls,
			GraphEntries:  &entries,
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	joined := strings.Join(result.Errors, "\n")
	assert.Len(t, result.Errors, 6)
	assert.Contains(t, joined, `a.b = "y"`)
	assert.Contains(t, joined, "c missing")
	assert.Contains(t, joined, "Assertion failed: absent")
	assert.Contains(t, joined, "Assertion failed: current")
	assert.Contains(t, joined, "Assertion failed: resolver_calls")
	assert.Contains(t, joined, "Assertion failed: graph_entries")
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\nsteps: [{op: init}]\n", "name is required"},
		{"no description", "name: n\nsteps: [{op: init}]\n", "description is required"},
		{"no steps", "name: n\ndescription: d\n", "steps list is required"},
		{"init first", "name: n\ndescription: d\nsteps: [{op: set, path: a, value: 1}]\n", "first step must be init"},
		{"unknown op", "name: n\ndescription: d\nsteps: [{op: init}, {op: rebase}]\n", `unknown op "rebase"`},
		{"missing path", "name: n\ndescription: d\nsteps: [{op: init}, {op: del}]\n", "path is required"},
		{"missing value", "name: n\ndescription: d\nsteps: [{op: init}, {op: inc, path: a}]\n", "value is required"},
		{"missing ref", "name: n\ndescription: d\nsteps: [{op: init}, {op: merge}]\n", "ref is required"},
		{"undo_merge parent", "name: n\ndescription: d\nsteps: [{op: init}, {op: undo_merge, ref: m}]\n", "ref and parent are required"},
		{"bad code", "name: n\ndescription: d\nsteps: [{op: init, error: BOOM}]\n", `unknown error code "BOOM"`},
		{"duplicate label", "name: n\ndescription: d\nsteps: [{op: init, label: x}, {op: del, path: a, label: x}]\n", `duplicate label "x"`},
		{"bad strategy", "name: n\ndescription: d\nresolve: {default: mine}\nsteps: [{op: init}]\n", "unknown resolve strategy"},
		{"typo field", "name: n\ndescription: d\nstep: []\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunDir_Errors(t *testing.T) {
	_, err := RunDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = RunDir(empty)
	assert.ErrorContains(t, err, "no scenario files")

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, "broken.yml"), []byte("name: ["), 0o644))
	results, err := RunDir(bad)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.False(t, results[0].Passed())
}
