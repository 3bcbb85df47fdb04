package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

func copyScenario(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenarioDir, name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestTestCommand_AllPass(t *testing.T) {
	out, err := execute(t, "test", scenarioDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ merge_policy")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommand_FilterJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", scenarioDir, "--filter", "merge_*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "merge_policy", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "fast_forward.yaml")

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err, out)
	golden := filepath.Join(dir, "golden", "fast_forward.golden")
	require.FileExists(t, golden)

	out, err = execute(t, "test", dir)
	require.NoError(t, err, out)

	require.NoError(t, os.WriteFile(golden, []byte("{}"), 0o644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")

	_, err = execute(t, "test", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "test", t.TempDir())
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "test", dir, "--filter", "[")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
