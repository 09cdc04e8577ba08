package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: forced_add
description: "add forced to fallback matches the native result"
policy:
  force: [add]
steps:
  - invoke: add
    args:
      - tensor: {shape: [2], device: lazy, data: [1, 2]}
      - tensor: {shape: [2], device: lazy, data: [3, 4]}
    expect:
      route: fallback
      reason: forced
      outputs:
        - tensor: {shape: [2], device: lazy, data: [4, 6]}
assertions:
  - type: fallback_ops
    ops: [add]
`

const failingScenario = `name: wrong_route
description: "expects mm to run natively"
steps:
  - invoke: mm
    args:
      - tensor: {shape: [1, 1], data: [2]}
      - tensor: {shape: [1, 1], data: [3]}
    expect:
      route: native
`

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, err = execute(t, "test", t.TempDir(), "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommand_Passing(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"forced_add.yaml": passingScenario})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ forced_add")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Failing(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"forced_add.yaml":  passingScenario,
		"wrong_route.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ forced_add")
	assert.Contains(t, out, "✗ wrong_route")
	assert.Contains(t, out, "expected route native, got fallback")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_FailingJSON(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"wrong_route.yaml": failingScenario})

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommand_Filter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"forced_add.yaml":  passingScenario,
		"wrong_route.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "forced_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong_route")

	_, err = execute(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"broken.yaml": "name: broken\nsteps: [\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_GoldenFiles(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"forced_add.yaml": passingScenario})
	goldenPath := filepath.Join(dir, "golden", "forced_add.golden")

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ forced_add (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"forced_add","trace":[{"id":"rec-0001","op":"aten::add","outputs":["float32[2]@lazy:4,6"],"pinned":false,"reason":"forced","route":"fallback","seq":1}]}`,
		string(golden))

	// Golden files are not picked up as scenarios.
	out, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"forced_add","trace":[]}`), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_RepositoryScenarios(t *testing.T) {
	out, err := execute(t, "test", "../../testdata/scenarios")
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 failed")
}
