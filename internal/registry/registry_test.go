package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
)

const sampleCapability = `
tools:
  - name: echo
    description: echoes input back
    enabled: true
    input_schema:
      type: object
      properties:
        message:
          type: string
    routing:
      type: function
      function:
        name: echo
`

func writeCapabilityFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFilesParsesValidCapability(t *testing.T) {
	dir := t.TempDir()
	writeCapabilityFile(t, dir, "tools.yaml", sampleCapability)

	result := registry.LoadFiles([]string{dir}, true)
	require.Empty(t, result.Errors)
	require.Len(t, result.Tools, 1)
	require.Equal(t, "echo", result.Tools[0].Name)
}

func TestLoadFilesCollectsPerFileErrorsWithoutAbortingOthers(t *testing.T) {
	dir := t.TempDir()
	writeCapabilityFile(t, dir, "good.yaml", sampleCapability)
	writeCapabilityFile(t, dir, "bad.yaml", "tools:\n  - name: \"\"\n")

	result := registry.LoadFiles([]string{dir}, false)
	require.Len(t, result.Tools, 1)
	require.Len(t, result.Errors, 1)
}

func TestRegistryRebuildAppliesLocalFirstConflictResolution(t *testing.T) {
	logger := logging.New(logging.DefaultConfig())
	r := registry.NewRegistry(logger, registry.WithConflictResolution("local_first"))

	local := registry.ToolDefinition{
		Name:        "shared",
		Description: "local version",
		Enabled:     true,
		InputSchema: map[string]any{},
		Routing:     registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "shared"}},
		SourcePath:  "local.yaml",
	}
	r.ReloadLocal([]registry.ToolDefinition{local})

	external := registry.ToolDefinition{
		Name:        "shared",
		Description: "external version",
		Enabled:     true,
		InputSchema: map[string]any{},
		Routing:     registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "shared"}},
	}
	r.ApplyExternalTools("server-a", []registry.ToolDefinition{external})

	snap := r.Snapshot()
	got, ok := snap.Get("shared")
	require.True(t, ok)
	require.Equal(t, "local version", got.Description)
}

func TestRegistryPreservesUserDisabledAcrossReload(t *testing.T) {
	logger := logging.New(logging.DefaultConfig())
	r := registry.NewRegistry(logger)

	tool := registry.ToolDefinition{
		Name:        "flaky",
		Enabled:     true,
		InputSchema: map[string]any{},
		Routing:     registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "flaky"}},
	}
	r.ReloadLocal([]registry.ToolDefinition{tool})
	r.MarkUserDisabled("flaky")

	snap := r.Snapshot()
	got, _ := snap.Get("flaky")
	require.False(t, got.Enabled)

	// A later reload with the same content must not silently re-enable it.
	r.ReloadLocal([]registry.ToolDefinition{tool})
	snap = r.Snapshot()
	got, _ = snap.Get("flaky")
	require.False(t, got.Enabled)
}

func TestSnapshotListVisibleHidesHiddenAndDisabledTools(t *testing.T) {
	logger := logging.New(logging.DefaultConfig())
	r := registry.NewRegistry(logger)

	r.ReloadLocal([]registry.ToolDefinition{
		{Name: "visible", Enabled: true, InputSchema: map[string]any{}, Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "visible"}}},
		{Name: "hidden", Enabled: true, Hidden: true, InputSchema: map[string]any{}, Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "hidden"}}},
		{Name: "disabled", Enabled: false, InputSchema: map[string]any{}, Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "disabled"}}},
	})

	visible := r.Snapshot().ListVisible(false)
	require.Len(t, visible, 1)
	require.Equal(t, "visible", visible[0].Name)
}

func TestExposeSmartDiscoveryOnlyHidesEverythingButDiscoveryTool(t *testing.T) {
	logger := logging.New(logging.DefaultConfig())
	r := registry.NewRegistry(logger, registry.WithVisibility(true, true))

	r.ReloadLocal([]registry.ToolDefinition{
		{Name: "normal", Enabled: true, InputSchema: map[string]any{}, Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "normal"}}},
		{Name: registry.SmartDiscoveryToolName, Enabled: true, InputSchema: map[string]any{}, Routing: registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "smart"}}},
	})

	visible := r.Snapshot().ListVisible(true)
	require.Len(t, visible, 1)
	require.Equal(t, registry.SmartDiscoveryToolName, visible[0].Name)
}

func TestCELValidatorEvaluatesOptimalRange(t *testing.T) {
	v, err := registry.NewCELValidator()
	require.NoError(t, err)

	require.NoError(t, v.Validate(map[string]any{"temperature": 50.0}, "args.temperature >= 0.0 && args.temperature <= 100.0"))
	require.Error(t, v.Validate(map[string]any{"temperature": 150.0}, "args.temperature >= 0.0 && args.temperature <= 100.0"))
}

func TestPrivacyScanValidatorRejectsForbiddenSubstring(t *testing.T) {
	v := registry.PrivacyScanValidator{}
	require.NoError(t, v.Validate(map[string]any{"note": "hello world"}, "ssn,password"))
	require.Error(t, v.Validate(map[string]any{"note": "my password is hunter2"}, "ssn,password"))
}

func TestToolDefinitionContentHashStableAcrossIrrelevantFieldChanges(t *testing.T) {
	a := registry.ToolDefinition{Name: "x", Description: "d", Enabled: true}
	b := a
	b.ComplexityScore = 99 // irrelevant to content hash
	require.Equal(t, a.ContentHash(), b.ContentHash())

	c := a
	c.Description = "different"
	require.NotEqual(t, a.ContentHash(), c.ContentHash())
}
