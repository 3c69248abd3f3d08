package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.HTTPPort)
	require.Equal(t, "local_first", cfg.Registry.ConflictResolution)
	require.Equal(t, 0.5, cfg.Discovery.DefaultConfidenceThreshold)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
registry:
  conflict_resolution: external_first
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.HTTPPort)
	require.Equal(t, "external_first", cfg.Registry.ConflictResolution)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))

	t.Setenv("MCPFED_SERVER_HTTP_PORT", "9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestExposeSmartDiscoveryOnlyIgnoredWhenDiscoveryDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
smart_discovery:
  enabled: false
registry:
  expose_smart_discovery_only: true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Registry.ExposeSmartDiscoveryOnly)
}

func TestValidateRejectsBadConflictResolution(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.ConflictResolution = "bogus"
	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsBadExternalMCPTransport(t *testing.T) {
	cfg := config.Default()
	cfg.ExternalMCP = []config.ExternalMCPEntry{{ID: "x", Transport: "carrier-pigeon"}}
	require.Error(t, config.Validate(cfg))
}
