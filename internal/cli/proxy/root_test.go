package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const pingCapability = `tools:
  - name: ping
    description: pings a host
    enabled: true
    input_schema: {}
    routing:
      type: command
      command:
        command: ping
        args: ["-c", "${count}", "${host}"]
`

func writeFixtures(t *testing.T) (configPath, rootsDir string) {
	t.Helper()
	dir := t.TempDir()
	rootsDir = filepath.Join(dir, "capabilities")
	require.NoError(t, os.MkdirAll(rootsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rootsDir, "net.yaml"), []byte(pingCapability), 0o644))

	configPath = filepath.Join(dir, "config.yaml")
	content := "registry:\n  roots:\n    - " + rootsDir + "\n" +
		"smart_discovery:\n  llm:\n    provider: mock\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, rootsDir
}

func TestRunValidateSucceedsOnWellFormedCapabilities(t *testing.T) {
	configPath, _ := writeFixtures(t)
	err := run(context.Background(), configPath, false, true, false)
	require.NoError(t, err)
}

func TestRunValidateFailsOnMalformedCapabilityFile(t *testing.T) {
	configPath, rootsDir := writeFixtures(t)
	require.NoError(t, os.WriteFile(filepath.Join(rootsDir, "broken.yaml"), []byte("tools: [this is not a tool list"), 0o644))

	err := run(context.Background(), configPath, false, true, false)
	require.Error(t, err)
}

func TestRunDryRunBuildsEveryComponentWithoutServing(t *testing.T) {
	configPath, _ := writeFixtures(t)
	err := run(context.Background(), configPath, false, false, true)
	require.NoError(t, err)
}

func TestRunRejectsInvalidAuthMode(t *testing.T) {
	dir := t.TempDir()
	rootsDir := filepath.Join(dir, "capabilities")
	require.NoError(t, os.MkdirAll(rootsDir, 0o755))
	configPath := filepath.Join(dir, "config.yaml")
	content := "registry:\n  roots:\n    - " + rootsDir + "\n" +
		"smart_discovery:\n  llm:\n    provider: mock\n" +
		"auth:\n  mode: not_a_real_mode\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	err := run(context.Background(), configPath, false, false, false)
	require.Error(t, err)
}
