// Package vis wires the mcpfedvis binary: a visibility tool that toggles
// the hidden flag on tool definitions directly in their capability YAML
// files. A running mcpfedproxy's capability watcher picks up the rewritten
// file and applies the change on its own debounce window — vis never talks
// to a running proxy process directly.
package vis

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpfed/mcpfed/internal/cliutil"
	"github.com/mcpfed/mcpfed/internal/config"
)

// Command builds the mcpfedvis root command.
func Command() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "mcpfedvis",
		Short:         "Show or hide capability tools by name or by capability file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")

	cmd.AddCommand(newStatusCmd(&configPath))
	cmd.AddCommand(newToggleToolCmd(&configPath, "show-tool", false))
	cmd.AddCommand(newToggleToolCmd(&configPath, "hide-tool", true))
	cmd.AddCommand(newToggleFileCmd(&configPath, "show-file", false))
	cmd.AddCommand(newToggleFileCmd(&configPath, "hide-file", true))
	cmd.AddCommand(newToggleAllCmd(&configPath, "show-all", false))
	cmd.AddCommand(newToggleAllCmd(&configPath, "hide-all", true))

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cliutil.Wrap(cliutil.ExitConfigInvalid, fmt.Errorf("loading configuration: %w", err))
	}
	return cfg, nil
}
