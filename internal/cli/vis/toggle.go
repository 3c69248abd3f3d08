package vis

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpfed/mcpfed/internal/cliutil"
)

// newToggleToolCmd builds show-tool/hide-tool: locates the single capability
// file defining name and flips only that tool's hidden field.
func newToggleToolCmd(configPath *string, use string, hidden bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: fmt.Sprintf("%s a single tool by name", verbFor(hidden)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			path, err := findToolFile(cfg.Registry.Roots, name)
			if err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			doc, err := readCapabilityFile(path)
			if err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			if !setHidden(&doc, name, hidden) {
				return cliutil.Wrap(cliutil.ExitFailure, fmt.Errorf("tool %q not found in %s", name, path))
			}
			if err := writeCapabilityFile(path, doc); err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s tool %q in %s\n", verbFor(hidden), name, path)
			return nil
		},
	}
}

// newToggleFileCmd builds show-file/hide-file: flips every tool's hidden
// field in the single named capability file.
func newToggleFileCmd(configPath *string, use string, hidden bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <path>",
		Short: fmt.Sprintf("%s every tool defined in one capability file", verbFor(hidden)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			doc, err := readCapabilityFile(path)
			if err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			setHidden(&doc, "", hidden)
			if err := writeCapabilityFile(path, doc); err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d tool(s) in %s\n", verbFor(hidden), len(doc.Tools), path)
			return nil
		},
	}
}

// newToggleAllCmd builds show-all/hide-all: flips every tool in every
// capability file under the configured roots.
func newToggleAllCmd(configPath *string, use string, hidden bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s every tool under every configured capability root", verbFor(hidden)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			paths, err := capabilityFiles(cfg.Registry.Roots)
			if err != nil {
				return cliutil.Wrap(cliutil.ExitFailure, err)
			}
			total := 0
			for _, path := range paths {
				doc, err := readCapabilityFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
					continue
				}
				setHidden(&doc, "", hidden)
				if err := writeCapabilityFile(path, doc); err != nil {
					return cliutil.Wrap(cliutil.ExitFailure, err)
				}
				total += len(doc.Tools)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d tool(s) across %d file(s)\n", verbFor(hidden), total, len(paths))
			return nil
		},
	}
}

func verbFor(hidden bool) string {
	if hidden {
		return "hid"
	}
	return "showed"
}
