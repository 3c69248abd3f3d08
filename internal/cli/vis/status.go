package vis

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpfed/mcpfed/internal/registry"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List every capability tool's visibility and source file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			result := registry.LoadFiles(cfg.Registry.Roots, cfg.Registry.StrictUnknownFields)
			for _, fe := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", fe.Error())
			}
			for _, t := range result.Tools {
				visibility := "visible"
				if t.Hidden {
					visibility = "hidden"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-8s %s\n", t.Name, visibility, t.SourcePath)
			}
			return nil
		},
	}
}
