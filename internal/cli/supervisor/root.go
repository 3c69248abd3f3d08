// Package supervisor wires the mcpfedsupervisor binary's cobra command.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpfed/mcpfed/internal/cliutil"
	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/supervisor"
)

// Command builds the mcpfedsupervisor root command.
func Command() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:           "mcpfedsupervisor",
		Short:         "Run the process supervisor: restart discipline, health probes, TCP control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, port)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	cmd.Flags().IntVar(&port, "port", 0, "override supervisor.control_port")

	return cmd
}

func run(ctx context.Context, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cliutil.Wrap(cliutil.ExitConfigInvalid, fmt.Errorf("loading configuration: %w", err))
	}
	if port > 0 {
		cfg.Supervisor.ControlPort = port
	}
	if len(cfg.Supervisor.Processes) == 0 {
		return cliutil.Wrap(cliutil.ExitConfigInvalid, fmt.Errorf("supervisor.processes is empty, nothing to supervise"))
	}

	logger := logging.NewWithComponent(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty}, "supervisor")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(cfg.Supervisor, logger)
	sup.Start(runCtx)
	defer sup.StopAll()

	cp := supervisor.NewControlPlane(sup, logger, cancel)
	addr := fmt.Sprintf(":%d", cfg.Supervisor.ControlPort)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- cp.Serve(runCtx, addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
		cancel()
		return nil
	case <-runCtx.Done():
		return nil
	case err := <-serveErrCh:
		if err != nil {
			return cliutil.Wrap(cliutil.ExitFailure, err)
		}
		return nil
	}
}
