// Package proxy wires the mcpfedproxy binary's cobra command: config
// resolution, registry/discovery/auth/dispatch/mcpclient construction, and
// the --stdio / --validate / --dry-run serving modes.
package proxy

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpfed/mcpfed/internal/auth"
	"github.com/mcpfed/mcpfed/internal/cliutil"
	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/discovery"
	"github.com/mcpfed/mcpfed/internal/dispatch"
	"github.com/mcpfed/mcpfed/internal/embedmgr"
	"github.com/mcpfed/mcpfed/internal/llm"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/mcpclient"
	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/storage"
)

// Command builds the mcpfedproxy root command.
func Command() *cobra.Command {
	var (
		configPath string
		stdio      bool
		validate   bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:           "mcpfedproxy",
		Short:         "Run the MCP federation proxy: registry, smart discovery, and dispatch router",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, stdio, validate, dryRun)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve the front-end MCP surface over stdio (overrides server.stdio)")
	cmd.Flags().BoolVar(&validate, "validate", false, "load configuration and capability files, report errors, and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build every component without serving, then exit")

	return cmd
}

func run(ctx context.Context, configPath string, stdioFlag, validateOnly, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cliutil.Wrap(cliutil.ExitConfigInvalid, fmt.Errorf("loading configuration: %w", err))
	}
	if stdioFlag {
		cfg.Server.Stdio = true
	}

	logger := logging.NewWithComponent(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty}, "proxy")

	reg := registry.NewRegistry(logger,
		registry.WithConflictResolution(cfg.Registry.ConflictResolution),
		registry.WithVisibility(cfg.Registry.ExposeSmartDiscoveryOnly, cfg.Discovery.Enabled),
	)

	celValidator, err := registry.NewCELValidator()
	if err != nil {
		return cliutil.Wrap(cliutil.ExitFailure, fmt.Errorf("building cel validator: %w", err))
	}
	reg.RegisterValidator("cel", celValidator)
	reg.RegisterValidator("optimal_range", celValidator)
	reg.RegisterValidator("privacy_scan", registry.PrivacyScanValidator{})
	reg.RegisterValidator("tool_accessible", &registry.ToolAccessibleValidator{
		Lookup: func(name string) (registry.ToolDefinition, bool) { return reg.Snapshot().Get(name) },
	})

	watcher := registry.NewWatcher(reg, cfg.Registry.Roots, cfg.Registry.StrictUnknownFields, 0, logger)
	loadResult := watcher.LoadOnce()
	for _, fe := range loadResult.Errors {
		logger.Warn().Err(fe.Err).Str("path", fe.Path).Msg("capability file failed to load")
	}
	if validateOnly {
		if len(loadResult.Errors) > 0 {
			return cliutil.Wrap(cliutil.ExitConfigInvalid, fmt.Errorf("%d capability file(s) failed validation", len(loadResult.Errors)))
		}
		fmt.Fprintf(os.Stdout, "configuration and %d capability root(s) OK, %d tool(s) loaded\n", len(cfg.Registry.Roots), reg.Snapshot().Len())
		return nil
	}

	provider, err := buildLLMProvider(ctx, cfg)
	if err != nil {
		return cliutil.Wrap(cliutil.ExitDependency, fmt.Errorf("constructing llm provider: %w", err))
	}

	store := storage.NewEmbeddingStore(cfg.DataDir, cfg.Embedding.BackupRotations)
	checkInterval := embedmgr.DefaultConfig().CheckInterval
	if cfg.Embedding.CheckIntervalSec > 0 {
		checkInterval = time.Duration(cfg.Embedding.CheckIntervalSec) * time.Second
	}
	embedManager := embedmgr.New(reg, store, provider, embedmgr.Config{
		BatchSize:       cfg.Embedding.BatchSize,
		CheckInterval:   checkInterval,
		MaxAttempts:     cfg.Embedding.MaxAttempts,
		BackupRotations: cfg.Embedding.BackupRotations,
	}, logger)

	discoveryEngine := discovery.New(reg, embedManager.Records, provider, discovery.Config{
		Weights: discovery.Weights{
			Semantic: cfg.Discovery.SemanticWeight,
			Rule:     cfg.Discovery.RuleWeight,
			LLM:      cfg.Discovery.LLMWeight,
		},
		SemanticTopK:               cfg.Discovery.TopK,
		RuleFloor:                  discovery.DefaultConfig().RuleFloor,
		LLMCandidateCap:            cfg.Discovery.MaxLLMCandidates,
		DefaultConfidenceThreshold: cfg.Discovery.DefaultConfidenceThreshold,
		SemanticEnabled:            cfg.Discovery.SemanticEnabled,
		RuleEnabled:                cfg.Discovery.RuleEnabled,
		LLMEnabled:                 cfg.Discovery.LLMEnabled,
	})

	fleet := mcpclient.NewFleet(reg, logger)
	router := dispatch.NewRouter(fleet, logger)

	gate, err := buildGate(cfg)
	if err != nil {
		return cliutil.Wrap(cliutil.ExitConfigInvalid, err)
	}

	mcpServer := mcpcore.New(reg, router, discoveryEngine, gate, mcpcore.Config{
		Name:           cfg.Server.Name,
		Version:        "0.1.0",
		AuditEnabled:   true,
		DefaultTimeout: config.DefaultTimeout,
	}, logger)

	if dryRun {
		fmt.Fprintln(os.Stdout, "dry run OK: every component constructed successfully")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fleet.Start(runCtx, cfg.ExternalMCP)
	defer fleet.StopAll()

	go func() {
		if err := watcher.Run(runCtx); err != nil {
			logger.Error().Err(err).Msg("capability watcher stopped")
		}
	}()
	go func() {
		if err := embedManager.Run(runCtx); err != nil {
			logger.Error().Err(err).Msg("embedding manager stopped")
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- serve(runCtx, mcpServer, cfg)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
		cancel()
		return nil
	case err := <-serveErrCh:
		if err != nil {
			return cliutil.Wrap(cliutil.ExitFailure, err)
		}
		return nil
	}
}

func serve(ctx context.Context, s *mcpcore.Server, cfg *config.Config) error {
	if cfg.Server.Stdio {
		return s.ServeStdio(ctx)
	}
	switch cfg.Server.Transport {
	case "websocket":
		return s.ServeWS(fmt.Sprintf(":%d", cfg.Server.WebSocketPort))
	case "sse":
		return s.ServeSSE(fmt.Sprintf(":%d", cfg.Server.SSEPort))
	default:
		return s.ServeHTTP(fmt.Sprintf(":%d", cfg.Server.HTTPPort))
	}
}

func buildLLMProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	name := cfg.Discovery.LLM.Provider
	if name == "" {
		name = "mock"
	}
	return llm.Get().GetProvider(ctx, name, cfg.Discovery.LLM)
}

func buildGate(cfg *config.Config) (auth.Gate, error) {
	switch cfg.Auth.Mode {
	case "bearer_jwt":
		if cfg.Auth.JWTSigningKey == "" {
			return nil, fmt.Errorf("auth.mode is bearer_jwt but auth.jwt_signing_key is empty")
		}
		return auth.NewBearerJWT(cfg.Auth.JWTSigningKey), nil
	case "allow_all", "":
		return auth.AllowAll{}, nil
	default:
		return nil, fmt.Errorf("invalid auth.mode: %q", cfg.Auth.Mode)
	}
}
