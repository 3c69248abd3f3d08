package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// commandExecutor spawns a subprocess per call, templating argv and env
// against the caller's arguments, and escalates SIGTERM to SIGKILL if the
// process outlives the tool's graceful_timeout_seconds after the context
// is cancelled.
type commandExecutor struct{}

func (commandExecutor) execute(ctx context.Context, tool registry.ToolDefinition, args map[string]any, token *mcpcore.CancellationToken) (string, error) {
	routing := tool.Routing.Command
	if routing == nil {
		return "", mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: command routing missing", tool.Name))
	}

	argv := make([]string, len(routing.Args))
	for i, a := range routing.Args {
		argv[i] = substitute(a, args)
	}

	//nolint:gosec // G204: command execution is the explicit purpose of this routing variant
	cmd := exec.CommandContext(ctx, routing.Command, argv...)
	// exec.CommandContext kills the process immediately on ctx cancellation by
	// default; disable that so the SIGTERM-then-SIGKILL escalation below is
	// the only thing that ever signals the process.
	cmd.Cancel = func() error { return nil }
	cmd.Env = os.Environ()
	for k, v := range routing.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, substitute(v, args)))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", mcperr.Wrap(mcperr.KindUpstreamUnavailable, "failed to start command", err)
	}

	graceful := time.Duration(tool.Execution.GracefulTimeoutSeconds) * time.Second
	if graceful <= 0 {
		graceful = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return "", mcperr.Wrap(mcperr.KindUpstreamUnavailable, fmt.Sprintf("command failed: %s", stderr.String()), err)
		}
		return stdout.String(), nil
	case <-ctx.Done():
		if token != nil && token.ForceRequested() {
			_ = cmd.Process.Kill()
			<-done
		} else {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(graceful):
				_ = cmd.Process.Kill()
				<-done
			}
		}

		kind := mcperr.KindCancelled
		message := "command cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = mcperr.KindTimeout
			message = "command timed out"
		}
		return "", mcperr.Wrap(kind, message, ctx.Err())
	}
}
