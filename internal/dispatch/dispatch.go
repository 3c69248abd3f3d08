// Package dispatch implements the Dispatch Router: it takes a routed Tool
// Definition and a caller's arguments, applies a response cache, a per-tool
// rate limit, and a timeout/retry policy, and executes the tool through the
// executor matching its routing variant (command, http, remote_mcp_forward,
// function).
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/retry"
)

// RemoteForwarder dispatches a remote_mcp_forward routed call to the named
// external MCP client's de-namespaced tool. internal/mcpclient provides the
// concrete implementation; dispatch only depends on this narrow interface.
type RemoteForwarder interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (string, error)
}

// executor runs one routing variant. token is non-nil whenever the call
// originated from a tools/call request that can be cancelled mid-flight;
// executors that can observe an in-progress step (commandExecutor) poll it.
type executor interface {
	execute(ctx context.Context, tool registry.ToolDefinition, args map[string]any, token *mcpcore.CancellationToken) (string, error)
}

// Router is the Dispatch Router.
type Router struct {
	command  *commandExecutor
	http     *httpExecutor
	remote   *remoteExecutor
	function *functionExecutor

	limiter *rateLimiter
	cache   *responseCache
	logger  logging.Logger
}

// NewRouter builds a Router. remote may be nil if no external MCP servers
// are configured.
func NewRouter(remote RemoteForwarder, logger logging.Logger) *Router {
	return &Router{
		command:  &commandExecutor{},
		http:     &httpExecutor{},
		remote:   &remoteExecutor{forwarder: remote},
		function: newFunctionExecutor(),
		limiter:  newRateLimiter(),
		cache:    newResponseCache(),
		logger:   logger,
	}
}

// RegisterFunction adds or replaces an in-process function-routing handler.
func (r *Router) RegisterFunction(name string, fn FunctionHandler) {
	r.function.register(name, fn)
}

// RegisterTypedFunction adds a function-routing handler whose input schema
// is reflected from In's struct tags, mirroring coral's generateInputSchema
// idiom. Returns the generated JSON Schema so callers can fold it into a
// capability file's input_schema at startup.
func RegisterTypedFunction[In any](r *Router, name string, fn func(ctx context.Context, in In) (string, error)) (map[string]any, error) {
	schema, err := schemaFor[In]()
	if err != nil {
		return nil, fmt.Errorf("generating schema for function %q: %w", name, err)
	}
	r.function.register(name, typedHandler(fn))
	return schema, nil
}

// Dispatch executes one tool call end to end: cache lookup, rate limit,
// timeout, retry, executor dispatch, cache store. token, if non-nil, is
// watched for the duration of every attempt so a client's cancellation
// notification can interrupt a long-running executor.
func (r *Router) Dispatch(ctx context.Context, tool registry.ToolDefinition, args map[string]any, token *mcpcore.CancellationToken) (string, error) {
	if tool.SecurityClassification == registry.SecurityBlocked {
		return "", mcperr.New(mcperr.KindAuthorizationDenied, fmt.Sprintf("tool %q is blocked", tool.Name))
	}

	if tool.Execution.Cache != nil {
		if cached, ok := r.cache.get(tool.Name, tool.Execution.Cache.VaryBy, args); ok {
			return cached, nil
		}
	}

	if tool.Execution.RateLimit != nil {
		if !r.limiter.allow(tool.Name, *tool.Execution.RateLimit) {
			return "", mcperr.New(mcperr.KindUpstreamUnavailable, fmt.Sprintf("tool %q rate limit exceeded", tool.Name))
		}
	}

	exec, err := r.executorFor(tool)
	if err != nil {
		return "", err
	}

	timeout := time.Duration(tool.Execution.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxAttempts := tool.Execution.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var out string
	retryCfg := retry.Config{
		MaxRetries:     maxAttempts,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Jitter:         0.2,
	}

	err = retry.Do(ctx, retryCfg, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		callCtx, stopWatch := watchToken(callCtx, token)
		defer stopWatch()

		result, execErr := exec.execute(callCtx, tool, args, token)
		if execErr != nil {
			return execErr
		}
		out = result
		return nil
	}, func(err error) bool {
		if mcpErr, ok := mcperr.As(err); ok {
			return mcpErr.Retryable()
		}
		return false
	})
	if err != nil {
		return "", err
	}

	if tool.Execution.Cache != nil {
		r.cache.set(tool.Name, tool.Execution.Cache.VaryBy, args, out, time.Duration(tool.Execution.Cache.TTLSeconds)*time.Second)
	}

	return out, nil
}

// watchToken derives a context from ctx that is cancelled as soon as token
// reports a graceful or force cancellation request, so executors only need
// to select on ctx.Done() to honor both a deadline and a client cancellation.
// The returned stop func must be called once the executor returns to release
// the polling goroutine.
func watchToken(ctx context.Context, token *mcpcore.CancellationToken) (context.Context, context.CancelFunc) {
	derived, cancel := context.WithCancel(ctx)
	if token == nil {
		return derived, cancel
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-derived.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if token.CancelRequested() {
					cancel()
					return
				}
			}
		}
	}()

	return derived, func() {
		close(stop)
		cancel()
	}
}

func (r *Router) executorFor(tool registry.ToolDefinition) (executor, error) {
	switch tool.Routing.Type {
	case registry.RoutingCommand:
		return r.command, nil
	case registry.RoutingHTTP:
		return r.http, nil
	case registry.RoutingRemoteMCPForward:
		return r.remote, nil
	case registry.RoutingFunction:
		return r.function, nil
	default:
		return nil, mcperr.New(mcperr.KindInternal, fmt.Sprintf("tool %q: unknown routing type %q", tool.Name, tool.Routing.Type))
	}
}
