package dispatch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/dispatch"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/mcperr"
	"github.com/mcpfed/mcpfed/internal/registry"
)

func newRouter(t *testing.T, remote dispatch.RemoteForwarder) *dispatch.Router {
	t.Helper()
	return dispatch.NewRouter(remote, logging.New(logging.DefaultConfig()))
}

func functionTool(name string, exec registry.Execution) registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        "echo",
		Description: "echo",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingFunction,
			Func: &registry.FunctionRouting{Name: name},
		},
		Execution: exec,
	}
}

func TestDispatchBlockedToolIsDenied(t *testing.T) {
	r := newRouter(t, nil)
	tool := functionTool("never-called", registry.Execution{})
	tool.SecurityClassification = registry.SecurityBlocked

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
	mcpErr, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.KindAuthorizationDenied, mcpErr.Kind)
}

func TestDispatchFunctionRoutingSucceedsOnFirstAttemptWithDefaultMaxAttempts(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("greet", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return fmt.Sprintf("hello %v", args["name"]), nil
	})

	// Execution is the zero value: MaxAttempts == 0, which must default to a
	// single attempt rather than retry.Do's MaxRetries defaulting to zero
	// retries-total (which would never invoke the executor at all).
	tool := functionTool("greet", registry.Execution{})

	out, err := r.Dispatch(context.Background(), tool, map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out)
	assert.Equal(t, 1, calls)
}

func TestDispatchFunctionRoutingMissingHandler(t *testing.T) {
	r := newRouter(t, nil)
	tool := functionTool("does-not-exist", registry.Execution{})

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
}

func TestDispatchRetriesRetryableErrorUntilMaxAttempts(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("flaky", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		if calls < 3 {
			return "", mcperr.New(mcperr.KindUpstreamUnavailable, "transient")
		}
		return "recovered", nil
	})

	tool := functionTool("flaky", registry.Execution{MaxAttempts: 5})

	out, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, calls)
}

func TestDispatchDoesNotRetryNonRetryableError(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("bad-params", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return "", mcperr.New(mcperr.KindInvalidParams, "bad input")
	})

	tool := functionTool("bad-params", registry.Execution{MaxAttempts: 5})

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDispatchCachesSuccessfulResponse(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("counter", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return fmt.Sprintf("call-%d", calls), nil
	})

	tool := functionTool("counter", registry.Execution{
		Cache: &registry.CacheConfig{TTLSeconds: 60},
	})

	first, err := r.Dispatch(context.Background(), tool, map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	second, err := r.Dispatch(context.Background(), tool, map[string]any{"x": 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDispatchCacheVariesByConfiguredArgsSubset(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("counter", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return fmt.Sprintf("call-%d", calls), nil
	})

	tool := functionTool("counter", registry.Execution{
		Cache: &registry.CacheConfig{TTLSeconds: 60, VaryBy: []string{"key"}},
	})

	_, err := r.Dispatch(context.Background(), tool, map[string]any{"key": "a", "noise": 1}, nil)
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), tool, map[string]any{"key": "a", "noise": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "varying only a field outside vary_by must hit the cache")

	_, err = r.Dispatch(context.Background(), tool, map[string]any{"key": "b", "noise": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "varying a field in vary_by must miss the cache")
}

func TestDispatchCacheZeroTTLNeverCaches(t *testing.T) {
	r := newRouter(t, nil)
	calls := 0
	r.RegisterFunction("counter", func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return fmt.Sprintf("call-%d", calls), nil
	})

	tool := functionTool("counter", registry.Execution{
		Cache: &registry.CacheConfig{TTLSeconds: 0},
	})

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "a zero TTL must never cache")
}

func TestDispatchRateLimitDeniesAfterBurstExhausted(t *testing.T) {
	r := newRouter(t, nil)
	r.RegisterFunction("limited", func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})

	tool := functionTool("limited", registry.Execution{
		RateLimit: &registry.RateLimit{BurstLimit: 1, MaxCallsPerMinute: 1},
	})

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
	mcpErr, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.KindUpstreamUnavailable, mcpErr.Kind)
}

func TestDispatchRegisterTypedFunctionReflectsSchemaAndRoundTripsArgs(t *testing.T) {
	r := newRouter(t, nil)

	type greetInput struct {
		Name string `json:"name"`
	}

	schema, err := dispatch.RegisterTypedFunction(r, "typed-greet", func(ctx context.Context, in greetInput) (string, error) {
		return "hi " + in.Name, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])

	tool := functionTool("typed-greet", registry.Execution{})
	out, err := r.Dispatch(context.Background(), tool, map[string]any{"name": "grace"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi grace", out)
}

func TestDispatchHTTPRoutingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/items/42", req.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("item-42"))
	}))
	defer srv.Close()

	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "get-item",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingHTTP,
			HTTP: &registry.HTTPRouting{
				Method: "get",
				URL:    srv.URL + "/items/${id}",
			},
		},
	}

	out, err := r.Dispatch(context.Background(), tool, map[string]any{"id": 42}, nil)
	require.NoError(t, err)
	assert.Equal(t, "item-42", out)
}

func TestDispatchHTTPRoutingClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "bad-request",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingHTTP,
			HTTP: &registry.HTTPRouting{Method: "get", URL: srv.URL},
		},
		Execution: registry.Execution{MaxAttempts: 3},
	}

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDispatchHTTPRoutingServerErrorIsRetriedUntilSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "flaky-upstream",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingHTTP,
			HTTP: &registry.HTTPRouting{Method: "get", URL: srv.URL},
		},
		Execution: registry.Execution{MaxAttempts: 3, GracefulTimeoutSeconds: 1},
	}

	out, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

type fakeForwarder struct {
	calls int
	err   error
}

func (f *fakeForwarder) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s/%s", serverID, toolName), nil
}

func TestDispatchRemoteForwardsToNamedServerAndTool(t *testing.T) {
	forwarder := &fakeForwarder{}
	r := newRouter(t, forwarder)
	tool := registry.ToolDefinition{
		Name:        "weather_get_forecast",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type:   registry.RoutingRemoteMCPForward,
			Remote: &registry.RemoteMCPRouting{ServerID: "weather", ToolName: "get_forecast"},
		},
	}

	out, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "weather/get_forecast", out)
	assert.Equal(t, 1, forwarder.calls)
}

func TestDispatchRemoteWithoutForwarderConfiguredFails(t *testing.T) {
	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "weather_get_forecast",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type:   registry.RoutingRemoteMCPForward,
			Remote: &registry.RemoteMCPRouting{ServerID: "weather", ToolName: "get_forecast"},
		},
	}

	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	require.Error(t, err)
}

func TestDispatchCommandRoutingSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "say-hi",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingCommand,
			Command: &registry.CommandRouting{
				Command: "/bin/echo",
				Args:    []string{"hi ${name}"},
			},
		},
	}

	out, err := r.Dispatch(context.Background(), tool, map[string]any{"name": "lin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi lin\n", out)
}

func TestDispatchCommandRoutingDeadlineEscalatesToKillAndReportsTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "sleep-forever",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingCommand,
			Command: &registry.CommandRouting{
				Command: "/bin/sh",
				Args:    []string{"-c", "trap '' TERM; sleep 30"},
			},
		},
		Execution: registry.Execution{
			TimeoutSeconds:         1,
			GracefulTimeoutSeconds: 1,
		},
	}

	start := time.Now()
	_, err := r.Dispatch(context.Background(), tool, nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	mcpErr, ok := mcperr.As(err)
	require.True(t, ok)
	// The ctx.Done() that fired here is the tool's own timeout_seconds
	// deadline, not a caller cancellation, so it must be classified Timeout.
	assert.Equal(t, mcperr.KindTimeout, mcpErr.Kind)
	assert.Less(t, elapsed, 5*time.Second, "the kill escalation must bound total wait time")
}

func TestDispatchCommandRoutingTokenCancellationReportsCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "sleep-a-bit",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingCommand,
			Command: &registry.CommandRouting{
				Command: "/bin/sh",
				Args:    []string{"-c", "sleep 5"},
			},
		},
		// timeout_seconds is large so only the token's own cancellation, not
		// the router's deadline, can end the call early.
		Execution: registry.Execution{TimeoutSeconds: 30, GracefulTimeoutSeconds: 1},
	}

	token := mcpcore.NewCancellationToken("tok-cmd", tool.Name, time.Minute)
	go func() {
		time.Sleep(100 * time.Millisecond)
		token.RequestGraceful()
	}()

	start := time.Now()
	_, err := r.Dispatch(context.Background(), tool, nil, token)
	elapsed := time.Since(start)

	require.Error(t, err)
	mcpErr, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.KindCancelled, mcpErr.Kind)
	assert.Less(t, elapsed, 5*time.Second, "token cancellation must interrupt the command before it exits on its own")
}

func TestDispatchHTTPRoutingDeadlineReportsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newRouter(t, nil)
	tool := registry.ToolDefinition{
		Name:        "slow-upstream",
		InputSchema: map[string]any{"type": "object"},
		Enabled:     true,
		Routing: registry.Routing{
			Type: registry.RoutingHTTP,
			HTTP: &registry.HTTPRouting{Method: "get", URL: srv.URL},
		},
		// No timeout_seconds: the caller's own context deadline below is what
		// expires first, exercising the DeadlineExceeded classification path.
		Execution: registry.Execution{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Dispatch(ctx, tool, nil, nil)
	require.Error(t, err)
	mcpErr, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.KindTimeout, mcpErr.Kind)
}
