package mcpcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/auth"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/mcpcore"
	"github.com/mcpfed/mcpfed/internal/registry"
)

type fakeDispatcher struct {
	calls     int
	err       error
	lastToken *mcpcore.CancellationToken
}

func (f *fakeDispatcher) Dispatch(_ context.Context, tool registry.ToolDefinition, args map[string]any, token *mcpcore.CancellationToken) (string, error) {
	f.calls++
	f.lastToken = token
	if f.err != nil {
		return "", f.err
	}
	return "ok:" + tool.Name, nil
}

func weatherTool() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        "get_weather",
		Description: "fetches the weather",
		Enabled:     true,
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Routing:     registry.Routing{Type: registry.RoutingFunction, Func: &registry.FunctionRouting{Name: "get_weather"}},
	}
}

func newTestServer(t *testing.T, dispatcher mcpcore.Dispatcher, gate auth.Gate) (*mcpcore.Server, *registry.Registry) {
	t.Helper()
	logger := logging.New(logging.DefaultConfig())
	reg := registry.NewRegistry(logger)
	reg.ReloadLocal([]registry.ToolDefinition{weatherTool()})

	srv := mcpcore.New(reg, dispatcher, nil, gate, mcpcore.DefaultConfig(), logger)
	return srv, reg
}

func TestCancellationTokenLifecycle(t *testing.T) {
	tok := mcpcore.NewCancellationToken("tok-1", "op-1", time.Minute)
	assert.Equal(t, mcpcore.TokenLive, tok.State())

	assert.True(t, tok.RequestGraceful())
	assert.Equal(t, mcpcore.TokenGracefulRequested, tok.State())
	assert.True(t, tok.CancelRequested())
	assert.False(t, tok.ForceRequested())

	assert.True(t, tok.RequestForce())
	assert.Equal(t, mcpcore.TokenForceRequested, tok.State())
	assert.True(t, tok.ForceRequested())

	tok.Complete()
	assert.Equal(t, mcpcore.TokenCompleted, tok.State())

	// Terminal states reject further transitions.
	assert.False(t, tok.RequestGraceful())
	assert.False(t, tok.RequestForce())
}

func TestCancellationTokenExpiry(t *testing.T) {
	tok := mcpcore.NewCancellationToken("tok-2", "op-2", time.Millisecond)
	past := time.Now().Add(time.Hour)
	assert.True(t, tok.ExpireIfPast(past))
	assert.Equal(t, mcpcore.TokenExpired, tok.State())

	// Already terminal: expiry check is a no-op.
	assert.False(t, tok.ExpireIfPast(past))
}

func TestProgressSessionWeightedAggregation(t *testing.T) {
	p := mcpcore.NewProgressSession("sess-1", "op-1")
	p.UpdateSubOperation("download", 3, 100, "downloaded")
	p.UpdateSubOperation("process", 1, 0, "queued")

	state, pct, _ := p.Snapshot()
	assert.Equal(t, mcpcore.ProgressInProgress, state)
	assert.InDelta(t, 75.0, pct, 0.01) // (3*100 + 1*0) / 4

	p.UpdateSubOperation("process", 1, 100, "done")
	_, pct, _ = p.Snapshot()
	assert.InDelta(t, 100.0, pct, 0.01)
}

func TestProgressSessionMonotonicUnlessPaused(t *testing.T) {
	p := mcpcore.NewProgressSession("sess-2", "op-2")
	p.UpdateSubOperation("only", 1, 80, "most of the way")
	_, pct, _ := p.Snapshot()
	assert.InDelta(t, 80.0, pct, 0.01)

	// A lower reading is clamped to the prior high-water mark.
	p.UpdateSubOperation("only", 1, 40, "regressed")
	_, pct, _ = p.Snapshot()
	assert.InDelta(t, 80.0, pct, 0.01)

	p.Pause()
	p.UpdateSubOperation("only", 1, 40, "resumed lower after pause")
	_, pct, _ = p.Snapshot()
	assert.InDelta(t, 40.0, pct, 0.01)
}

func TestProgressSessionFinishCompleted(t *testing.T) {
	p := mcpcore.NewProgressSession("sess-3", "op-3")
	p.UpdateSubOperation("only", 1, 10, "start")
	p.Finish(mcpcore.ProgressCompleted)
	state, pct, _ := p.Snapshot()
	assert.Equal(t, mcpcore.ProgressCompleted, state)
	assert.Equal(t, 100.0, pct)
}

func TestServerNewCancellationTokenAndCancel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{}, auth.AllowAll{})
	tok := srv.NewCancellationToken("tok-a", "op-a", time.Minute)
	assert.Equal(t, mcpcore.TokenLive, tok.State())

	assert.True(t, srv.Cancel("tok-a", false))
	assert.Equal(t, mcpcore.TokenGracefulRequested, tok.State())
	assert.False(t, srv.Cancel("unknown-token", false))
}

func TestServerProgressSessionIsReusedPerID(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{}, auth.AllowAll{})
	a := srv.ProgressSession("s1", "op1")
	b := srv.ProgressSession("s1", "op1")
	require.Same(t, a, b)
}

func TestDispatchReceivesALiveTokenPerCall(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv, reg := newTestServer(t, dispatcher, auth.AllowAll{})
	tool, ok := reg.Snapshot().Get("get_weather")
	require.True(t, ok)

	result, err := srv.InvokeForTest(context.Background(), tool, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.NotNil(t, dispatcher.lastToken)
	assert.Equal(t, mcpcore.TokenCompleted, dispatcher.lastToken.State())
}
