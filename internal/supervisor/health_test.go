package supervisor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/mcpfed/internal/config"
)

func TestProcessHealthProbeReflectsRunningPID(t *testing.T) {
	skipOnWindows(t)

	cfg := config.ProcessConfig{
		Name:                   "probed",
		Command:                "/bin/sh",
		Args:                   []string{"-c", "sleep 5"},
		RestartPolicy:          "never",
		HealthCheckIntervalSec: 1,
	}
	p := newProcess(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.Start(ctx)
	require.Eventually(t, func() bool {
		return p.PID() != 0
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return p.LastHealth().Healthy
	}, 3*time.Second, 50*time.Millisecond)

	p.Stop()
	p.Wait()
}

func TestProcessHealthProbeFailsWhenHealthCheckURLIsDown(t *testing.T) {
	skipOnWindows(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.ProcessConfig{
		Name:                   "unhealthy",
		Command:                "/bin/sh",
		Args:                   []string{"-c", "sleep 5"},
		RestartPolicy:          "never",
		HealthCheckIntervalSec: 1,
		HealthCheckURL:         server.URL,
	}
	p := newProcess(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.Start(ctx)
	require.Eventually(t, func() bool {
		h := p.LastHealth()
		return h.RSSBytes > 0 || h.Err != ""
	}, 3*time.Second, 50*time.Millisecond)

	assert.False(t, p.LastHealth().Healthy)

	p.Stop()
	p.Wait()
}
