package supervisor

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// healthLoop periodically probes the running instance's RSS/CPU via
// gopsutil and, if configured, an HTTP health_check_url. A probe failure is
// logged but does not by itself kill the process; the latest reading is kept
// for LastHealth and is not part of Status or the control plane's status
// response.
func (p *Process) healthLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.HealthCheckIntervalSec) * time.Second
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Process) probeOnce(ctx context.Context) {
	pid := p.PID()
	if pid == 0 {
		return
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		p.logger.Warn().Err(err).Int("pid", pid).Msg("health probe: process lookup failed")
		p.recordHealth(Health{Healthy: false, Err: err.Error()})
		return
	}

	cpuPct, cpuErr := proc.CPUPercent()
	rss, memErr := memoryRSS(proc)

	health := Health{Healthy: true, CPUPercent: cpuPct, RSSBytes: rss}
	if cpuErr != nil || memErr != nil {
		health.Healthy = false
	}

	if p.cfg.HealthCheckURL != "" {
		if err := probeHTTP(ctx, p.cfg.HealthCheckURL); err != nil {
			health.Healthy = false
			health.Err = err.Error()
		}
	}

	p.recordHealth(health)
}

func memoryRSS(proc *process.Process) (uint64, error) {
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0, err
	}
	return info.RSS, nil
}

func probeHTTP(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &httpHealthError{status: resp.StatusCode}
	}
	return nil
}

type httpHealthError struct {
	status int
}

func (e *httpHealthError) Error() string {
	return http.StatusText(e.status)
}

// Health is the latest health-probe reading for a managed process.
type Health struct {
	Healthy    bool
	CPUPercent float64
	RSSBytes   uint64
	Err        string
}

func (p *Process) recordHealth(h Health) {
	p.mu.Lock()
	p.lastHealth = h
	p.mu.Unlock()

	if !h.Healthy {
		p.logger.Warn().Str("err", h.Err).Msg("health probe reported unhealthy")
	}
}

// LastHealth returns the most recent health-probe reading.
func (p *Process) LastHealth() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHealth
}
