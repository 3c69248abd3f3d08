// Package supervisor manages the lifetime of the proxy's child processes
// (the main proxy binary and any configured auxiliaries): spawn, restart on
// exit per a configurable policy and backoff, periodic health probing, and a
// line-framed TCP control plane for status/start/stop/restart/custom-restart
// commands.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
)

// State is the observable lifecycle state of one managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

const (
	defaultStopGrace         = 5 * time.Second
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultBackoffMultiplier = 2.0
)

// Process manages one configured child process: spawn, restart discipline,
// and a control surface for the TCP control plane to drive.
type Process struct {
	cfg    config.ProcessConfig
	logger logging.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	state        State
	restartCount int
	startedAt    time.Time
	lastExitErr  error
	argsOverride []string

	stopRequested    bool
	restartRequested bool
	lastHealth       Health

	exitCh chan struct{}
	doneCh chan struct{} // closed when runLoop returns
}

// NewProcess builds a Process in the Stopped state. Call Start to launch its
// run loop.
func NewProcess(cfg config.ProcessConfig, logger logging.Logger) *Process {
	return &Process{
		cfg:    cfg,
		logger: logger.With().Str("process", cfg.Name).Logger(),
		state:  StateStopped,
	}
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.cfg.Name }

// Start launches the run loop and the health loop in the background and
// returns without waiting for the first spawn. The run loop keeps respawning
// per the restart policy until ctx is cancelled or the process is explicitly
// stopped. Calling Start while a run loop is still active does nothing.
func (p *Process) Start(ctx context.Context) {
	p.mu.Lock()
	if p.doneCh != nil {
		select {
		case <-p.doneCh:
			// the previous run loop has exited; start a fresh one
		default:
			p.mu.Unlock()
			return // already running
		}
	}
	p.doneCh = make(chan struct{})
	p.stopRequested = false
	p.mu.Unlock()

	go p.runLoop(ctx)
	go p.healthLoop(ctx)
}

// runLoop owns the spawn/wait/restart cycle for the lifetime of the
// process, per §4.7: on exit, consult the policy; on failure, compute the
// next delay as min(max_delay, initial_delay * multiplier^restart_count),
// sleep, and respawn; reset the counter on a stable run.
func (p *Process) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	for {
		if err := p.spawn(); err != nil {
			p.logger.Error().Err(err).Msg("failed to start process")
			p.setState(StateFailed)
			return
		}

		exitErr := p.waitForExit(ctx)

		p.mu.Lock()
		stopped := p.stopRequested
		restarted := p.restartRequested
		p.restartRequested = false
		p.lastExitErr = exitErr
		p.mu.Unlock()

		if ctx.Err() != nil {
			p.setState(StateStopped)
			return
		}
		if stopped {
			p.setState(StateStopped)
			return
		}
		if restarted {
			continue // immediate respawn, no backoff, no policy consultation
		}

		if !p.shouldRestart(exitErr) {
			if exitErr != nil {
				p.setState(StateFailed)
			} else {
				p.setState(StateStopped)
			}
			return
		}

		if p.cfg.MaxRestarts > 0 && p.restartCountSnapshot() >= p.cfg.MaxRestarts {
			p.logger.Error().Int("max_restarts", p.cfg.MaxRestarts).Msg("restart budget exhausted, giving up")
			p.setState(StateFailed)
			return
		}

		p.mu.Lock()
		p.restartCount++
		count := p.restartCount
		p.mu.Unlock()

		backoff := p.backoffFor(count)
		p.setState(StateBackoff)
		p.logger.Warn().Err(exitErr).Dur("backoff", backoff).Int("restart_count", count).Msg("process exited, restarting")

		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			return
		case <-time.After(backoff):
		}
	}
}

func (p *Process) shouldRestart(exitErr error) bool {
	switch p.cfg.RestartPolicy {
	case "always", "":
		return true
	case "on_failure":
		return exitErr != nil
	case "never":
		return false
	default:
		return exitErr != nil
	}
}

func (p *Process) backoffFor(restartCount int) time.Duration {
	initial := time.Duration(p.cfg.InitialBackoffMillis) * time.Millisecond
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxDelay := time.Duration(p.cfg.MaxBackoffMillis) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}
	mult := p.cfg.BackoffMultiplier
	if mult <= 0 {
		mult = defaultBackoffMultiplier
	}

	delay := time.Duration(float64(initial) * math.Pow(mult, float64(restartCount)))
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}
	return delay
}

// spawn starts the underlying command. Caller must not hold p.mu.
func (p *Process) spawn() error {
	p.mu.Lock()
	args := p.cfg.Args
	if p.argsOverride != nil {
		args = p.argsOverride
	}
	p.mu.Unlock()

	//nolint:gosec // G204: spawning the configured child process is this package's purpose
	cmd := exec.Command(p.cfg.Command, args...)
	cmd.Dir = p.cfg.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	p.setState(StateStarting)
	if err := cmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.startedAt = time.Now()
	p.exitCh = make(chan struct{})
	p.mu.Unlock()
	p.setState(StateRunning)

	p.logger.Info().Int("pid", cmd.Process.Pid).Msg("process started")

	go p.reapOnExit(cmd)

	window := time.Duration(p.cfg.StableRunWindowSec) * time.Second
	if window > 0 {
		go p.resetCounterAfterStableRun(cmd, window)
	}

	return nil
}

func (p *Process) reapOnExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	if p.cmd == cmd {
		p.lastExitErr = err
		close(p.exitCh)
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn().Err(err).Msg("process exited")
	} else {
		p.logger.Info().Msg("process exited cleanly")
	}
}

// waitForExit blocks until the current process instance exits or ctx is
// cancelled (in which case the process is stopped gracefully first).
func (p *Process) waitForExit(ctx context.Context) error {
	p.mu.Lock()
	exitCh := p.exitCh
	p.mu.Unlock()

	select {
	case <-exitCh:
	case <-ctx.Done():
		p.stopProcess()
		<-exitCh
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastExitErr
}

// resetCounterAfterStableRun zeroes the restart counter once a spawned
// instance has survived window without exiting, per §4.7's stable-run reset.
func (p *Process) resetCounterAfterStableRun(cmd *exec.Cmd, window time.Duration) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	p.mu.Lock()
	exitCh := p.exitCh
	p.mu.Unlock()

	select {
	case <-exitCh:
	case <-timer.C:
		p.mu.Lock()
		if p.cmd == cmd {
			p.restartCount = 0
		}
		p.mu.Unlock()
	}
}

// Stop requests a graceful shutdown of the current instance and prevents
// the run loop from respawning it.
func (p *Process) Stop() {
	p.mu.Lock()
	p.stopRequested = true
	p.mu.Unlock()
	p.stopProcess()
}

// Restart stops the current instance and lets the run loop respawn it
// immediately, bypassing the backoff and restart-policy check.
func (p *Process) Restart() {
	p.mu.Lock()
	p.restartRequested = true
	p.mu.Unlock()
	p.stopProcess()
}

// CustomRestartWithArgs permanently overrides the spawn argv (until the next
// CustomRestartWithArgs call) and then behaves like Restart.
func (p *Process) CustomRestartWithArgs(args []string) {
	p.mu.Lock()
	p.argsOverride = args
	p.restartRequested = true
	p.mu.Unlock()
	p.stopProcess()
}

// stopProcess sends SIGTERM and escalates to SIGKILL after a grace period,
// mirroring the dispatch router's command executor cancellation sequence.
func (p *Process) stopProcess() {
	p.mu.Lock()
	cmd := p.cmd
	exitCh := p.exitCh
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exitCh:
	case <-time.After(defaultStopGrace):
		_ = cmd.Process.Kill()
		<-exitCh
	}
}

func (p *Process) restartCountSnapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartCount
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Status is the queryable projection of a process's current health, mirroring
// the External MCP Server Descriptor's shape for the control plane's status
// command.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	RestartCount int       `json:"restart_count"`
	LastError    string    `json:"last_error,omitempty"`
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Name:         p.cfg.Name,
		State:        p.state,
		RestartCount: p.restartCount,
		StartedAt:    p.startedAt,
	}
	if p.cmd != nil && p.cmd.Process != nil && p.state == StateRunning {
		st.PID = p.cmd.Process.Pid
	}
	if p.lastExitErr != nil {
		st.LastError = p.lastExitErr.Error()
	}
	return st
}

// PID returns the current process id, or 0 if not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || p.state != StateRunning {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the run loop has fully exited (ctx cancelled or stopped
// with no further restarts pending).
func (p *Process) Wait() {
	p.mu.Lock()
	done := p.doneCh
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}
