package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
)

// Supervisor owns one Process per configured entry and serves the TCP
// control plane described in §6.
type Supervisor struct {
	cfg    config.SupervisorConfig
	logger logging.Logger

	mu        sync.RWMutex
	processes map[string]*Process
}

// New builds a Supervisor for the given configuration. Call Start to launch
// every configured process.
func New(cfg config.SupervisorConfig, logger logging.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		logger:    logger,
		processes: make(map[string]*Process),
	}
	for _, pc := range cfg.Processes {
		s.processes[pc.Name] = NewProcess(pc, logger)
	}
	return s
}

// Start launches every managed process's run loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		p.Start(ctx)
	}
}

// StopAll gracefully stops every managed process.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		p.Stop()
	}
}

func (s *Supervisor) get(name string) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[name]
	if !ok {
		return nil, fmt.Errorf("no such managed process: %q", name)
	}
	return p, nil
}

// StatusAll returns every managed process's current status.
func (s *Supervisor) StatusAll() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p.Status())
	}
	return out
}

// StartProcess launches a single named process's run loop.
func (s *Supervisor) StartProcess(ctx context.Context, name string) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	p.Start(ctx)
	return nil
}

// StopProcess gracefully stops a single named process and prevents respawn.
func (s *Supervisor) StopProcess(name string) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	p.Stop()
	return nil
}

// RestartProcess stops and immediately respawns a single named process,
// bypassing the restart policy and backoff.
func (s *Supervisor) RestartProcess(name string) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}
	p.Restart()
	return nil
}

// CustomRestart runs pre_commands, stops the target, respawns it with args,
// then runs post_commands, per §4.7. Commands not marked is_safe are
// rejected unless the supervisor's allow_unsafe_commands is set.
func (s *Supervisor) CustomRestart(ctx context.Context, name string, req CustomRestartRequest) error {
	p, err := s.get(name)
	if err != nil {
		return err
	}

	for _, c := range req.PreCommands {
		if err := s.runControlCommand(ctx, c); err != nil {
			return fmt.Errorf("pre-command %q: %w", c.Cmd, err)
		}
	}

	if len(req.Args) > 0 {
		p.CustomRestartWithArgs(req.Args)
	} else {
		p.Restart()
	}

	for _, c := range req.PostCommands {
		if err := s.runControlCommand(ctx, c); err != nil {
			return fmt.Errorf("post-command %q: %w", c.Cmd, err)
		}
	}
	return nil
}

func (s *Supervisor) runControlCommand(ctx context.Context, c CommandSpec) error {
	if !c.IsSafe && !s.cfg.AllowUnsafeCommands {
		return fmt.Errorf("command %q is not marked is_safe and allow_unsafe_commands is disabled", c.Cmd)
	}
	return runCommand(ctx, c.Cmd, c.Args)
}
