// Package mcpcore implements the MCP Protocol Core: session lifecycle,
// cancellation tokens, progress session aggregation, and structured error
// mapping layered on top of mark3labs/mcp-go's wire-level JSON-RPC framing,
// which already speaks stdio, SSE, and streamable HTTP.
package mcpcore

import (
	"sync"
	"time"

	"github.com/mcpfed/mcpfed/internal/mcperr"
)

// TokenState is a Cancellation Token's lifecycle state.
type TokenState string

const (
	TokenLive             TokenState = "live"
	TokenGracefulRequested TokenState = "graceful_requested"
	TokenForceRequested   TokenState = "force_requested"
	TokenCompleted        TokenState = "completed"
	TokenExpired          TokenState = "expired"
)

func isTerminal(s TokenState) bool {
	return s == TokenCompleted || s == TokenExpired
}

// CancellationToken tracks one in-flight operation's cancellation state.
// Once terminal, no further transitions are permitted (§3 invariant).
type CancellationToken struct {
	mu          sync.Mutex
	TokenID     string
	OperationID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	state       TokenState
}

// NewCancellationToken creates a live token for operationID.
func NewCancellationToken(tokenID, operationID string, ttl time.Duration) *CancellationToken {
	now := time.Now()
	return &CancellationToken{
		TokenID:     tokenID,
		OperationID: operationID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		state:       TokenLive,
	}
}

// State returns the token's current state.
func (t *CancellationToken) State() TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RequestGraceful transitions a live token to graceful_requested. A no-op
// (returns false) if the token is already terminal or past graceful.
func (t *CancellationToken) RequestGraceful() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTerminal(t.state) || t.state != TokenLive {
		return false
	}
	t.state = TokenGracefulRequested
	return true
}

// RequestForce transitions to force_requested from any non-terminal state.
func (t *CancellationToken) RequestForce() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTerminal(t.state) {
		return false
	}
	t.state = TokenForceRequested
	return true
}

// Complete marks the token completed, terminal regardless of prior state
// (an operation that finishes on its own still retires its token).
func (t *CancellationToken) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTerminal(t.state) {
		t.state = TokenCompleted
	}
}

// ExpireIfPast transitions to expired if ExpiresAt has passed and the token
// is not already terminal.
func (t *CancellationToken) ExpireIfPast(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTerminal(t.state) || now.Before(t.ExpiresAt) {
		return false
	}
	t.state = TokenExpired
	return true
}

// CancelRequested reports whether a graceful or force cancellation has been
// requested; executors poll this between logical steps.
func (t *CancellationToken) CancelRequested() bool {
	s := t.State()
	return s == TokenGracefulRequested || s == TokenForceRequested
}

// ForceRequested reports whether the executor must stop immediately rather
// than finish its current step.
func (t *CancellationToken) ForceRequested() bool {
	return t.State() == TokenForceRequested
}

// ProgressState mirrors the Progress Session's state enum.
type ProgressState string

const (
	ProgressInitializing ProgressState = "initializing"
	ProgressInProgress   ProgressState = "in_progress"
	ProgressPaused       ProgressState = "paused"
	ProgressCompleted    ProgressState = "completed"
	ProgressFailed       ProgressState = "failed"
	ProgressCancelled    ProgressState = "cancelled"
)

// SubOperation is one weighted component of an aggregate progress session.
type SubOperation struct {
	Name       string
	Weight     float64
	Percentage float64
}

// ProgressEvent is one entry in a progress session's history.
type ProgressEvent struct {
	At         time.Time
	State      ProgressState
	Percentage float64
	Step       string
}

// ProgressSession tracks one operation's progress, aggregating weighted
// sub-operations into a single monotonic percentage.
type ProgressSession struct {
	mu          sync.Mutex
	SessionID   string
	OperationID string
	state       ProgressState
	percentage  float64
	step        string
	subOps      map[string]*SubOperation
	history     []ProgressEvent
}

// NewProgressSession creates a session in the Initializing state.
func NewProgressSession(sessionID, operationID string) *ProgressSession {
	return &ProgressSession{
		SessionID:   sessionID,
		OperationID: operationID,
		state:       ProgressInitializing,
		subOps:      make(map[string]*SubOperation),
	}
}

// UpdateSubOperation sets or adds a named weighted sub-operation's
// percentage and recomputes the aggregate, which is monotonic
// non-decreasing unless the session is Paused first.
func (p *ProgressSession) UpdateSubOperation(name string, weight, percentage float64, step string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	p.subOps[name] = &SubOperation{Name: name, Weight: weight, Percentage: percentage}

	var weightedSum, totalWeight float64
	for _, s := range p.subOps {
		weightedSum += s.Weight * s.Percentage
		totalWeight += s.Weight
	}
	aggregate := p.percentage
	if totalWeight > 0 {
		aggregate = weightedSum / totalWeight
	}

	if p.state != ProgressPaused && aggregate < p.percentage {
		aggregate = p.percentage // monotonic non-decreasing invariant
	}

	p.percentage = aggregate
	p.step = step
	p.state = ProgressInProgress
	p.record(step)
}

// Pause explicitly resets the monotonicity invariant, permitting a lower
// percentage on the next update.
func (p *ProgressSession) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ProgressPaused
	p.record("")
}

// Finish transitions to a terminal state (Completed, Failed, or Cancelled).
func (p *ProgressSession) Finish(state ProgressState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if state == ProgressCompleted {
		p.percentage = 100
	}
	p.record("")
}

func (p *ProgressSession) record(step string) {
	p.history = append(p.history, ProgressEvent{At: time.Now(), State: p.state, Percentage: p.percentage, Step: step})
}

// Snapshot returns a consistent read of the session's current state.
func (p *ProgressSession) Snapshot() (state ProgressState, percentage float64, step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.percentage, p.step
}

// RenderError maps an mcperr.Error onto the wire's JSON-RPC error shape.
func RenderError(err error) (code int, message string, data map[string]any) {
	if mcpErr, ok := mcperr.As(err); ok {
		return mcpErr.Kind.JSONRPCCode(), mcpErr.Message, mcpErr.Data
	}
	wrapped := mcperr.Wrap(mcperr.KindInternal, err.Error(), err)
	return wrapped.Kind.JSONRPCCode(), wrapped.Message, wrapped.Data
}
