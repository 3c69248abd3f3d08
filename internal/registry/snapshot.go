package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mcpfed/mcpfed/internal/logging"
)

// SmartDiscoveryToolName is the single tool collapsing the back-end surface.
const SmartDiscoveryToolName = "smart_tool_discovery"

// Snapshot is an immutable, read-mostly view of the merged tool set. Readers
// obtain one via Registry.Snapshot and never lock: the Registry swaps an
// atomically-replaced pointer on every update (§4.2, §5).
type Snapshot struct {
	tools map[string]ToolDefinition
	order []string // stable iteration order (insertion-ish, kept for deterministic listings)
}

// Get returns a tool by name.
func (s *Snapshot) Get(name string) (ToolDefinition, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// All returns every tool in the snapshot, in stable order.
func (s *Snapshot) All() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name])
	}
	return out
}

// Len returns the number of tools in the snapshot.
func (s *Snapshot) Len() int { return len(s.tools) }

// Registry is the single-writer owner of the Capability Registry's canonical
// state. Exactly one goroutine (the reload loop, or direct callers of
// Reload/ApplyExternalTools under the write mutex) mutates state; all reads
// go through an atomically-loaded *Snapshot.
type Registry struct {
	snapshot atomic.Pointer[Snapshot]

	writeMu sync.Mutex

	conflictResolution string // local_first | external_first | error
	userDisabled       map[string]bool
	validators         map[string]Validator

	localTools    []ToolDefinition            // most recent successful file-load result
	externalTools map[string][]ToolDefinition // server_id -> tools discovered from that client

	exposeSmartDiscoveryOnly bool
	smartDiscoveryEnabled    bool

	diagnostics chan error

	logger logging.Logger
}

// Option configures a new Registry.
type Option func(*Registry)

// WithConflictResolution sets the duplicate-name resolution policy.
func WithConflictResolution(policy string) Option {
	return func(r *Registry) { r.conflictResolution = policy }
}

// WithVisibility sets the expose_smart_discovery_only / smart-discovery-enabled flags.
func WithVisibility(exposeSmartDiscoveryOnly, smartDiscoveryEnabled bool) Option {
	return func(r *Registry) {
		r.exposeSmartDiscoveryOnly = exposeSmartDiscoveryOnly && smartDiscoveryEnabled
		r.smartDiscoveryEnabled = smartDiscoveryEnabled
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		conflictResolution: "local_first",
		userDisabled:       make(map[string]bool),
		validators:         make(map[string]Validator),
		externalTools:      make(map[string][]ToolDefinition),
		diagnostics:        make(chan error, 64),
		logger:             logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot.Store(&Snapshot{tools: map[string]ToolDefinition{}, order: nil})
	return r
}

// Diagnostics returns the channel on which parse/reload errors are surfaced
// without ever causing the registry to serve a partial snapshot.
func (r *Registry) Diagnostics() <-chan error { return r.diagnostics }

// Snapshot returns the current immutable snapshot. Safe for concurrent use,
// never blocks on writers.
func (r *Registry) Snapshot() *Snapshot { return r.snapshot.Load() }

// MarkUserDisabled records that name was explicitly disabled by a user
// (the visibility CLI), engaging the preserve-user-settings rule (§4.2): a
// later external re-import that only changes configuration, not content
// hash, must not silently re-enable it.
func (r *Registry) MarkUserDisabled(name string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.userDisabled[name] = true
	r.rebuild()
}

// ClearUserDisabled removes the user-disabled marker for name.
func (r *Registry) ClearUserDisabled(name string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	delete(r.userDisabled, name)
	r.rebuild()
}

// ReloadLocal replaces the local (file-loaded) tool set and rebuilds the
// snapshot. Called by the hot-reload watcher and by an explicit reload.
func (r *Registry) ReloadLocal(tools []ToolDefinition) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.localTools = tools
	r.rebuild()
}

// ApplyExternalTools replaces the tool set discovered from one external MCP
// client (keyed by server_id, per §9's cyclic-reference-avoidance note: the
// registry never holds a pointer back to the client, only its id and the
// tools it last reported).
func (r *Registry) ApplyExternalTools(serverID string, tools []ToolDefinition) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if len(tools) == 0 {
		delete(r.externalTools, serverID)
	} else {
		r.externalTools[serverID] = tools
	}
	r.rebuild()
}

// RemoveExternalServer drops all tools previously reported by serverID.
func (r *Registry) RemoveExternalServer(serverID string) {
	r.ApplyExternalTools(serverID, nil)
}

// rebuild merges local and external tool sets under the configured conflict
// policy and the preserve-user-disabled rule, then atomically swaps the
// snapshot. Must be called with writeMu held.
func (r *Registry) rebuild() {
	merged := make(map[string]ToolDefinition)
	var order []string

	addTool := func(t ToolDefinition, external bool) error {
		existing, exists := merged[t.Name]
		if exists {
			switch r.conflictResolution {
			case "local_first":
				if external && existing.SourcePath != "" {
					return nil // keep local
				}
			case "external_first":
				if !external && existing.SourceServerID != "" {
					return nil // keep external
				}
			case "error":
				return fmt.Errorf("duplicate tool name %q from both %q and external source", t.Name, existing.SourcePath)
			}
		} else {
			order = append(order, t.Name)
		}

		if r.userDisabled[t.Name] {
			t.Enabled = false
		}

		merged[t.Name] = t
		return nil
	}

	for _, t := range r.localTools {
		if err := addTool(t, false); err != nil {
			r.surfaceDiagnostic(err)
		}
	}

	serverIDs := make([]string, 0, len(r.externalTools))
	for id := range r.externalTools {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)
	for _, id := range serverIDs {
		for _, t := range r.externalTools[id] {
			t.SourceServerID = id
			if err := addTool(t, true); err != nil {
				r.surfaceDiagnostic(err)
			}
		}
	}

	r.applyVisibility(merged)

	r.snapshot.Store(&Snapshot{tools: merged, order: order})
}

// applyVisibility enforces expose_smart_discovery_only (§4.2, Open Question
// #3): when set, every tool but smart_tool_discovery is hidden from list,
// but still reachable via call. Ignored entirely when smart discovery itself
// is disabled.
func (r *Registry) applyVisibility(merged map[string]ToolDefinition) {
	if !r.exposeSmartDiscoveryOnly {
		return
	}
	for name, t := range merged {
		if name == SmartDiscoveryToolName {
			continue
		}
		t.Hidden = true
		merged[name] = t
	}
}

func (r *Registry) surfaceDiagnostic(err error) {
	r.logger.Warn().Err(err).Msg("registry diagnostic")
	select {
	case r.diagnostics <- err:
	default:
	}
}

// ListVisible returns the tools§4.2's tools/list must return: non-hidden,
// enabled tools, plus smart_tool_discovery if enabled.
func (s *Snapshot) ListVisible(smartDiscoveryEnabled bool) []ToolDefinition {
	var out []ToolDefinition
	for _, t := range s.All() {
		if t.Name == SmartDiscoveryToolName {
			continue
		}
		if t.Hidden || !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	if smartDiscoveryEnabled {
		if sd, ok := s.Get(SmartDiscoveryToolName); ok {
			out = append(out, sd)
		}
	}
	return out
}
