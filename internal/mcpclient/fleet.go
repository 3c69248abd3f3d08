package mcpclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpfed/mcpfed/internal/config"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
)

// Fleet owns one Server per configured external MCP entry and implements
// dispatch.RemoteForwarder so the Dispatch Router can reach them without
// depending on this package directly.
type Fleet struct {
	reg    *registry.Registry
	logger logging.Logger

	mu      sync.RWMutex
	servers map[string]*Server
	cancel  map[string]context.CancelFunc
}

// NewFleet builds a Fleet that publishes discovered tools into reg.
func NewFleet(reg *registry.Registry, logger logging.Logger) *Fleet {
	return &Fleet{
		reg:     reg,
		logger:  logger,
		servers: make(map[string]*Server),
		cancel:  make(map[string]context.CancelFunc),
	}
}

// Start launches one Server goroutine per configured entry. Each runs until
// ctx is cancelled or Stop is called for its id.
func (f *Fleet) Start(ctx context.Context, entries []config.ExternalMCPEntry) {
	for _, entry := range entries {
		f.startOne(ctx, entry)
	}
}

func (f *Fleet) startOne(ctx context.Context, entry config.ExternalMCPEntry) {
	serverCtx, cancel := context.WithCancel(ctx)
	server := NewServer(entry, f.reg.ApplyExternalTools, f.logger)

	f.mu.Lock()
	f.servers[entry.ID] = server
	f.cancel[entry.ID] = cancel
	f.mu.Unlock()

	go server.Run(serverCtx)
}

// Stop tears down the connection for one server id, removing its tools from
// the registry.
func (f *Fleet) Stop(id string) {
	f.mu.Lock()
	cancel, ok := f.cancel[id]
	delete(f.cancel, id)
	delete(f.servers, id)
	f.mu.Unlock()

	if ok {
		cancel()
	}
	f.reg.RemoveExternalServer(id)
}

// StopAll tears down every managed connection.
func (f *Fleet) StopAll() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.servers))
	for id := range f.servers {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Stop(id)
	}
}

// CallTool implements dispatch.RemoteForwarder.
func (f *Fleet) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (string, error) {
	f.mu.RLock()
	server, ok := f.servers[serverID]
	f.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("external mcp server %q is not registered", serverID)
	}
	return server.CallTool(ctx, toolName, args)
}

// Descriptors returns the health projection of every managed server.
func (f *Fleet) Descriptors() []Descriptor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Descriptor, 0, len(f.servers))
	for _, server := range f.servers {
		out = append(out, server.Descriptor())
	}
	return out
}
