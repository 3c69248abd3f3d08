// Package registry implements the Capability Registry: tool definitions
// loaded from YAML trees, merged with tools discovered from external MCP
// clients, served as a read-mostly copy-on-write snapshot with hot reload,
// visibility rules, and content-hash-based change detection.
package registry

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// SecurityClassification mirrors §3's Tool Definition security tiers.
type SecurityClassification string

const (
	SecuritySafe       SecurityClassification = "safe"
	SecurityRestricted SecurityClassification = "restricted"
	SecurityPrivileged SecurityClassification = "privileged"
	SecurityDangerous  SecurityClassification = "dangerous"
	SecurityBlocked    SecurityClassification = "blocked"
)

// RoutingKind enumerates the tagged routing variants of §3.
type RoutingKind string

const (
	RoutingCommand         RoutingKind = "command"
	RoutingHTTP            RoutingKind = "http"
	RoutingRemoteMCPForward RoutingKind = "remote_mcp_forward"
	RoutingFunction        RoutingKind = "function"
)

// Routing is the tagged-variant back-end binding for a tool.
type Routing struct {
	Type    RoutingKind      `yaml:"type" json:"type"`
	Command *CommandRouting  `yaml:"command,omitempty" json:"command,omitempty"`
	HTTP    *HTTPRouting     `yaml:"http,omitempty" json:"http,omitempty"`
	Remote  *RemoteMCPRouting `yaml:"remote_mcp_forward,omitempty" json:"remote_mcp_forward,omitempty"`
	Func    *FunctionRouting `yaml:"function,omitempty" json:"function,omitempty"`
}

// Validate checks that Routing.Type is consistent with the data it carries.
func (r Routing) Validate() error {
	switch r.Type {
	case RoutingCommand:
		if r.Command == nil {
			return fmt.Errorf("routing type %q requires a command block", r.Type)
		}
	case RoutingHTTP:
		if r.HTTP == nil {
			return fmt.Errorf("routing type %q requires an http block", r.Type)
		}
	case RoutingRemoteMCPForward:
		if r.Remote == nil {
			return fmt.Errorf("routing type %q requires a remote_mcp_forward block", r.Type)
		}
	case RoutingFunction:
		if r.Func == nil {
			return fmt.Errorf("routing type %q requires a function block", r.Type)
		}
	default:
		return fmt.Errorf("unknown routing type %q", r.Type)
	}
	return nil
}

// CommandRouting spawns a subprocess with templated argv.
type CommandRouting struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// HTTPRouting builds an HTTP request from a template.
type HTTPRouting struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
}

// RemoteMCPRouting forwards to an external MCP client's tool.
type RemoteMCPRouting struct {
	ServerID string `yaml:"server_id" json:"server_id"`
	ToolName string `yaml:"tool_name" json:"tool_name"` // de-namespaced upstream name
}

// FunctionRouting dispatches to a registered in-process handler.
type FunctionRouting struct {
	Name string `yaml:"name" json:"name"`
}

// RateLimit is a per-tool token bucket configuration.
type RateLimit struct {
	BurstLimit       int `yaml:"burst_limit" json:"burst_limit"`
	MaxCallsPerMinute int `yaml:"max_calls_per_minute" json:"max_calls_per_minute"`
}

// CacheConfig is a per-tool response cache configuration.
type CacheConfig struct {
	TTLSeconds int      `yaml:"ttl_seconds" json:"ttl_seconds"`
	VaryBy     []string `yaml:"vary_by,omitempty" json:"vary_by,omitempty"`
}

// Execution carries cross-cutting dispatch settings for a tool.
type Execution struct {
	TimeoutSeconds        int          `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxAttempts           int          `yaml:"max_attempts" json:"max_attempts"`
	GracefulTimeoutSeconds int         `yaml:"graceful_timeout_seconds" json:"graceful_timeout_seconds"`
	RateLimit             *RateLimit   `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Cache                 *CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// ToolDefinition is the spec's Tool Definition (§3).
type ToolDefinition struct {
	Name                   string                 `yaml:"name" json:"name"`
	Description            string                 `yaml:"description" json:"description"`
	InputSchema            map[string]any         `yaml:"input_schema" json:"input_schema"`
	EnhancedDescription    string                 `yaml:"enhanced_description,omitempty" json:"enhanced_description,omitempty"`
	SemanticTags           []string               `yaml:"semantic_tags,omitempty" json:"semantic_tags,omitempty"`
	Keywords               []string               `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Categories             []string               `yaml:"categories,omitempty" json:"categories,omitempty"`
	ComplexityScore        float64                `yaml:"complexity_score,omitempty" json:"complexity_score,omitempty"`
	ConfidenceBoost        float64                `yaml:"confidence_boost,omitempty" json:"confidence_boost,omitempty"`
	SecurityClassification SecurityClassification `yaml:"security_classification,omitempty" json:"security_classification,omitempty"`
	Hidden                 bool                   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Enabled                bool                   `yaml:"enabled" json:"enabled"`
	Routing                Routing                `yaml:"routing" json:"routing"`
	Execution              Execution              `yaml:"execution,omitempty" json:"execution,omitempty"`
	ValidationExtensions   map[string]string      `yaml:"validation_extensions,omitempty" json:"validation_extensions,omitempty"`

	// SourcePath is the capability file this tool was loaded from, or empty
	// if it was discovered from an external MCP client.
	SourcePath string `yaml:"-" json:"-"`
	// SourceServerID is set when this tool was discovered from an external
	// MCP client, linking back by id rather than by pointer (§9).
	SourceServerID string `yaml:"-" json:"-"`
}

// ContentHash returns the stable digest over the fields that affect semantic
// identity: (name, description, enabled, hidden). Used by the Embedding
// Manager to detect change and avoid spurious regeneration.
func (t ToolDefinition) ContentHash() string {
	h := xxh3.New()
	fmt.Fprintf(h, "%s\x00%s\x00%t\x00%t", t.Name, t.Description, t.Enabled, t.Hidden)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Validate checks the structural invariants of a Tool Definition.
func (t ToolDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	if t.InputSchema == nil {
		return fmt.Errorf("tool %q missing input_schema", t.Name)
	}
	if err := t.Routing.Validate(); err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}
	switch t.SecurityClassification {
	case "", SecuritySafe, SecurityRestricted, SecurityPrivileged, SecurityDangerous, SecurityBlocked:
	default:
		return fmt.Errorf("tool %q: invalid security_classification %q", t.Name, t.SecurityClassification)
	}
	return nil
}

// CapabilityFile is a parsed YAML document (§3's Capability File).
type CapabilityFile struct {
	Tools []ToolDefinition `yaml:"tools"`
}
