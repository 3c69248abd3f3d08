// Package config resolves the proxy's single typed configuration value.
//
// Precedence (highest to lowest), per the spec's redesign note:
//  1. Environment variables (MCPFED_ prefixed)
//  2. Configuration file (YAML)
//  3. Hardcoded defaults
//
// Downstream code consumes the resolved *Config value returned by Load and
// reads no YAML node directly. The environment is read outside this package
// in two places: internal/llm falls back to a provider's default API-key
// variable, and internal/dispatch substitutes ${ENV} placeholders in routing
// templates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single resolved configuration value for the whole proxy.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Registry     RegistryConfig     `yaml:"registry"`
	Discovery    SmartDiscovery     `yaml:"smart_discovery"`
	Semantic     SemanticSearch     `yaml:"semantic_search"`
	Embedding    EmbeddingManager   `yaml:"embedding_manager"`
	ExternalMCP  []ExternalMCPEntry `yaml:"external_mcp_servers"`
	Auth         AuthConfig         `yaml:"auth"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Logging      LoggingConfig      `yaml:"logging"`
	DataDir      string             `yaml:"data_dir"`
}

// ServerConfig controls the front-end MCP surface.
type ServerConfig struct {
	Stdio bool `yaml:"stdio"`
	// Transport selects the non-stdio listener: http (streamable HTTP,
	// default), websocket, or sse. Ignored when Stdio is set.
	Transport          string `yaml:"transport"`
	HTTPPort           int    `yaml:"http_port"`
	WebSocketPort      int    `yaml:"websocket_port"`
	SSEPort            int    `yaml:"sse_port"`
	MaxInFlightPerConn int    `yaml:"max_in_flight_per_connection"`
	GracefulTimeoutSec int    `yaml:"graceful_timeout_seconds"`
	Name               string `yaml:"name"`
}

// RegistryConfig controls the capability registry.
type RegistryConfig struct {
	Roots                   []string `yaml:"roots"`
	ConflictResolution      string   `yaml:"conflict_resolution"` // local_first | external_first | error
	DebounceMillis          int      `yaml:"debounce_millis"`
	StrictUnknownFields     bool     `yaml:"strict_unknown_fields"`
	ExposeSmartDiscoveryOnly bool    `yaml:"expose_smart_discovery_only"`
}

// SmartDiscovery controls the discovery engine.
type SmartDiscovery struct {
	Enabled                  bool    `yaml:"enabled"`
	DefaultConfidenceThreshold float64 `yaml:"default_confidence_threshold"`
	SemanticWeight            float64 `yaml:"semantic_weight"`
	RuleWeight                float64 `yaml:"rule_weight"`
	LLMWeight                  float64 `yaml:"llm_weight"`
	SemanticEnabled            bool    `yaml:"semantic_enabled"`
	RuleEnabled                bool    `yaml:"rule_enabled"`
	LLMEnabled                 bool    `yaml:"llm_enabled"`
	TopK                       int     `yaml:"top_k"`
	MaxLLMCandidates           int     `yaml:"max_llm_candidates"`
	LLM                        LLMConfig `yaml:"llm"`
}

// LLMConfig selects and configures the LLM provider plugin.
type LLMConfig struct {
	Provider string            `yaml:"provider"` // openai | google | mock
	Model    string            `yaml:"model"`
	APIKeys  map[string]string `yaml:"api_keys"`
}

// SemanticSearch controls embedding model identity used for similarity search.
type SemanticSearch struct {
	ModelIdentifier string `yaml:"model_identifier"`
	Dimensions      int    `yaml:"dimensions"`
}

// EmbeddingManager controls embedding lifecycle management.
type EmbeddingManager struct {
	BatchSize          int `yaml:"batch_size"`
	CheckIntervalSec   int `yaml:"check_interval_seconds"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackupRotations    int `yaml:"backup_rotations"`
}

// ExternalMCPEntry configures one back-end MCP server connection.
type ExternalMCPEntry struct {
	ID                   string            `yaml:"id"`
	Transport            string            `yaml:"transport"` // stdio | websocket | sse | streamable_http
	Command              string            `yaml:"command,omitempty"`
	Args                 []string          `yaml:"args,omitempty"`
	Env                  map[string]string `yaml:"env,omitempty"`
	WorkingDir           string            `yaml:"working_dir,omitempty"`
	BaseURL              string            `yaml:"base_url,omitempty"`
	SSEEndpoint          string            `yaml:"sse_endpoint,omitempty"`
	Path                 string            `yaml:"path,omitempty"`
	Headers              map[string]string `yaml:"headers,omitempty"`
	NamespacePattern      string           `yaml:"namespace_pattern,omitempty"` // default "{server_id}_{tool_name}"
	HeartbeatIntervalSec int               `yaml:"heartbeat_interval_seconds"`
	PongTimeoutSec       int               `yaml:"pong_timeout_seconds"`
	ReconnectDelayMillis int               `yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMs  int               `yaml:"max_reconnect_delay_ms"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"`
}

// AuthConfig controls the authorization gate.
type AuthConfig struct {
	Mode          string `yaml:"mode"` // allow_all | bearer_jwt
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// SupervisorConfig controls the process supervisor.
type SupervisorConfig struct {
	ControlPort         int                `yaml:"control_port"`
	Processes           []ProcessConfig    `yaml:"processes"`
	AllowUnsafeCommands bool               `yaml:"allow_unsafe_commands"`
}

// ProcessConfig describes one supervised child process.
type ProcessConfig struct {
	Name                string            `yaml:"name"`
	Command             string            `yaml:"command"`
	Args                []string          `yaml:"args"`
	WorkingDir          string            `yaml:"working_dir"`
	Env                 map[string]string `yaml:"env"`
	RestartPolicy       string            `yaml:"restart_policy"` // always | on_failure | never
	MaxRestarts         int               `yaml:"max_restarts"`
	InitialBackoffMillis int              `yaml:"initial_backoff_millis"`
	MaxBackoffMillis    int               `yaml:"max_backoff_millis"`
	BackoffMultiplier   float64           `yaml:"backoff_multiplier"`
	HealthCheckIntervalSec int            `yaml:"health_check_interval_seconds"`
	HealthCheckURL      string            `yaml:"health_check_url"`
	StableRunWindowSec  int               `yaml:"stable_run_window_seconds"`
}

// LoggingConfig controls the logging sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EnvPrefix is the environment variable prefix used for overrides.
const EnvPrefix = "MCPFED_"

// Default returns the hardcoded default configuration. Port defaults are
// fixed here and nowhere else in the tree (Open Question #1 resolution).
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Server: ServerConfig{
			Stdio:              true,
			Transport:          "http",
			HTTPPort:           8080,
			WebSocketPort:      8081,
			SSEPort:            8082,
			MaxInFlightPerConn: 100,
			GracefulTimeoutSec: 10,
			Name:               "mcpfed",
		},
		Registry: RegistryConfig{
			Roots:              []string{"./capabilities"},
			ConflictResolution: "local_first",
			DebounceMillis:     300,
		},
		Discovery: SmartDiscovery{
			Enabled:                    true,
			DefaultConfidenceThreshold: 0.5,
			SemanticWeight:             0.30,
			RuleWeight:                 0.15,
			LLMWeight:                  0.55,
			SemanticEnabled:            true,
			RuleEnabled:                true,
			LLMEnabled:                 true,
			TopK:                       30,
			MaxLLMCandidates:           30,
			LLM: LLMConfig{
				Provider: "mock",
			},
		},
		Semantic: SemanticSearch{
			ModelIdentifier: "local-simhash-v1",
			Dimensions:      384,
		},
		Embedding: EmbeddingManager{
			BatchSize:       10,
			CheckIntervalSec: 300,
			MaxAttempts:     5,
			BackupRotations: 3,
		},
		Auth: AuthConfig{
			Mode: "allow_all",
		},
		Supervisor: SupervisorConfig{
			ControlPort: 7111,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads a YAML configuration file, layers it over Default(), applies
// environment overrides, resolves env:// API key references, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := resolveAPIKeyReferences(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies MCPFED_-prefixed environment variables, taking
// precedence over anything loaded from file.
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}
	f := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	i("SERVER_HTTP_PORT", &cfg.Server.HTTPPort)
	i("SERVER_WEBSOCKET_PORT", &cfg.Server.WebSocketPort)
	i("SERVER_SSE_PORT", &cfg.Server.SSEPort)
	str("SERVER_TRANSPORT", &cfg.Server.Transport)
	b("SERVER_STDIO", &cfg.Server.Stdio)
	str("REGISTRY_CONFLICT_RESOLUTION", &cfg.Registry.ConflictResolution)
	b("REGISTRY_EXPOSE_SMART_DISCOVERY_ONLY", &cfg.Registry.ExposeSmartDiscoveryOnly)
	b("DISCOVERY_ENABLED", &cfg.Discovery.Enabled)
	f("DISCOVERY_CONFIDENCE_THRESHOLD", &cfg.Discovery.DefaultConfidenceThreshold)
	str("DISCOVERY_LLM_PROVIDER", &cfg.Discovery.LLM.Provider)
	str("DISCOVERY_LLM_MODEL", &cfg.Discovery.LLM.Model)
	i("SUPERVISOR_CONTROL_PORT", &cfg.Supervisor.ControlPort)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("LOGGING_LEVEL", &cfg.Logging.Level)

	// Open Question #3 resolution: expose_smart_discovery_only is meaningless
	// (and forced off) when smart discovery itself is disabled.
	if !cfg.Discovery.Enabled {
		cfg.Registry.ExposeSmartDiscoveryOnly = false
	}
}

// resolveAPIKeyReferences resolves "env://VAR_NAME" references in LLM API keys.
func resolveAPIKeyReferences(cfg *Config) error {
	if cfg.Discovery.LLM.APIKeys == nil {
		return nil
	}
	for provider, ref := range cfg.Discovery.LLM.APIKeys {
		if strings.HasPrefix(ref, "env://") {
			envVar := strings.TrimPrefix(ref, "env://")
			value := os.Getenv(envVar)
			if value == "" {
				continue // provider might not be in use
			}
			cfg.Discovery.LLM.APIKeys[provider] = value
		}
	}
	return nil
}

// Validate checks structural invariants of the resolved configuration.
func Validate(cfg *Config) error {
	switch cfg.Server.Transport {
	case "http", "websocket", "sse":
	default:
		return fmt.Errorf("invalid server.transport: %q", cfg.Server.Transport)
	}

	switch cfg.Registry.ConflictResolution {
	case "local_first", "external_first", "error":
	default:
		return fmt.Errorf("invalid registry.conflict_resolution: %q", cfg.Registry.ConflictResolution)
	}

	if cfg.Discovery.DefaultConfidenceThreshold < 0 || cfg.Discovery.DefaultConfidenceThreshold > 1 {
		return fmt.Errorf("smart_discovery.default_confidence_threshold must be in [0,1]")
	}

	for _, entry := range cfg.ExternalMCP {
		switch entry.Transport {
		case "stdio", "websocket", "sse", "streamable_http":
		default:
			return fmt.Errorf("external_mcp_servers[%s]: invalid transport %q", entry.ID, entry.Transport)
		}
		if entry.ID == "" {
			return fmt.Errorf("external_mcp_servers: entry missing id")
		}
	}

	switch cfg.Auth.Mode {
	case "allow_all", "bearer_jwt":
	default:
		return fmt.Errorf("invalid auth.mode: %q", cfg.Auth.Mode)
	}

	return nil
}

// DefaultTimeout is the default per-tool-call timeout (§5).
const DefaultTimeout = 30 * time.Second
