// Package embedmgr maintains an embedding vector per enabled, discoverable
// tool in the registry, reacting to registry snapshot changes and a
// periodic background sweep.
package embedmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcpfed/mcpfed/internal/llm"
	"github.com/mcpfed/mcpfed/internal/logging"
	"github.com/mcpfed/mcpfed/internal/registry"
	"github.com/mcpfed/mcpfed/internal/retry"
	"github.com/mcpfed/mcpfed/internal/storage"
	"github.com/mcpfed/mcpfed/pkg/embedding"
)

// Classification is the diff outcome for one tool against its last known
// embedded state.
type Classification int

const (
	UpToDate Classification = iota
	NeedsCreation
	NeedsUpdate
	ShouldRemove
)

func (c Classification) String() string {
	switch c {
	case UpToDate:
		return "up_to_date"
	case NeedsCreation:
		return "needs_creation"
	case NeedsUpdate:
		return "needs_update"
	case ShouldRemove:
		return "should_remove"
	default:
		return "unknown"
	}
}

// lastKnownState is the manager's view of a tool as of its last successful
// embedding, used to compute the next diff.
type lastKnownState struct {
	ContentHash  string
	Enabled      bool
	Hidden       bool
	Model        string
	UsedFallback bool
}

// Config controls batch size, retry, and background sweep cadence.
type Config struct {
	BatchSize       int
	CheckInterval   time.Duration
	MaxAttempts     int
	BackupRotations int
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		CheckInterval:   300 * time.Second,
		MaxAttempts:     5,
		BackupRotations: 3,
	}
}

// Manager owns embedding records for the tools in a Registry.
type Manager struct {
	reg   *registry.Registry
	store *storage.EmbeddingStore
	cfg   Config

	provider      llm.Provider
	embedder      llm.Embedder
	fallbackModel string

	logger logging.Logger

	mu      sync.Mutex
	state   map[string]lastKnownState
	records map[string]storage.EmbeddingRecord
}

// New constructs a Manager. provider may be nil, in which case every tool
// is embedded with the local fallback generator.
func New(reg *registry.Registry, store *storage.EmbeddingStore, provider llm.Provider, cfg Config, logger logging.Logger) *Manager {
	m := &Manager{
		reg:           reg,
		store:         store,
		cfg:           cfg,
		provider:      provider,
		fallbackModel: embedding.LocalModelIdentifier,
		logger:        logger,
		state:         make(map[string]lastKnownState),
		records:       make(map[string]storage.EmbeddingRecord),
	}
	if e, ok := provider.(llm.Embedder); ok {
		m.embedder = e
	}

	if loaded, err := store.Load(); err == nil {
		for name, rec := range loaded {
			m.records[name] = rec
			m.state[name] = lastKnownState{
				ContentHash:  rec.ContentHash,
				Model:        rec.ModelIdentifier,
				UsedFallback: rec.ModelIdentifier == m.fallbackModel,
			}
		}
	}

	return m
}

// Records returns a copy of the currently known embedding records, keyed by
// tool name.
func (m *Manager) Records() map[string]storage.EmbeddingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]storage.EmbeddingRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// diff classifies every tool in the snapshot plus any tool in m.state absent
// from the snapshot (ShouldRemove), excluding smart_tool_discovery itself.
func (m *Manager) diff(snap *registry.Snapshot) map[string]Classification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Classification)
	seen := make(map[string]bool)

	for _, t := range snap.All() {
		if t.Name == registry.SmartDiscoveryToolName {
			continue
		}
		seen[t.Name] = true
		if !t.Enabled || t.Hidden {
			if _, known := m.state[t.Name]; known {
				out[t.Name] = ShouldRemove
			}
			continue
		}

		prev, known := m.state[t.Name]
		hash := t.ContentHash()
		switch {
		case !known:
			out[t.Name] = NeedsCreation
		case prev.ContentHash != hash:
			out[t.Name] = NeedsUpdate
		case prev.UsedFallback && m.embedder != nil:
			// A real provider recovered after a fallback embed; refresh it.
			out[t.Name] = NeedsUpdate
		default:
			out[t.Name] = UpToDate
		}
	}

	for name := range m.state {
		if !seen[name] {
			out[name] = ShouldRemove
		}
	}

	return out
}

// Sync runs one diff-and-process pass against the registry's current
// snapshot, applying changes in configured batches.
func (m *Manager) Sync(ctx context.Context) error {
	snap := m.reg.Snapshot()
	classes := m.diff(snap)

	var toProcess []string
	var toRemove []string
	for name, c := range classes {
		switch c {
		case NeedsCreation, NeedsUpdate:
			toProcess = append(toProcess, name)
		case ShouldRemove:
			toRemove = append(toRemove, name)
		}
	}
	sort.Strings(toProcess)
	sort.Strings(toRemove)

	m.mu.Lock()
	for _, name := range toRemove {
		delete(m.state, name)
		delete(m.records, name)
	}
	m.mu.Unlock()

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var firstErr error
	for start := 0; start < len(toProcess); start += batchSize {
		end := start + batchSize
		if end > len(toProcess) {
			end = len(toProcess)
		}
		for _, name := range toProcess[start:end] {
			t, ok := snap.Get(name)
			if !ok {
				continue
			}
			if err := m.embedOne(ctx, t); err != nil {
				m.logger.Warn().Err(err).Str("tool", name).Msg("embedding failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if len(toRemove) > 0 || len(toProcess) > 0 {
		if err := m.persist(); err != nil {
			return fmt.Errorf("persisting embeddings: %w", err)
		}
	}

	return firstErr
}

// embedOne computes and records an embedding for t, retrying the embedding
// capability with exponential backoff (base 1s, max 30s) up to MaxAttempts,
// falling back to the local deterministic generator if the configured
// provider is unavailable or exhausts its retry budget.
func (m *Manager) embedOne(ctx context.Context, t registry.ToolDefinition) error {
	text := embeddingText(t)

	var vec []float64
	model := m.fallbackModel

	if m.embedder != nil {
		cfg := retry.Config{
			MaxRetries:     m.cfg.MaxAttempts,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Jitter:         0.2,
		}
		err := retry.Do(ctx, cfg, func() error {
			v, err := m.embedder.Embed(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		}, func(error) bool { return true })

		if err == nil {
			model = m.embedder.EmbeddingModelIdentifier()
		} else {
			m.logger.Warn().Err(err).Str("tool", t.Name).Msg("provider embedding exhausted retries, falling back to local model")
		}
	}

	usedFallback := vec == nil
	if usedFallback {
		vec = embedding.Generate(text)
		model = m.fallbackModel
	}

	rec := storage.EmbeddingRecord{
		ToolName:        t.Name,
		Vector:          vec,
		ContentHash:     t.ContentHash(),
		ModelIdentifier: model,
		GeneratedAt:     time.Now(),
	}

	m.mu.Lock()
	m.records[t.Name] = rec
	m.state[t.Name] = lastKnownState{
		ContentHash:  rec.ContentHash,
		Enabled:      t.Enabled,
		Hidden:       t.Hidden,
		Model:        model,
		UsedFallback: usedFallback,
	}
	m.mu.Unlock()

	return nil
}

func (m *Manager) persist() error {
	return m.store.Save(m.Records())
}

// embeddingText builds the manager's canonical embedding input: the tool
// name, description, and joined keywords/tags.
func embeddingText(t registry.ToolDefinition) string {
	var parts []string
	parts = append(parts, t.Name, t.Description)
	joined := append(append([]string{}, t.Keywords...), t.SemanticTags...)
	if len(joined) > 0 {
		parts = append(parts, strings.Join(joined, ","))
	}
	return strings.Join(parts, "\n")
}

// Run executes Sync once immediately, then again every CheckInterval until
// ctx is cancelled, for resilience against missed diff-triggering events.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}

	if err := m.Sync(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("initial embedding sync completed with errors")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("periodic embedding sync completed with errors")
			}
		}
	}
}
