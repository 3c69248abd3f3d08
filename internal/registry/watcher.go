package registry

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpfed/mcpfed/internal/logging"
)

// Watcher drives hot reload of a Registry's local tool set from a set of
// capability-file roots, coalescing bursts of filesystem events (an editor
// saving a file typically fires write+chmod+rename in quick succession)
// into a single reload after a debounce window.
type Watcher struct {
	roots    []string
	strict   bool
	debounce time.Duration
	registry *Registry
	logger   logging.Logger
}

// NewWatcher constructs a Watcher over roots. A debounce of zero selects the
// default of 300ms, within the spec's 250-500ms window.
func NewWatcher(registry *Registry, roots []string, strict bool, debounce time.Duration, logger logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{roots: roots, strict: strict, debounce: debounce, registry: registry, logger: logger}
}

// LoadOnce performs a single synchronous load and applies it to the
// registry. Per §4.2, the registry never serves a partial or corrupt
// snapshot: if any capability file failed to parse, the previous snapshot
// is left untouched and only the errors are surfaced on the diagnostics
// channel. Only a fully clean load replaces the registry's local tool set.
func (w *Watcher) LoadOnce() LoadResult {
	result := LoadFiles(w.roots, w.strict)
	if len(result.Errors) == 0 {
		w.registry.ReloadLocal(result.Tools)
	}
	for _, fe := range result.Errors {
		select {
		case w.registry.diagnostics <- fe:
		default:
		}
	}
	return result
}

// Run watches every root for changes until ctx is cancelled, reloading after
// each debounce window. It performs an initial LoadOnce before watching.
func (w *Watcher) Run(ctx context.Context) error {
	w.LoadOnce()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.roots {
		if err := addRecursive(fw, root); err != nil {
			w.logger.Warn().Err(err).Str("root", root).Msg("failed to watch capability root")
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				resetTimer()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("capability watcher error")

		case <-timerC:
			w.logger.Info().Msg("reloading capability registry")
			w.LoadOnce()
		}
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: a missing subdirectory just isn't watched
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
