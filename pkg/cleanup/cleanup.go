// Package cleanup guarantees removal of temporary shuffle artifacts on
// every exit path: success, failure, or operator cancellation.
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/bigshuf/internal/logger"
)

// Manager owns a per-run temporary directory and tracks every artifact
// created inside (and outside) it. Cleanup is idempotent: it may run once
// per handled interruption plus once on normal exit without error.
type Manager struct {
	mu    sync.Mutex
	dir   string
	paths map[string]struct{}
	done  bool
}

// NewManager creates the run's temporary directory under baseDir and
// returns a manager rooted there. baseDir defaults to the system temp
// location when empty.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	dir := filepath.Join(baseDir, "bigshuf-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Manager{
		dir:   dir,
		paths: make(map[string]struct{}),
	}, nil
}

// Dir returns the run's temporary directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Register records a path for removal. Paths must be registered before
// any data is written to them so a crash mid-write still leaves a
// cleanable artifact.
func (m *Manager) Register(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		// Late registration after cleanup: remove immediately.
		removeQuiet(path)
		return
	}
	m.paths[path] = struct{}{}
}

// Unregister releases a path from the manager, typically after it has
// been renamed into its final location.
func (m *Manager) Unregister(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paths, path)
}

// Remove deletes a single registered path right away. Used when a stage
// is finished with an intermediate file before the run ends.
func (m *Manager) Remove(path string) error {
	m.mu.Lock()
	delete(m.paths, path)
	m.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Cleanup removes every registered path and the run's temporary
// directory. Safe to call multiple times; missing files are not errors.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.paths))
	for p := range m.paths {
		paths = append(paths, p)
	}
	m.paths = make(map[string]struct{})
	alreadyDone := m.done
	m.done = true
	dir := m.dir
	m.mu.Unlock()

	for _, p := range paths {
		removeQuiet(p)
	}

	if dir != "" {
		if err := os.RemoveAll(dir); err != nil && !alreadyDone {
			logger.Warn("Failed to remove temp directory", "dir", dir, "error", err)
		}
	}
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}
