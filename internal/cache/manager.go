package cache

import (
	"context"
	"time"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// Backend is the storage interface for cache payloads.
type Backend interface {
	// Restore looks up a key (falling back to prefix matches) and, on a
	// hit, materializes the payload under destDir. It returns the key that
	// actually matched.
	Restore(ctx context.Context, key string, prefixes []string, destDir string) (string, bool, error)
	// Save stores the named paths (relative to srcDir) under the key.
	// Saving an existing key must be a no-op, not an error.
	Save(ctx context.Context, key string, srcDir string, paths []string) error
}

// SaveRequest is a deferred save, registered during a job's setup phase
// and executed after the job succeeds.
type SaveRequest struct {
	Key   string
	Paths []string
}

// Manager wraps a backend with the engine's degradation policy: a restore
// never blocks past a bounded timeout and never fails the job, and a save
// is best-effort.
type Manager struct {
	backend Backend
	timeout time.Duration
}

// NewManager creates a manager. A zero timeout means 30 seconds.
func NewManager(backend Backend, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{backend: backend, timeout: timeout}
}

// Restore attempts to restore a cache entry into destDir. On any backend
// error or timeout it reports a miss; a cold start is always acceptable.
func (m *Manager) Restore(ctx context.Context, key string, prefixes []string, destDir string) (string, bool) {
	logger := ctxlog.FromContext(ctx)
	restoreCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	matched, hit, err := m.backend.Restore(restoreCtx, key, prefixes, destDir)
	if err != nil {
		logger.Warn("Cache restore failed, continuing with a cold start.", "key", key, "error", err)
		return "", false
	}
	if hit {
		logger.Info("Cache restored.", "key", key, "matched", matched)
	} else {
		logger.Info("Cache miss.", "key", key)
	}
	return matched, hit
}

// Save stores a cache entry. Errors are logged and swallowed.
func (m *Manager) Save(ctx context.Context, key string, srcDir string, paths []string) {
	logger := ctxlog.FromContext(ctx)
	saveCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.backend.Save(saveCtx, key, srcDir, paths); err != nil {
		logger.Warn("Cache save failed.", "key", key, "error", err)
		return
	}
	logger.Info("Cache saved.", "key", key)
}
