package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// workspacePrefix names per-job directories under the frames root
const workspacePrefix = "job_"

// WorkspaceManager allocates per-job scratch directories and guarantees
// their removal. Workspaces are keyed by job id, never by challenge id, so
// two jobs for the same challenge cannot collide while one is still running.
type WorkspaceManager struct {
	root   string
	logger *slog.Logger
}

// NewWorkspaceManager creates a manager rooted at the frames directory
func NewWorkspaceManager(root string, logger *slog.Logger) *WorkspaceManager {
	return &WorkspaceManager{root: root, logger: logger}
}

// Workspace is a transient per-job directory tree holding intermediate
// frames during multi-stage processing
type Workspace struct {
	Dir       string
	FramesDir string
	CleanDir  string

	logger *slog.Logger
}

// Create allocates frames/ and clean/ subdirectories for the job
func (m *WorkspaceManager) Create(jobID string) (*Workspace, error) {
	ws := &Workspace{
		Dir:    filepath.Join(m.root, workspacePrefix+jobID),
		logger: m.logger,
	}
	ws.FramesDir = filepath.Join(ws.Dir, "frames")
	ws.CleanDir = filepath.Join(ws.Dir, "clean")

	for _, dir := range []string{ws.FramesDir, ws.CleanDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			// partial trees are useless, drop whatever was created
			_ = os.RemoveAll(ws.Dir)
			return nil, fmt.Errorf("failed to create workspace %s: %w", ws.Dir, err)
		}
	}

	return ws, nil
}

// Remove deletes the workspace tree. Removal failures are logged and
// swallowed so cleanup can never mask the pipeline's own error or crash
// the worker.
func (w *Workspace) Remove() {
	if err := os.RemoveAll(w.Dir); err != nil {
		w.logger.Warn("Failed to remove workspace",
			slog.String("dir", w.Dir),
			slog.Any("error", err),
		)
	}
}

// Reap removes orphaned workspaces older than maxAge. These are left behind
// only when a worker process dies before its deferred cleanup runs.
func (m *WorkspaceManager) Reap(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read frames root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspacePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		dir := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("Failed to reap orphaned workspace",
				slog.String("dir", dir),
				slog.Any("error", err),
			)
			continue
		}

		m.logger.Info("Reaped orphaned workspace", slog.String("dir", dir))
		removed++
	}

	return removed, nil
}

// RunReaper periodically reaps orphaned workspaces until ctx is canceled
func (m *WorkspaceManager) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Reap(maxAge); err != nil {
				m.logger.Warn("Workspace reaper pass failed", slog.Any("error", err))
			}
		}
	}
}
