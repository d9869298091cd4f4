package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const workspacePrefix = "splatgate-"

// Workspace is a private scratch directory for one extraction.
// Concurrent extractions never share a workspace.
type Workspace struct {
	ID   string
	Dir  string
	keep bool
	log  *slog.Logger
}

// NewWorkspace creates splatgate-<uuid> under root (os.TempDir when empty).
func NewWorkspace(root string, log *slog.Logger) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	id := uuid.NewString()
	dir := filepath.Join(root, workspacePrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{ID: id, Dir: dir, log: log}, nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Keep marks the workspace to survive Release, for debugging.
func (w *Workspace) Keep() { w.keep = true }

// Release removes the workspace unless Keep was called.
func (w *Workspace) Release() error {
	if w.keep {
		w.log.Info("keeping workspace", "dir", w.Dir)
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Dir, err)
	}
	w.log.Debug("workspace released", "dir", w.Dir)
	return nil
}

// WithWorkspace allocates a workspace, runs fn and releases the workspace on
// every exit path, including a panic in fn.
func WithWorkspace(ctx context.Context, root string, log *slog.Logger, fn func(context.Context, *Workspace) error) (err error) {
	ws, err := NewWorkspace(root, log)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			ws.log.Warn("workspace cleanup failed", "dir", ws.Dir, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()
	return fn(ctx, ws)
}
