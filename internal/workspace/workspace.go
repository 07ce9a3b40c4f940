package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/itstheanurag/codearena/internal/metrics"
	"github.com/rs/zerolog"
)

const dirPrefix = "code-arena-"

var ErrInvalidName = errors.New("invalid workspace file name")

type Manager struct {
	root   string
	logger *zerolog.Logger
}

func NewManager(root string, logger *zerolog.Logger) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{root: root, logger: logger}
}

// Workspace is a request-scoped directory bind-mounted into every container of one
// execution. It is owned by a single request and written sequentially.
type Workspace struct {
	path   string
	logger *zerolog.Logger
}

func (m *Manager) Create() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	dir, err := os.MkdirTemp(m.root, dirPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	// containers run as an arbitrary user and must be able to write compiled artifacts
	if err := os.Chmod(dir, 0777); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to chmod workspace: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	m.logger.Debug().Str("workspace", abs).Msg("workspace created")
	return &Workspace{path: abs, logger: m.logger}, nil
}

func (w *Workspace) Path() string {
	return w.path
}

// WriteFile creates or overwrites name inside the workspace.
func (w *Workspace) WriteFile(name, content string) error {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if err := os.WriteFile(filepath.Join(w.path, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Destroy removes the workspace recursively. Failures are logged and never returned.
func (w *Workspace) Destroy() {
	if err := os.RemoveAll(w.path); err != nil {
		metrics.WorkspaceCleanupFailures.Inc()
		w.logger.Warn().Err(err).Str("workspace", w.path).Msg("failed to remove workspace")
		return
	}
	w.logger.Debug().Str("workspace", w.path).Msg("workspace removed")
}
