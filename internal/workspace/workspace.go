package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned when a staged file path would escape the
// workspace root. The request must be rejected before any process runs.
var ErrInvalidPath = errors.New("invalid file path")

// Workspace is an ephemeral directory tree owned by exactly one compilation
// run. It is populated from the request and destroyed unconditionally when
// the run ends; no two concurrent runs share one.
type Workspace struct {
	ID  string
	Dir string
}

// Manager stages per-request workspace directories on local disk.
type Manager struct {
	baseDir string
}

// NewManager creates a workspace manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &Manager{baseDir: filepath.Clean(trimmed)}, nil
}

// Stage creates a fresh workspace directory for id and writes every file in
// files into it, creating intervening directories as needed. All paths are
// validated before anything touches the disk, so a rejected request leaves
// no partial workspace behind.
func (m *Manager) Stage(ctx context.Context, id string, files map[string][]byte) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(id)
	if err != nil {
		return Workspace{}, err
	}

	for name := range files {
		if err := ValidateRelPath(name); err != nil {
			return Workspace{}, err
		}
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for run %q: %w", id, err)
	}

	ws := Workspace{ID: id, Dir: path}
	for name, content := range files {
		if err := writeFile(ws, name, content); err != nil {
			_ = os.RemoveAll(path)
			return Workspace{}, err
		}
	}

	return ws, nil
}

// Release recursively deletes the workspace tree. Callers must invoke it on
// every exit path; it tolerates an already-removed directory.
func (m *Manager) Release(ws Workspace) error {
	if ws.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("release workspace %q: %w", ws.ID, err)
	}
	return nil
}

// ReadFile reads a single file relative to the workspace root.
func (m *Manager) ReadFile(ws Workspace, name string) ([]byte, error) {
	if err := ValidateRelPath(name); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(ws.Dir, name))
}

// ValidateRelPath rejects paths that are absolute, empty, or contain a
// parent-directory segment anywhere. The check runs on the raw segments,
// before any normalization: "figs/../notes.tex" resolves inside the root but
// is still refused.
func ValidateRelPath(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q contains a parent directory reference", ErrInvalidPath, name)
		}
	}
	if filepath.Clean(name) == "." {
		return fmt.Errorf("%w: %q does not name a file", ErrInvalidPath, name)
	}
	return nil
}

func (m *Manager) workspacePath(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("workspace id is empty")
	}
	if trimmed != filepath.Base(trimmed) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("workspace id %q is invalid", id)
	}
	return filepath.Join(m.baseDir, trimmed), nil
}

func writeFile(ws Workspace, name string, content []byte) error {
	dst := filepath.Join(ws.Dir, filepath.Clean(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %q: %w", name, err)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return fmt.Errorf("write file %q: %w", name, err)
	}
	return nil
}
