package exec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dohr-michael/skillhub/internal/bundle"
)

// Workspace is the ephemeral on-disk materialization of a skill bundle.
// Scripts run against it and it is removed when execution finishes.
type Workspace struct {
	root    string
	skillID string
}

// Materialize writes every file of the bundle under a fresh temporary
// directory, preserving relative paths.
func Materialize(b *bundle.Bundle) (*Workspace, error) {
	root, err := os.MkdirTemp("", "skillhub-exec-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{root: root, skillID: b.Metadata.SkillID}
	for _, f := range b.Files {
		if err := ws.write(f.FileName, []byte(f.Content)); err != nil {
			os.RemoveAll(root)
			return nil, err
		}
	}
	return ws, nil
}

// write places one file inside the workspace. Writes go to a temporary
// name first and are renamed into place.
func (w *Workspace) write(name string, content []byte) error {
	rel := filepath.FromSlash(name)
	if strings.Contains(name, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("workspace: refusing file name %q", name)
	}

	dst := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("workspace: create dir for %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("workspace: stage %s: %w", name, err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("workspace: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("workspace: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("workspace: place %s: %w", name, err)
	}
	return nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Path resolves a bundle-relative file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.root, filepath.FromSlash(name))
}

// Close removes the workspace from disk.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.root)
}
