// Package workspace owns the per-run scratch directory holding one
// text artifact and one audio artifact per chunk.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is an ephemeral directory created at run start and deleted
// unconditionally at run end.
type Workspace struct {
	root string
}

// Create makes a fresh private scratch directory.
func Create() (*Workspace, error) {
	root, err := os.MkdirTemp("", "wp-run-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string { return w.root }

// TextPath returns the slot for chunk i's text artifact.
func (w *Workspace) TextPath(i int) string {
	return filepath.Join(w.root, fmt.Sprintf("chunk-%04d.txt", i))
}

// AudioPath returns the slot for chunk i's audio artifact.
func (w *Workspace) AudioPath(i int) string {
	return filepath.Join(w.root, fmt.Sprintf("chunk-%04d.wav", i))
}

// WriteChunkText persists chunk i's text into its indexed slot.
func (w *Workspace) WriteChunkText(i int, text string) error {
	if err := os.WriteFile(w.TextPath(i), []byte(text), 0o600); err != nil {
		return fmt.Errorf("write chunk text %d: %w", i, err)
	}
	return nil
}

// Remove deletes the workspace and everything in it. Safe to call on a
// nil workspace or more than once.
func (w *Workspace) Remove() error {
	if w == nil || w.root == "" {
		return nil
	}
	root := w.root
	w.root = ""
	return os.RemoveAll(root)
}
