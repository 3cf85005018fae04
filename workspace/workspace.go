// Package workspace bootstraps the two directories a sandbox execution
// needs before any script runs, per spec.md §4.G: a scratch root for
// script-visible files and a skills/ subdirectory of importable script
// modules. Neither is parsed or validated here; skills are ordinary Go
// source consumed by import, and the host never reads script output
// files asynchronously.
package workspace

import (
	"os"
	"path/filepath"
)

// SkillsDirName is the fixed subdirectory name under a workspace root
// that holds importable skill modules.
const SkillsDirName = "skills"

// Workspace is a bootstrapped root directory with a guaranteed skills/
// subdirectory.
type Workspace struct {
	root      string
	skillsDir string
}

// Ensure creates root and root/skills if they do not already exist and
// returns a Workspace rooted there. It is safe to call repeatedly; an
// already-bootstrapped root is left untouched.
func Ensure(root string) (*Workspace, error) {
	skillsDir := filepath.Join(root, SkillsDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return nil, err
	}
	return &Workspace{root: root, skillsDir: skillsDir}, nil
}

// Root returns the workspace's scratch directory, mounted into the
// sandbox container as the script's working directory.
func (w *Workspace) Root() string { return w.root }

// SkillsDir returns the directory of importable skill modules.
func (w *Workspace) SkillsDir() string { return w.skillsDir }

// ListSkills returns the base names of entries directly under
// SkillsDir, sorted by file name. It does not inspect file contents or
// distinguish packages from stray files; import resolution and any
// rejection of malformed modules is the Go compiler's job when the
// script imports them, not this package's.
func (w *Workspace) ListSkills() ([]string, error) {
	entries, err := os.ReadDir(w.skillsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
