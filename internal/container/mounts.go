package container

import (
	"fmt"
	"os"
	"path/filepath"
)

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// buildMounts lays out a minion's filesystem: a private workspace, shared
// session state, and an instructions file written at start.
func buildMounts(workspaceBase string, opts MinionOpts) ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	base := workspaceBase
	if !filepath.IsAbs(base) {
		base = filepath.Join(cwd, base)
	}

	// Per-minion workspace
	workPath := filepath.Join(base, opts.LegionID, sanitizeName(opts.Name))
	if err := os.MkdirAll(workPath, 0o755); err != nil {
		return nil, err
	}
	binds := []string{fmt.Sprintf("%s:%s", workPath, "/workspace")}

	if opts.Instructions != "" {
		instrPath := filepath.Join(workPath, "INSTRUCTIONS.md")
		if err := os.WriteFile(instrPath, []byte(opts.Instructions), 0o644); err != nil {
			return nil, err
		}
	}

	// Session data survives container restarts
	sessionPath := filepath.Join(cwd, "data", "sessions", opts.MinionID)
	if err := os.MkdirAll(sessionPath, 0o755); err != nil {
		return nil, err
	}
	binds = append(binds, fmt.Sprintf("%s:%s", sessionPath, "/home/node/.claude"))

	for _, m := range opts.Mounts {
		bind := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	return binds, nil
}
