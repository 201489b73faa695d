// Package config loads, migrates, and watches the user and project
// configuration.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds the resolved persistent-state locations.
type Paths struct {
	// Root is the per-user state directory, ~/.blade by default.
	Root string
	// ConfigFile is the user-level config.json.
	ConfigFile string
	// MCPConfigFile is the external tool server configuration.
	MCPConfigFile string
	// FileHistory is the snapshot base directory; sessions get
	// subdirectories beneath it.
	FileHistory string
	// Recordings is where session transcripts are exported.
	Recordings string
}

// DefaultPaths resolves the standard layout under the home directory. The
// BLADE_HOME environment variable overrides the root for tests and sandboxes.
func DefaultPaths() Paths {
	root := os.Getenv("BLADE_HOME")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		root = filepath.Join(home, ".blade")
	}
	return PathsAt(root)
}

// PathsAt builds the layout under an explicit root.
func PathsAt(root string) Paths {
	return Paths{
		Root:          root,
		ConfigFile:    filepath.Join(root, "config.json"),
		MCPConfigFile: filepath.Join(root, "mcp-config.json"),
		FileHistory:   filepath.Join(root, "file-history"),
		Recordings:    filepath.Join(root, "recordings"),
	}
}

// Ensure creates the state directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Root, p.FileHistory, p.Recordings} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
