// Package env resolves the per-user base directory described in the
// external interfaces section and the override env var named there for
// tests. Grounded on h3ow3d-nlab's internal/xdg.go, collapsed from its
// three-root XDG layout to the single "<home>/.dockvirt/" tree this spec
// requires.
package env

import (
	"os"
	"path/filepath"
)

// overrideVar is the environment variable that overrides the base
// directory, named in the external interfaces section as "a variable
// overriding the base directory for tests".
const overrideVar = "DOCKVIRT_HOME"

// Environment is the single threaded value standing in for the implicit
// global state the design notes flag: no ambient singleton base directory.
type Environment struct {
	Base string
}

// New resolves the Environment from DOCKVIRT_HOME if set, otherwise
// "<home>/.dockvirt".
func New() (*Environment, error) {
	if v := os.Getenv(overrideVar); v != "" {
		return &Environment{Base: v}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Environment{Base: filepath.Join(home, ".dockvirt")}, nil
}

// ConfigFile is the GlobalConfig path.
func (e *Environment) ConfigFile() string { return filepath.Join(e.Base, "config.yaml") }

// ImagesDir is the Image Cache directory.
func (e *Environment) ImagesDir() string { return filepath.Join(e.Base, "images") }

// VMDir is a per-VM work_dir.
func (e *Environment) VMDir(name string) string { return filepath.Join(e.Base, name) }

// LogFile is the append-only invocation log.
func (e *Environment) LogFile() string { return filepath.Join(e.Base, "cli.log") }

// EnsureBase creates the base directory and the images cache directory with
// private (owner-only) permissions, matching the ownership rule that the
// base directory is owned by the invoking user.
func (e *Environment) EnsureBase() error {
	if err := os.MkdirAll(e.Base, 0o700); err != nil {
		return err
	}
	return os.MkdirAll(e.ImagesDir(), 0o700)
}
