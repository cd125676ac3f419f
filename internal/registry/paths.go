package registry

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths describes the on-disk layout of the managed Verdaccio instance.
// Everything lives under Root, which defaults to ~/.verdaccio. This is the
// same layout Verdaccio itself uses, so an existing installation is picked
// up as-is.
type Paths struct {
	Root string
}

// DefaultPaths resolves the per-user registry directory.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Paths{Root: filepath.Join(home, ".verdaccio")}
}

func (p Paths) ConfigPath() string   { return filepath.Join(p.Root, "config.yaml") }
func (p Paths) StoragePath() string  { return filepath.Join(p.Root, "storage") }
func (p Paths) HtpasswdPath() string { return filepath.Join(p.Root, "htpasswd") }

// EnsureLayout creates the registry root and storage directories and writes
// the default configuration when none exists yet. It is idempotent and is
// called on every start.
func (p Paths) EnsureLayout() error {
	if err := os.MkdirAll(p.Root, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := os.MkdirAll(p.StoragePath(), 0o750); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	cfg := p.ConfigPath()
	if _, err := os.Stat(cfg); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.WriteFile(cfg, []byte(DefaultConfig), 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
