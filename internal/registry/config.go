package registry

import (
	"errors"
	"fmt"
	"os"
)

// ErrConfigNotFound is returned when reading configuration before any has
// been written.
var ErrConfigNotFound = errors.New("registry configuration does not exist")

// ReadConfig returns the raw configuration document. The text is passed
// through untouched; the registry itself is the authority on its schema.
func (p Paths) ReadConfig() (string, error) {
	b, err := os.ReadFile(p.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return string(b), nil
}

// SaveConfig replaces the configuration document verbatim.
func (p Paths) SaveConfig(text string) error {
	if err := os.MkdirAll(p.Root, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := os.WriteFile(p.ConfigPath(), []byte(text), 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// ResetToDefault overwrites the configuration with ResetConfig.
func (p Paths) ResetToDefault() error {
	if err := os.MkdirAll(p.Root, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := os.WriteFile(p.ConfigPath(), []byte(ResetConfig), 0o600); err != nil {
		return fmt.Errorf("reset config: %w", err)
	}
	return nil
}
