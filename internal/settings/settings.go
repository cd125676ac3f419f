// Package settings persists control-panel preferences as a JSON file.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPort is the registry port used when none is configured.
const DefaultPort uint16 = 4873

// Settings are the user-tunable control panel preferences.
type Settings struct {
	AutoStart         bool   `json:"auto_start"`
	MinimizeToTray    bool   `json:"minimize_to_tray"`
	AutoStartRegistry bool   `json:"auto_start_registry"`
	DefaultPort       uint16 `json:"default_port"`
	AllowLAN          bool   `json:"allow_lan"`
}

// Defaults returns the settings used before the user saves anything.
func Defaults() Settings {
	return Settings{
		AutoStart:         false,
		MinimizeToTray:    true,
		AutoStartRegistry: false,
		DefaultPort:       DefaultPort,
		AllowLAN:          false,
	}
}

// Store reads and writes a settings file.
type Store struct {
	Path string
}

// DefaultStore places settings.json under ~/.verdadesk.
func DefaultStore() *Store {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Store{Path: filepath.Join(home, ".verdadesk", "settings.json")}
}

// Load returns the saved settings, falling back to Defaults when the file
// does not exist. Fields absent from the file keep their default values.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	out := Defaults()
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if out.DefaultPort == 0 {
		out.DefaultPort = DefaultPort
	}
	return out, nil
}

// Save writes the settings, creating the parent directory when needed.
func (s *Store) Save(cfg Settings) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.Path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
