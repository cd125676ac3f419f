// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/npmint/verdadesk/internal/logger"
)

// DefaultListen is the control API address when none is configured.
const DefaultListen = "127.0.0.1:8181"

// Config is the top-level TOML structure for the daemon.
type Config struct {
	// Listen is the address the control API binds to.
	Listen string `toml:"listen" mapstructure:"listen"`

	// Registry controls how the verdaccio process is launched.
	Registry RegistryConfig `toml:"registry" mapstructure:"registry"`

	// HistoryDSN, when set, enables lifecycle event recording.
	// Supported schemes: sqlite, postgres, postgresql, clickhouse.
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"`

	Log logger.Config `toml:"log" mapstructure:"log"`
}

type RegistryConfig struct {
	// Root is the verdaccio home directory (config + storage).
	// Defaults to ~/.verdaccio.
	Root string `toml:"root" mapstructure:"root"`

	// ResourceDir points at a directory containing node_modules/verdaccio.
	ResourceDir string `toml:"resource_dir" mapstructure:"resource_dir"`

	// Runtime is the node executable used to launch verdaccio.
	Runtime string `toml:"runtime" mapstructure:"runtime"`

	DefaultPort uint16 `toml:"default_port" mapstructure:"default_port"`
	AllowLAN    bool   `toml:"allow_lan" mapstructure:"allow_lan"`

	// Env holds extra environment variables for the registry process.
	Env map[string]string `toml:"env" mapstructure:"env"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen: DefaultListen,
		Registry: RegistryConfig{
			Runtime:     "node",
			DefaultPort: 4873,
		},
		Log: logger.Config{
			Slog: logger.SlogConfig{
				Level:      logger.LevelInfo,
				Format:     logger.FormatText,
				Color:      true,
				TimeStamps: true,
			},
		},
	}
}

// Load reads a TOML file and merges it over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(filepath.Clean(path))
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
		}
	}
	if c.Registry.ResourceDir != "" {
		if st, err := os.Stat(c.Registry.ResourceDir); err != nil || !st.IsDir() {
			return fmt.Errorf("resource_dir %q is not a directory", c.Registry.ResourceDir)
		}
	}
	if c.Log.File.Dir != "" && !filepath.IsAbs(c.Log.File.Dir) {
		return fmt.Errorf("log file dir %q must be absolute", c.Log.File.Dir)
	}
	return nil
}
