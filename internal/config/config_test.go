package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdadesk.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("unexpected listen: %q", cfg.Listen)
	}
	if cfg.Registry.Runtime != "node" || cfg.Registry.DefaultPort != 4873 {
		t.Fatalf("unexpected registry defaults: %+v", cfg.Registry)
	}
	if cfg.Log.Slog.Level != "info" {
		t.Fatalf("unexpected log level: %q", cfg.Log.Slog.Level)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	resources := t.TempDir()
	logs := t.TempDir()
	path := writeConfig(t, `
listen = "127.0.0.1:9999"
history_dsn = "sqlite://:memory:"

[registry]
resource_dir = "`+resources+`"
default_port = 5000
allow_lan = true

[registry.env]
NODE_OPTIONS = "--max-old-space-size=512"

[log.slog]
level = "debug"
format = "json"

[log.file]
dir = "`+logs+`"
max_backups = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9999" {
		t.Fatalf("listen not applied: %q", cfg.Listen)
	}
	if cfg.HistoryDSN != "sqlite://:memory:" {
		t.Fatalf("history_dsn not applied: %q", cfg.HistoryDSN)
	}
	if cfg.Registry.ResourceDir != resources || cfg.Registry.DefaultPort != 5000 || !cfg.Registry.AllowLAN {
		t.Fatalf("registry section not applied: %+v", cfg.Registry)
	}
	if cfg.Registry.Runtime != "node" {
		t.Fatalf("unset field should keep default, got %q", cfg.Registry.Runtime)
	}
	if cfg.Registry.Env["NODE_OPTIONS"] != "--max-old-space-size=512" {
		t.Fatalf("registry.env not applied: %+v", cfg.Registry.Env)
	}
	if cfg.Log.Slog.Level != "debug" || cfg.Log.Slog.Format != "json" {
		t.Fatalf("log.slog not applied: %+v", cfg.Log.Slog)
	}
	if cfg.Log.File.Dir != logs || cfg.Log.File.MaxBackups != 5 {
		t.Fatalf("log.file not applied: %+v", cfg.Log.File)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, "listen = [broken")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadListen(t *testing.T) {
	path := writeConfig(t, `listen = "no-port-here"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid listen address")
	}
}

func TestValidateRejectsMissingResourceDir(t *testing.T) {
	path := writeConfig(t, `
[registry]
resource_dir = "/definitely/not/a/real/dir"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing resource_dir")
	}
}

func TestValidateRejectsRelativeLogDir(t *testing.T) {
	path := writeConfig(t, `
[log.file]
dir = "logs"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for relative log dir")
	}
}
