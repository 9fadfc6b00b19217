package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.App.Port != 3000 || cfg.App.Dir != "/app" {
		t.Fatalf("unexpected app defaults: %+v", cfg.App)
	}
	if !cfg.Metrics.Enabled {
		t.Fatalf("metrics should default on")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devplane.toml")
	content := `
[server]
listen = ":9000"

[app]
dir = "/srv/app"
port = 5173
pid_file = "/srv/app/.devserver.pid"
stop_grace = "10s"

[log]
level = "debug"

[metrics]
enabled = false

[store]
dsn = "sqlite:///srv/app/runs.db"

[install]
extra_args = ["--legacy-peer-deps"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.App.Dir != "/srv/app" || cfg.App.Port != 5173 {
		t.Fatalf("app = %+v", cfg.App)
	}
	if cfg.App.StopGrace != 10*time.Second {
		t.Fatalf("stop_grace = %v", cfg.App.StopGrace)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Metrics.Enabled {
		t.Fatalf("metrics should be off")
	}
	if cfg.Store.DSN != "sqlite:///srv/app/runs.db" {
		t.Fatalf("store dsn = %q", cfg.Store.DSN)
	}
	if len(cfg.Install.ExtraArgs) != 1 || cfg.Install.ExtraArgs[0] != "--legacy-peer-deps" {
		t.Fatalf("install extra_args = %v", cfg.Install.ExtraArgs)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.App.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for port 0")
	}
	cfg.App.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
