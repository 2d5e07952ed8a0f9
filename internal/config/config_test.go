package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDecodesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[world]
size = 12
hospitals = 4

[sim]
tick_interval_ms = 50
slow_interval = 5

[feed]
remote_share = 50
cargo = ["blood", "organs"]

[store]
kind = "sqlite"
path = "tasks.db"

[server]
addr = "127.0.0.1:9000"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.World.Size != 12 || cfg.World.Hospitals != 4 {
		t.Fatalf("unexpected world section %+v", cfg.World)
	}
	if cfg.Sim.TickIntervalMS != 50 || cfg.Sim.SlowInterval != 5 || cfg.Sim.FastInterval != 0 {
		t.Fatalf("unexpected sim section %+v", cfg.Sim)
	}
	if cfg.Feed.RemoteShare != 50 || len(cfg.Feed.Cargo) != 2 {
		t.Fatalf("unexpected feed section %+v", cfg.Feed)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected store/server %+v %+v", cfg.Store, cfg.Server)
	}
	if cfg.Path != path {
		t.Fatalf("path=%q want %q", cfg.Path, path)
	}
	if _, ok := cfg.Raw["world"]; !ok {
		t.Fatalf("raw config missing world table")
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadRejectsBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[world\nsize ="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
