package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Server.Addr(); got != "127.0.0.1:12345" {
		t.Fatalf("default addr = %s", got)
	}
	if cfg.Storage.DBPath != "accelerd.db" {
		t.Fatalf("default db path = %s", cfg.Storage.DBPath)
	}
	if cfg.Sampler.Beta != 1 {
		t.Fatalf("default beta = %v", cfg.Sampler.Beta)
	}
	if cfg.Audit.KafkaEnabled {
		t.Fatal("kafka audit enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"server": {"host": "0.0.0.0", "port": 8900},
		"sampler": {"beta": 0.5, "initialSeeds": ["localfs:/data/ala5.pdb"]}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ACCELERD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8900" {
		t.Fatalf("addr = %s", got)
	}
	if cfg.Sampler.Beta != 0.5 {
		t.Fatalf("beta = %v", cfg.Sampler.Beta)
	}
	if len(cfg.Sampler.InitialSeeds) != 1 || cfg.Sampler.InitialSeeds[0] != "localfs:/data/ala5.pdb" {
		t.Fatalf("seeds = %v", cfg.Sampler.InitialSeeds)
	}
	// Untouched sections keep their defaults.
	if cfg.Storage.DBPath != "accelerd.db" {
		t.Fatalf("db path = %s", cfg.Storage.DBPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server": {"port": 8900}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ACCELERD_CONFIG", path)
	t.Setenv("ACCELERD_SERVER_PORT", "9100")
	t.Setenv("ACCELERD_STORAGE_DB_PATH", "/var/lib/accelerd/state.db")
	t.Setenv("ACCELERD_AUDIT_KAFKA_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Storage.DBPath != "/var/lib/accelerd/state.db" {
		t.Fatalf("db path = %s", cfg.Storage.DBPath)
	}
	if !cfg.Audit.KafkaEnabled {
		t.Fatal("kafka audit not enabled by env")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Setenv("ACCELERD_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParseSeedLocators(t *testing.T) {
	locs, err := ParseSeedLocators([]string{"localfs:/data/a.pdb", "localfs:/data/b.pdb"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("got %d locators", len(locs))
	}
	if locs[0].Protocol != "localfs" || locs[0].Path != "/data/a.pdb" {
		t.Fatalf("locs[0] = %+v", locs[0])
	}

	for _, bad := range []string{"", "nopath:", ":noproto", "justapath"} {
		if _, err := ParseSeedLocators([]string{bad}); err == nil {
			t.Fatalf("entry %q accepted, want error", bad)
		}
	}
}

func TestParseSeedLocatorsKeepsColonsInPath(t *testing.T) {
	locs, err := ParseSeedLocators([]string{"localfs:/data/run:3/seed.pdb"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if locs[0].Path != "/data/run:3/seed.pdb" {
		t.Fatalf("path = %s", locs[0].Path)
	}
}
