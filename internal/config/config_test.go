package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HAL9000_HOME", home)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinWarmWorkers != 2 || cfg.MaxWarmWorkers != 5 {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.ChromaDBPort != 8000 {
		t.Fatalf("unexpected chromadb port: %d", cfg.ChromaDBPort)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	overlay := "min_warm_workers = 4\nmax_warm_workers = 9\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(overlay), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HAL9000_HOME", home)
	t.Setenv("MAX_WARM_WORKERS", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinWarmWorkers != 4 {
		t.Fatalf("expected file overlay to set min_warm_workers=4, got %d", cfg.MinWarmWorkers)
	}
	if cfg.MaxWarmWorkers != 20 {
		t.Fatalf("expected env to override max_warm_workers to 20, got %d", cfg.MaxWarmWorkers)
	}
}

func TestReadSecretRejectsLoosePermissions(t *testing.T) {
	home := t.TempDir()
	cfg := Config{Home: home}
	secretDir := filepath.Join(home, "secrets")
	if err := os.MkdirAll(secretDir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(secretDir, "anthropic-key")
	if err := os.WriteFile(path, []byte("sk-test"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.ReadSecret("anthropic-key"); err == nil {
		t.Fatalf("expected error for loose secret permissions")
	}
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := cfg.ReadSecret("anthropic-key")
	if err != nil {
		t.Fatalf("ReadSecret: %v", err)
	}
	if got != "sk-test" {
		t.Fatalf("got %q", got)
	}
}
