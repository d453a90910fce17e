package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPAddress != ":8080" || cfg.QUICAddress != ":9000" || !cfg.Attest {
		t.Errorf("cfg = %+v", cfg)
	}

	if cfg.IndexPath != filepath.Join("./data", "index.sqlite") {
		t.Errorf("index path = %q", cfg.IndexPath)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	environ := map[string]string{
		"NFTFORGE_HTTP":        ":7000",
		"NFTFORGE_DATA":        "/var/lib/nftforge",
		"NFTFORGE_ATTEST":      "false",
		"NFTFORGE_MAX_CASCADE": "50",
		"HTTP":                 ":1", // unprefixed variables are ignored
	}

	cfg, err := loadConfig([]string{"-http", ":7500"}, environ)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPAddress != ":7500" {
		t.Errorf("flag did not win over env: %q", cfg.HTTPAddress)
	}

	if cfg.DataPath != "/var/lib/nftforge" || cfg.Attest || cfg.MaxCascade != 50 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	if cfg.IndexPath != filepath.Join("/var/lib/nftforge", "index.sqlite") {
		t.Errorf("index path = %q", cfg.IndexPath)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		environ map[string]string
	}{
		{"bad env bool", nil, map[string]string{"NFTFORGE_ATTEST": "maybe"}},
		{"zero cascade", []string{"-max-cascade", "0"}, nil},
		{"both snapshot modes", []string{"-export-snapshot", "a", "-import-snapshot", "b"}, nil},
		{"unknown flag", []string{"-bogus"}, nil},
		{"bootstrap with import", []string{"-bootstrap", "127.0.0.1:9000", "-import-snapshot", "b"}, nil},
		{"short bootstrap key", nil, map[string]string{"NFTFORGE_BOOTSTRAP_KEY": "abcd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}

			if _, err := loadConfig(tt.args, environ); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNoIndex(t *testing.T) {
	cfg, err := loadConfig([]string{"-no-index"}, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.IndexPath != "" {
		t.Errorf("index path = %q, want disabled", cfg.IndexPath)
	}
}

func TestLoadOrGenerateKeyPersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "node-key-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "node.key")

	first, err := loadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := loadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !first.Equal(second) {
		t.Error("reloaded key differs")
	}

	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := loadOrGenerateKey(path); err == nil {
		t.Error("expected error for truncated key")
	}
}
