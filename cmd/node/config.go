package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// envPrefix namespaces environment overrides, e.g. NFTFORGE_HTTP.
const envPrefix = "NFTFORGE_"

// Config holds the node configuration.
// Precedence: command-line flags, then NFTFORGE_* variables, then defaults.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string `env:"DATA"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `env:"HTTP"`

	// QUICAddress is the relay listen address; empty disables the relay.
	QUICAddress string `env:"QUIC"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `env:"KEY"`

	// PrivateKey is the node identity, used for the relay and attestations.
	PrivateKey ed25519.PrivateKey `env:"-"`

	// GenesisPath is an optional collection manifest deployed at startup.
	GenesisPath string `env:"GENESIS"`

	// IndexPath is the SQLite transaction index, by default under DataPath.
	IndexPath string `env:"INDEX"`

	// NoIndex disables the transaction index.
	NoIndex bool `env:"NO_INDEX"`

	// Attest signs every transaction hash with the node BLS key.
	Attest bool `env:"ATTEST"`

	// MaxCascade bounds the transactions one message may cause.
	MaxCascade int `env:"MAX_CASCADE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL"`

	// ExportSnapshot writes a compressed state snapshot to this path and exits.
	ExportSnapshot string `env:"-"`

	// ImportSnapshot restores a snapshot into an empty data directory before start.
	ImportSnapshot string `env:"-"`

	// BootstrapFrom is a peer relay address to download the initial state from.
	BootstrapFrom string `env:"BOOTSTRAP"`

	// BootstrapKey is the hex Ed25519 public key the bootstrap peer must present.
	BootstrapKey string `env:"BOOTSTRAP_KEY"`
}

func defaultConfig() *Config {
	return &Config{
		DataPath:    "./data",
		HTTPAddress: ":8080",
		QUICAddress: ":9000",
		Attest:      true,
		MaxCascade:  10_000,
		LogLevel:    "info",
	}
}

// loadConfig applies environment overrides, then parses args.
// A nil environ reads the process environment.
func loadConfig(args []string, environ map[string]string) (*Config, error) {
	cfg := defaultConfig()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP API address")
	fs.StringVar(&cfg.QUICAddress, "quic", cfg.QUICAddress, "QUIC relay address (empty to disable)")
	fs.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&cfg.GenesisPath, "genesis", cfg.GenesisPath, "Collection manifest deployed at startup")
	fs.StringVar(&cfg.IndexPath, "index", cfg.IndexPath, "SQLite transaction index path (default <data>/index.sqlite)")
	fs.BoolVar(&cfg.NoIndex, "no-index", cfg.NoIndex, "Disable the transaction index")
	fs.BoolVar(&cfg.Attest, "attest", cfg.Attest, "Sign transaction hashes with the node BLS key")
	fs.IntVar(&cfg.MaxCascade, "max-cascade", cfg.MaxCascade, "Maximum transactions caused by one message")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.ExportSnapshot, "export-snapshot", "", "Write a state snapshot to this file and exit")
	fs.StringVar(&cfg.ImportSnapshot, "import-snapshot", "", "Restore a state snapshot before starting")
	fs.StringVar(&cfg.BootstrapFrom, "bootstrap", cfg.BootstrapFrom, "Peer relay address to download the initial state from")
	fs.StringVar(&cfg.BootstrapKey, "bootstrap-key", cfg.BootstrapKey, "Hex public key the bootstrap peer must present")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case cfg.NoIndex:
		cfg.IndexPath = ""
	case cfg.IndexPath == "":
		cfg.IndexPath = filepath.Join(cfg.DataPath, "index.sqlite")
	}

	if cfg.MaxCascade <= 0 {
		return nil, fmt.Errorf("max-cascade must be positive, got %d", cfg.MaxCascade)
	}

	if cfg.ExportSnapshot != "" && cfg.ImportSnapshot != "" {
		return nil, fmt.Errorf("export-snapshot and import-snapshot are exclusive")
	}

	if cfg.BootstrapFrom != "" && cfg.ImportSnapshot != "" {
		return nil, fmt.Errorf("bootstrap and import-snapshot are exclusive")
	}

	if cfg.BootstrapKey != "" {
		if _, err := bootstrapKey(cfg.BootstrapKey); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// bootstrapKey decodes the expected peer public key.
func bootstrapKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bootstrap-key must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
