package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"NFTForge/internal/collection"
	"NFTForge/internal/genesis"
	"NFTForge/internal/stateinit"
)

const testManifest = `
collections:
  - name: demo
    common_content: "https://demo.example/"
    royalty: {factor: 2, base: 10}
    items:
      - content: "0.json"
`

func testConfig(t *testing.T, dir string) *Config {
	t.Helper()

	cfg, err := loadConfig([]string{"-data", dir, "-quic", "", "-http", "127.0.0.1:0"}, map[string]string{})
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	cfg.PrivateKey, err = generateNewKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	return cfg
}

func tempDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "node-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	return dir
}

// TestSnapshotExportImport deploys a genesis manifest, exports the ledger and
// restores it into a second data directory.
func TestSnapshotExportImport(t *testing.T) {
	src := tempDir(t)
	manifest := filepath.Join(src, "genesis.yaml")
	snap := filepath.Join(src, "state.snap")

	if err := os.WriteFile(manifest, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cfg := testConfig(t, filepath.Join(src, "data"))
	cfg.GenesisPath = manifest
	cfg.ExportSnapshot = snap

	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	wantLT := node.chain.LT()

	m, err := genesis.Load(manifest)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	deployed, err := genesis.Deploy(context.Background(), node.chain, m)
	if err != nil || len(deployed) != 1 || !deployed[0].Existed {
		t.Fatalf("genesis was not applied at startup: %+v %v", deployed, err)
	}
	coll := deployed[0].Address

	if err := node.Run(); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := tempDir(t)
	cfg2 := testConfig(t, dst)
	cfg2.ImportSnapshot = snap

	restored, err := NewNode(cfg2)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	defer restored.Close()

	if restored.chain.LT() != wantLT {
		t.Errorf("restored lt = %d, want %d", restored.chain.LT(), wantLT)
	}

	data, err := collection.NewClient(coll, restored.chain).GetCollectionData(context.Background())
	if err != nil {
		t.Fatalf("restored collection %s: %v", stateinit.Raw(coll), err)
	}

	if data.NextItemIndex != 1 {
		t.Errorf("restored next index = %d, want 1", data.NextItemIndex)
	}
}

func TestImportRefusesPopulatedStore(t *testing.T) {
	dir := tempDir(t)

	cfg := testConfig(t, dir)
	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	if _, err := node.chain.Treasury("someone"); err != nil {
		t.Fatalf("treasury: %v", err)
	}
	node.Close()

	snap := filepath.Join(dir, "x.snap")
	if err := os.WriteFile(snap, []byte("irrelevant"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg2 := testConfig(t, dir)
	cfg2.ImportSnapshot = snap

	if n, err := NewNode(cfg2); err == nil {
		n.Close()
		t.Fatal("expected import into a populated store to fail")
	}
}

// TestBootstrapFromPeer downloads the initial state from a running relay.
func TestBootstrapFromPeer(t *testing.T) {
	src := tempDir(t)
	manifest := filepath.Join(src, "genesis.yaml")

	if err := os.WriteFile(manifest, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cfg := testConfig(t, filepath.Join(src, "data"))
	cfg.GenesisPath = manifest
	cfg.QUICAddress = "127.0.0.1:0"

	peer, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer peer.Close()

	if err := peer.relay.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}

	cfg2 := testConfig(t, tempDir(t))
	cfg2.BootstrapFrom = peer.relay.Addr()
	cfg2.BootstrapKey = hex.EncodeToString(cfg.PrivateKey.Public().(ed25519.PublicKey))

	joined, err := NewNode(cfg2)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer joined.Close()

	if joined.chain.LT() != peer.chain.LT() {
		t.Errorf("bootstrapped lt = %d, want %d", joined.chain.LT(), peer.chain.LT())
	}

	count, err := joined.storage.CountPrefix([]byte("a:"))
	if err != nil || count == 0 {
		t.Errorf("bootstrapped accounts = %d, err = %v", count, err)
	}
}

func TestBootstrapRejectsWrongPeerKey(t *testing.T) {
	cfg := testConfig(t, tempDir(t))
	cfg.QUICAddress = "127.0.0.1:0"

	peer, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer peer.Close()

	if err := peer.relay.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}

	other, err := generateNewKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	cfg2 := testConfig(t, tempDir(t))
	cfg2.BootstrapFrom = peer.relay.Addr()
	cfg2.BootstrapKey = hex.EncodeToString(other.Public().(ed25519.PublicKey))

	if n, err := NewNode(cfg2); err == nil {
		n.Close()
		t.Fatal("expected bootstrap from an unexpected peer to fail")
	}
}
