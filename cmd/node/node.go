package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"NFTForge/internal/api"
	"NFTForge/internal/attest"
	"NFTForge/internal/chain"
	"NFTForge/internal/contracts"
	"NFTForge/internal/genesis"
	"NFTForge/internal/indexdb"
	"NFTForge/internal/logger"
	"NFTForge/internal/network"
	"NFTForge/internal/snapshot"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/storage"
)

// Node represents a running NFTForge node.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	chain   *chain.Chain
	index   *indexdb.Index
	feed    *api.Feed
	api     *api.Server
	relay   *network.Server
	cancels []func() // cancels detach chain observers
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	steps := []func() error{
		n.initStorage,
		n.importSnapshot,
		n.initChain,
		n.initIndex,
		n.deployGenesis,
		n.initAPI,
		n.initRelay,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			n.Close()
			return nil, err
		}
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// importSnapshot restores a snapshot before the ledger reads its logical time.
func (n *Node) importSnapshot() error {
	if n.cfg.ImportSnapshot == "" && n.cfg.BootstrapFrom == "" {
		return nil
	}

	count, err := n.storage.CountPrefix([]byte("a:"))
	if err != nil {
		return err
	}

	if count > 0 {
		return fmt.Errorf("import snapshot: data directory already holds %d accounts", count)
	}

	start := time.Now()

	raw, err := n.fetchSnapshot()
	if err != nil {
		return err
	}

	info, err := snapshot.Import(n.storage, raw)
	if err != nil {
		return fmt.Errorf("import snapshot:\n%w", err)
	}

	logger.Info("snapshot imported", "lt", info.LT, "entries", info.Entries, "bytes", len(raw), logger.Timed(start))

	return nil
}

// fetchSnapshot reads the snapshot file or downloads it from the bootstrap peer.
func (n *Node) fetchSnapshot() ([]byte, error) {
	if n.cfg.ImportSnapshot != "" {
		raw, err := os.ReadFile(n.cfg.ImportSnapshot)
		if err != nil {
			return nil, fmt.Errorf("read snapshot:\n%w", err)
		}

		return raw, nil
	}

	opts := []network.DialOption{network.WithIdentity(n.cfg.PrivateKey)}

	if n.cfg.BootstrapKey != "" {
		pub, err := bootstrapKey(n.cfg.BootstrapKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, network.WithServerKey(pub))
	} else {
		logger.Warn("bootstrap peer identity not pinned", "peer", n.cfg.BootstrapFrom)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := network.Dial(ctx, n.cfg.BootstrapFrom, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial bootstrap peer:\n%w", err)
	}
	defer conn.Close()

	raw, err := conn.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("download snapshot:\n%w", err)
	}

	logger.Info("snapshot downloaded", "peer", n.cfg.BootstrapFrom, "bytes", len(raw))

	return raw, nil
}

// initChain opens the ledger with every native contract registered.
func (n *Node) initChain() error {
	opts := []chain.Option{chain.WithMaxCascade(n.cfg.MaxCascade)}

	if n.cfg.Attest {
		key, err := attest.FromED25519(n.cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("attestation key:\n%w", err)
		}

		logger.Info("attesting transactions", "bls_pubkey", hex.EncodeToString(key.PublicKey()))
		opts = append(opts, chain.WithAttester(key))
	}

	c, err := chain.New(n.storage, contracts.NewPool(), opts...)
	if err != nil {
		return fmt.Errorf("init chain:\n%w", err)
	}

	n.chain = c
	n.feed = api.NewFeed()
	n.cancels = append(n.cancels, c.Subscribe(n.feed.Publish))

	return nil
}

func (n *Node) initIndex() error {
	if n.cfg.IndexPath == "" {
		return nil
	}

	idx, err := indexdb.Open(n.cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("open index:\n%w", err)
	}

	n.index = idx
	n.cancels = append(n.cancels, n.chain.Subscribe(idx.Record))

	return nil
}

func (n *Node) deployGenesis() error {
	if n.cfg.GenesisPath == "" {
		return nil
	}

	m, err := genesis.Load(n.cfg.GenesisPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deployed, err := genesis.Deploy(ctx, n.chain, m)
	if err != nil {
		return fmt.Errorf("deploy genesis:\n%w", err)
	}

	for _, d := range deployed {
		logger.Info("collection ready", "name", d.Name, "address", stateinit.Raw(d.Address))
	}

	return nil
}

func (n *Node) initAPI() error {
	// A nil *indexdb.Index must not become a non-nil interface.
	var index api.TxIndex
	if n.index != nil {
		index = n.index
	}

	n.api = api.New(n.cfg.HTTPAddress, n.chain, index, n.feed)

	return nil
}

func (n *Node) initRelay() error {
	if n.cfg.QUICAddress == "" {
		return nil
	}

	relay, err := network.NewServer(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
		Snapshot: func() ([]byte, error) {
			data, _, err := n.snapshot()
			return data, err
		},
	}, n.chain)
	if err != nil {
		return fmt.Errorf("init relay:\n%w", err)
	}

	n.relay = relay

	return nil
}

// Run serves until interrupted, or exports a snapshot and returns.
func (n *Node) Run() error {
	defer n.Close()

	if n.cfg.ExportSnapshot != "" {
		return n.exportSnapshot(n.cfg.ExportSnapshot)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	if n.relay != nil {
		if err := n.relay.Start(); err != nil {
			return fmt.Errorf("start relay:\n%w", err)
		}
	}

	return n.waitForShutdown()
}

// snapshot exports the store as of the latest committed transaction.
func (n *Node) snapshot() ([]byte, uint64, error) {
	var (
		data []byte
		at   uint64
	)

	err := n.chain.Frozen(func(lt uint64) error {
		var err error
		data, err = snapshot.Export(n.storage, lt)
		at = lt
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("export snapshot:\n%w", err)
	}

	return data, at, nil
}

func (n *Node) exportSnapshot(path string) error {
	start := time.Now()

	data, lt, err := n.snapshot()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	logger.Info("snapshot exported", "path", path, "lt", lt, "bytes", len(data), logger.Timed(start))

	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func (n *Node) waitForShutdown() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	s := <-sig
	logger.Info("shutting down", "signal", s.String())

	return nil
}

// Close releases resources in reverse order of creation.
func (n *Node) Close() error {
	if n.relay != nil {
		n.relay.Close()
		n.relay = nil
	}

	if n.api != nil {
		n.api.Stop()
		n.api = nil
	}

	for _, cancel := range n.cancels {
		cancel()
	}
	n.cancels = nil

	if n.index != nil {
		n.index.Close()
		n.index = nil
	}

	if n.storage != nil {
		err := n.storage.Close()
		n.storage = nil
		return err
	}

	return nil
}
