// Package chaintest provides an in-process ledger for contract tests.
package chaintest

import (
	"os"
	"path/filepath"
	"testing"

	"NFTForge/internal/chain"
	"NFTForge/internal/contracts"
	"NFTForge/internal/storage"
)

// New returns a ledger on a temporary store with every native contract registered.
func New(t testing.TB, opts ...chain.Option) *chain.Chain {
	t.Helper()

	dir, err := os.MkdirTemp("", "chain-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	c, err := chain.New(db, contracts.NewPool(), opts...)
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	return c
}

// Treasury returns the named treasury or fails the test.
func Treasury(t testing.TB, c *chain.Chain, name string) *chain.Treasury {
	t.Helper()

	tr, err := c.Treasury(name)
	if err != nil {
		t.Fatalf("treasury %q: %v", name, err)
	}

	return tr
}
