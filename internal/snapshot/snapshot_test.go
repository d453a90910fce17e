package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"NFTForge/internal/chain"
	"NFTForge/internal/contracts"
	"NFTForge/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "snapshot-test-*")
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

	return db
}

// populate creates two treasuries and a transfer between them.
func populate(t *testing.T, db *storage.Storage) *chain.Chain {
	t.Helper()

	c, err := chain.New(db, contracts.NewPool())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	a, err := c.Treasury("a")
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}

	b, err := c.Treasury("b")
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}

	if _, err := a.Send(context.Background(), b.Address(), 1000, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	return c
}

func TestExportImport(t *testing.T) {
	src := newTestStorage(t)
	c := populate(t, src)

	data, err := Export(src, c.LT())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newTestStorage(t)

	info, err := Import(dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if info.LT != c.LT() || info.Entries == 0 {
		t.Errorf("info = %+v, want lt %d", info, c.LT())
	}

	restored, err := chain.New(dst, contracts.NewPool())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if restored.LT() != c.LT() {
		t.Errorf("restored lt = %d, want %d", restored.LT(), c.LT())
	}

	b, _ := c.Treasury("b")

	want, _ := c.Account(context.Background(), b.Address())
	got, err := restored.Account(context.Background(), b.Address())
	if err != nil {
		t.Fatalf("restored account: %v", err)
	}

	if got.Balance != want.Balance || !bytes.Equal(got.Data.Hash(), want.Data.Hash()) {
		t.Error("restored account differs")
	}
}

func TestCreateIsDeterministic(t *testing.T) {
	db := newTestStorage(t)
	c := populate(t, db)

	first, err := Create(db, c.LT())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second, _ := Create(db, c.LT())

	if !bytes.Equal(first, second) {
		t.Error("snapshots of the same state differ")
	}
}

func TestRestoreDetectsTampering(t *testing.T) {
	db := newTestStorage(t)
	populate(t, db)

	entries, err := collect(db)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	sortEntries(entries)

	checksum := computeChecksum(version, 7, entries)

	entries[0].value = append(entries[0].value, 0xFF)
	forged := encode(7, entries, checksum)

	if _, err := Restore(newTestStorage(t), forged); !errors.Is(err, ErrChecksum) {
		t.Errorf("err = %v, want ErrChecksum", err)
	}
}

func TestRestoreRejectsShortInput(t *testing.T) {
	if _, err := Restore(newTestStorage(t), []byte{1}); err == nil {
		t.Error("expected error for short input")
	}
}
