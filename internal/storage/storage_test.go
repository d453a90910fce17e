package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	s, err := New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("a:collection")
	value := []byte("state-boc")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	ok, err := s.Has(key)
	if err != nil || !ok {
		t.Errorf("Has = %v, %v; want true, nil", ok, err)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestSetEmptyValueIsNotDelete(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("k"), nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err := s.Has([]byte("k"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}

	if !ok {
		t.Error("empty value should still be stored")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("to-delete")

	if err := s.Set(key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestWriteMixedBatch(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("old"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ops := []Op{
		Put([]byte("batch-1"), []byte("value-1")),
		Put([]byte("batch-2"), []byte("value-2")),
		Del([]byte("old")),
	}

	if err := s.Write(ops); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for _, op := range ops[:2] {
		got, _ := s.Get(op.Key)
		if !bytes.Equal(got, op.Value) {
			t.Errorf("Get(%q) = %q, want %q", op.Key, got, op.Value)
		}
	}

	if got, _ := s.Get([]byte("old")); got != nil {
		t.Errorf("deleted key still present: %q", got)
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	ops := []Op{
		Put([]byte("a:2"), []byte("two")),
		Put([]byte("a:1"), []byte("one")),
		Put([]byte("t:1"), []byte("tx")),
		Put([]byte("a\xff"), []byte("edge")),
	}
	if err := s.Write(ops); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var keys []string
	err := s.IteratePrefix([]byte("a:"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "a:1" || keys[1] != "a:2" {
		t.Errorf("keys = %v, want [a:1 a:2]", keys)
	}

	n, err := s.CountPrefix(nil)
	if err != nil {
		t.Fatalf("CountPrefix failed: %v", err)
	}

	if n != 4 {
		t.Errorf("CountPrefix(nil) = %d, want 4", n)
	}
}

func TestIteratePrefixStopsOnError(t *testing.T) {
	s := newTestStorage(t)

	_ = s.Write([]Op{Put([]byte("p1"), []byte("1")), Put([]byte("p2"), []byte("2"))})

	stop := errors.New("stop")
	visited := 0

	err := s.IteratePrefix([]byte("p"), func(_, _ []byte) error {
		visited++
		return stop
	})

	if !errors.Is(err, stop) {
		t.Errorf("expected stop error, got %v", err)
	}

	if visited != 1 {
		t.Errorf("visited %d keys, want 1", visited)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("a:"), []byte("a;")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, c := range cases {
		got := prefixUpperBound(c.in)
		if !bytes.Equal(got, c.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestClosedStorage(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := s.Get([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: got %v, want ErrClosed", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
