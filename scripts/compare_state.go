//go:build ignore

// compare_state reports accounts that differ between two node data directories,
// e.g. a node and a peer bootstrapped from it.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/storage"
)

var accountPrefix = []byte("a:")

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <data_dir1> <data_dir2>\n", os.Args[0])
		os.Exit(1)
	}

	accounts1, err := collectAccounts(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	accounts2, err := collectAccounts(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d accounts\n", os.Args[1], len(accounts1))
	fmt.Printf("%s: %d accounts\n", os.Args[2], len(accounts2))

	only1, only2, different := compare(accounts1, accounts2)

	if len(only1)+len(only2)+len(different) == 0 {
		fmt.Println("\nstates are identical")
		return
	}

	fmt.Println("\nstates differ:")
	report("only in first", only1)
	report("only in second", only2)
	report("different content", different)

	os.Exit(1)
}

// collectAccounts loads every account record of the node store under dir.
func collectAccounts(dir string) (map[[stateinit.KeySize]byte][]byte, error) {
	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	accounts := make(map[[stateinit.KeySize]byte][]byte)

	err = db.IteratePrefix(accountPrefix, func(key, value []byte) error {
		if len(key) != len(accountPrefix)+stateinit.KeySize {
			return nil
		}

		var k [stateinit.KeySize]byte
		copy(k[:], key[len(accountPrefix):])
		accounts[k] = append([]byte{}, value...)

		return nil
	})

	return accounts, err
}

func compare(a, b map[[stateinit.KeySize]byte][]byte) (onlyA, onlyB, different [][stateinit.KeySize]byte) {
	for k, va := range a {
		vb, ok := b[k]
		switch {
		case !ok:
			onlyA = append(onlyA, k)
		case !bytes.Equal(va, vb):
			different = append(different, k)
		}
	}

	for k := range b {
		if _, ok := a[k]; !ok {
			onlyB = append(onlyB, k)
		}
	}

	return onlyA, onlyB, different
}

func report(label string, keys [][stateinit.KeySize]byte) {
	if len(keys) == 0 {
		return
	}

	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })

	fmt.Printf("  %s: %d\n", label, len(keys))
	for _, k := range keys {
		fmt.Printf("      %s\n", stateinit.Raw(stateinit.FromKey(k)))
	}
}
