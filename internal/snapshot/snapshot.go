// Package snapshot exports and restores the ledger state.
//
// A snapshot is a types.Snapshot flatbuffer holding every account and
// transaction record, sorted by key, with a blake3 checksum over the canonical
// entry list. Files on disk are zstd compressed.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"NFTForge/internal/storage"
	"NFTForge/internal/types"
)

// version is the current snapshot format version.
const version = 1

// ErrChecksum is returned when a snapshot does not match its checksum.
var ErrChecksum = errors.New("snapshot checksum mismatch")

// prefixes are the storage namespaces a snapshot carries.
var prefixes = [][]byte{[]byte("a:"), []byte("t:"), []byte("m:")}

// entry is one storage record.
type entry struct {
	key   []byte
	value []byte
}

// Info describes a restored snapshot.
type Info struct {
	Version uint32
	LT      uint64
	Entries int
}

// Create builds an uncompressed snapshot of db at logical time lt.
func Create(db *storage.Storage, lt uint64) ([]byte, error) {
	entries, err := collect(db)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	return build(lt, entries), nil
}

// collect copies every record under the snapshot prefixes.
func collect(db *storage.Storage) ([]entry, error) {
	var entries []entry

	for _, p := range prefixes {
		err := db.IteratePrefix(p, func(key, value []byte) error {
			entries = append(entries, entry{
				key:   append([]byte{}, key...),
				value: append([]byte{}, value...),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// build sorts entries and encodes the flatbuffer with its checksum.
func build(lt uint64, entries []entry) []byte {
	sortEntries(entries)

	return encode(lt, entries, computeChecksum(version, lt, entries))
}

// encode writes the snapshot flatbuffer for sorted entries.
func encode(lt uint64, entries []entry, checksum [32]byte) []byte {
	builder := flatbuffers.NewBuilder(4096)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, version)
	types.SnapshotAddLt(builder, lt)
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
}

// computeChecksum hashes version(4) + lt(8) + for each entry len(4) key len(4) value.
func computeChecksum(v uint32, lt uint64, entries []entry) [32]byte {
	h := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], v)
	h.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], lt)
	h.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		h.Write(buf[:4])
		h.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		h.Write(buf[:4])
		h.Write(e.value)
	}

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// Restore verifies data and writes its entries to db in one batch.
func Restore(db *storage.Storage, data []byte) (Info, error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return Info{}, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}

	snap := types.GetRootAsSnapshot(data, 0)

	if snap.Version() != version {
		return Info{}, fmt.Errorf("unsupported snapshot version %d", snap.Version())
	}

	entries := make([]entry, snap.EntriesLength())
	var fb types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&fb, i) {
			return Info{}, fmt.Errorf("read entry %d", i)
		}

		entries[i] = entry{
			key:   append([]byte{}, fb.KeyBytes()...),
			value: append([]byte{}, fb.ValueBytes()...),
		}
	}

	stored := snap.ChecksumBytes()
	computed := computeChecksum(snap.Version(), snap.Lt(), entries)

	if !bytes.Equal(stored, computed[:]) {
		return Info{}, ErrChecksum
	}

	ops := make([]storage.Op, len(entries))
	for i, e := range entries {
		ops[i] = storage.Put(e.key, e.value)
	}

	if err := db.Write(ops); err != nil {
		return Info{}, fmt.Errorf("write entries:\n%w", err)
	}

	return Info{Version: snap.Version(), LT: snap.Lt(), Entries: len(entries)}, nil
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// Export creates a compressed snapshot.
func Export(db *storage.Storage, lt uint64) ([]byte, error) {
	data, err := Create(db, lt)
	if err != nil {
		return nil, err
	}

	return Compress(data)
}

// Import decompresses and restores a snapshot produced by Export.
func Import(db *storage.Storage, compressed []byte) (Info, error) {
	data, err := Decompress(compressed)
	if err != nil {
		return Info{}, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	return Restore(db, data)
}
