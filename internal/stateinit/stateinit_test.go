package stateinit

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// testCode returns a code cell tagged with name.
func testCode(name string) *cell.Cell {
	return cell.BeginCell().MustStoreSlice([]byte(name), uint(len(name)*8)).EndCell()
}

// testData returns item-style data: index:64 collection:addr.
func testData(index uint64, owner *address.Address) *cell.Cell {
	return cell.BeginCell().MustStoreUInt(index, 64).MustStoreAddr(owner).EndCell()
}

func testAddr(b byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{b}, 32))
}

func TestDeriveDeterministic(t *testing.T) {
	code := testCode("item")
	data := testData(77, testAddr(0xAA))

	a1, err := Derive(code, data, BaseWorkchain)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	a2, err := Derive(code, data, BaseWorkchain)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	if !Equal(a1, a2) {
		t.Errorf("same inputs produced %s and %s", Raw(a1), Raw(a2))
	}

	if a1.Workchain() != 0 {
		t.Errorf("workchain = %d, want 0", a1.Workchain())
	}
}

func TestDeriveDistinctInputs(t *testing.T) {
	code := testCode("item")
	owner := testAddr(0xAA)

	base, _ := Derive(code, testData(1, owner), BaseWorkchain)
	otherIndex, _ := Derive(code, testData(2, owner), BaseWorkchain)
	otherOwner, _ := Derive(code, testData(1, testAddr(0xBB)), BaseWorkchain)
	otherCode, _ := Derive(testCode("item2"), testData(1, owner), BaseWorkchain)

	for name, a := range map[string]*address.Address{
		"index": otherIndex,
		"owner": otherOwner,
		"code":  otherCode,
	} {
		if Equal(base, a) {
			t.Errorf("changing %s did not change the address", name)
		}
	}
}

// TestCanonicalCellMatchesTLB checks the hand-built StateInit against the tlb encoder.
func TestCanonicalCellMatchesTLB(t *testing.T) {
	code := testCode("collection")
	data := testData(0, testAddr(0x01))

	ours, err := StateInit{Code: code, Data: data}.Cell()
	if err != nil {
		t.Fatalf("cell: %v", err)
	}

	ref, err := tlb.ToCell(&tlb.StateInit{Code: code, Data: data})
	if err != nil {
		t.Fatalf("tlb: %v", err)
	}

	if !bytes.Equal(ours.Hash(), ref.Hash()) {
		t.Errorf("hash mismatch: %x vs %x", ours.Hash(), ref.Hash())
	}
}

func TestMissingParts(t *testing.T) {
	if _, err := Derive(nil, testData(0, testAddr(1)), 0); !errors.Is(err, ErrMissingCode) {
		t.Errorf("expected ErrMissingCode, got %v", err)
	}

	if _, err := Derive(testCode("x"), nil, 0); !errors.Is(err, ErrMissingData) {
		t.Errorf("expected ErrMissingData, got %v", err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	a := testAddr(0x42)

	k, err := Key(a)
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	if !Equal(FromKey(k), a) {
		t.Error("FromKey(Key(a)) != a")
	}

	if _, err := Key(nil); err == nil {
		t.Error("expected error for nil address")
	}
}

func TestParseRaw(t *testing.T) {
	a := testAddr(0x0F)

	got, err := Parse(Raw(a))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !Equal(got, a) {
		t.Errorf("Parse(Raw(a)) = %s", Raw(got))
	}

	if _, err := Parse("0:abcd"); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestEqualNil(t *testing.T) {
	if !Equal(nil, nil) {
		t.Error("nil addresses should be equal")
	}

	if Equal(nil, testAddr(1)) {
		t.Error("nil and non-nil should differ")
	}
}

func TestFromCellRoundTrip(t *testing.T) {
	init := StateInit{Code: testCode("wallet"), Data: testData(5, testAddr(0x01))}

	c, err := init.Cell()
	if err != nil {
		t.Fatalf("cell: %v", err)
	}

	got, err := FromCell(c)
	if err != nil {
		t.Fatalf("from cell: %v", err)
	}

	if !bytes.Equal(got.Code.Hash(), init.Code.Hash()) || !bytes.Equal(got.Data.Hash(), init.Data.Hash()) {
		t.Error("decoded state init differs from the original")
	}
}

func TestFromCellRejectsOtherLayouts(t *testing.T) {
	c := cell.BeginCell().MustStoreUInt(0b10110, 5).MustStoreRef(testCode("a")).MustStoreRef(testCode("b")).EndCell()

	if _, err := FromCell(c); err == nil {
		t.Error("expected error for split_depth layout")
	}
}
