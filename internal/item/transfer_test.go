package item

import (
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

func owned() *cell.Cell {
	return Data{Initialized: true, Index: 4, Collection: collectionAddr, Owner: ownerAddr, Content: []byte("4.json")}.Cell()
}

func TestTransferByOwner(t *testing.T) {
	buyer := testAddr(0x30)
	payload := cell.BeginCell().MustStoreUInt(0xAB, 8).EndCell()

	body := TransferBody(Transfer{QueryID: 5, NewOwner: buyer, Response: ownerAddr, ForwardAmount: 3, ForwardPayload: payload})

	out, err := Contract{}.Receive(vm.Env{}, owned(), vm.Inbound{Sender: ownerAddr, Value: 10, Body: body})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	d, err := NftData(out.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !stateinit.Equal(d.Owner, buyer) || d.Index != 4 || string(d.Content) != "4.json" {
		t.Errorf("data = %+v", d)
	}

	if len(out.Out) != 2 {
		t.Fatalf("got %d outbound messages, want 2", len(out.Out))
	}

	notify := out.Out[0]
	if !stateinit.Equal(notify.To, buyer) || notify.Value != 3 {
		t.Errorf("notification = %+v", notify)
	}

	s := notify.Body.BeginParse()
	if op := s.MustLoadUInt(32); uint32(op) != OpOwnershipAssigned {
		t.Errorf("notification op = 0x%08x", op)
	}
	if q := s.MustLoadUInt(64); q != 5 {
		t.Errorf("notification query id = %d", q)
	}
	if prev := s.MustLoadAddr(); !stateinit.Equal(prev, ownerAddr) {
		t.Errorf("previous owner = %s", stateinit.Raw(prev))
	}

	excess := out.Out[1]
	if !stateinit.Equal(excess.To, ownerAddr) || excess.Value != 7 {
		t.Errorf("excess = %+v", excess)
	}
}

func TestTransferWithoutForward(t *testing.T) {
	buyer := testAddr(0x31)

	out, err := Contract{}.Receive(vm.Env{}, owned(), vm.Inbound{Sender: ownerAddr, Body: TransferBody(Transfer{NewOwner: buyer})})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if len(out.Out) != 0 {
		t.Errorf("out = %+v, want none", out.Out)
	}

	d, _ := NftData(out.Data)
	if !stateinit.Equal(d.Owner, buyer) {
		t.Errorf("owner = %s", stateinit.Raw(d.Owner))
	}
}

func TestTransferRefused(t *testing.T) {
	buyer := testAddr(0x32)

	tests := []struct {
		name   string
		sender *address.Address
		value  uint64
		body   *cell.Cell
		code   int32
	}{
		{"stranger", buyer, 0, TransferBody(Transfer{NewOwner: buyer}), ExitNotOwner},
		{"collection", collectionAddr, 0, TransferBody(Transfer{NewOwner: buyer}), ExitNotOwner},
		{"no new owner", ownerAddr, 0, TransferBody(Transfer{}), ExitBadOwner},
		{"forward over value", ownerAddr, 1, TransferBody(Transfer{NewOwner: buyer, ForwardAmount: 2}), vm.ExitNotEnoughBalance},
		{"truncated", ownerAddr, 0, cell.BeginCell().MustStoreUInt(uint64(OpTransfer), 32).MustStoreUInt(0, 64).EndCell(), vm.ExitCellUnderflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Contract{}.Receive(vm.Env{}, owned(), vm.Inbound{Sender: tc.sender, Value: tc.value, Body: tc.body})
			if code, _ := vm.ExitCode(err); code != tc.code {
				t.Errorf("err = %v, want exit %d", err, tc.code)
			}
		})
	}
}
