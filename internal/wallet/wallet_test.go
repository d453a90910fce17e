package wallet

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

func TestKeyFromNameDeterministic(t *testing.T) {
	if !bytes.Equal(KeyFromName("a"), KeyFromName("a")) {
		t.Error("same name produced different keys")
	}

	if bytes.Equal(KeyFromName("a"), KeyFromName("b")) {
		t.Error("different names produced the same key")
	}
}

func TestTransferRelaysOneMessage(t *testing.T) {
	key := KeyFromName("test")
	pub := key.Public().(ed25519.PublicKey)
	to := address.NewAddress(0, 0, bytes.Repeat([]byte{9}, 32))

	init := stateinit.StateInit{Code: Code(), Data: Data{PublicKey: pub}.Cell()}
	body := cell.BeginCell().MustStoreUInt(1, 32).EndCell()

	ext, err := SignTransfer(key, 0, Transfer{To: to, Value: 77, Body: body, Init: &init})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	out, err := Contract{}.Receive(vm.Env{}, Data{PublicKey: pub}.Cell(), vm.Inbound{External: true, Body: ext})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if len(out.Out) != 1 {
		t.Fatalf("got %d outbound messages, want 1", len(out.Out))
	}

	msg := out.Out[0]
	if !stateinit.Equal(msg.To, to) || msg.Value != 77 || !bytes.Equal(msg.Body.Hash(), body.Hash()) {
		t.Errorf("relayed %+v", msg)
	}

	if msg.Init == nil || !bytes.Equal(msg.Init.Data.Hash(), init.Data.Hash()) {
		t.Error("state init was not relayed")
	}

	d, err := LoadData(out.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if d.Seqno != 1 {
		t.Errorf("seqno = %d, want 1", d.Seqno)
	}
}

func TestInternalMessageIsTopUp(t *testing.T) {
	data := Data{PublicKey: KeyFromName("x").Public().(ed25519.PublicKey)}.Cell()

	out, err := Contract{}.Receive(vm.Env{}, data, vm.Inbound{Value: 5, Body: cell.BeginCell().MustStoreUInt(1, 8).EndCell()})
	if err != nil || len(out.Out) != 0 {
		t.Errorf("err=%v out=%d, want silent accept", err, len(out.Out))
	}
}
