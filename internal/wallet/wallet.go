// Package wallet implements the signed-external wallet contract used by treasuries.
//
// A wallet stores seqno:uint32 public_key:bits256. It accepts any internal
// message as a top-up and relays exactly one internal message per external
// message carrying a valid signature over the current seqno.
package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github.com/zeebo/blake3"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

const (
	// ExitBadSeqno is raised when an external message replays or skips a seqno.
	ExitBadSeqno int32 = 33

	// ExitBadSignature is raised when the signature does not match the wallet key.
	ExitBadSignature int32 = 35
)

const codeTag = "nftforge:wallet:v1"

// Code returns the code cell every wallet is deployed with.
func Code() *cell.Cell {
	return cell.BeginCell().MustStoreSlice([]byte(codeTag), uint(len(codeTag)*8)).EndCell()
}

// KeyFromName derives the deterministic key of a named treasury.
func KeyFromName(name string) ed25519.PrivateKey {
	seed := blake3.Sum256([]byte("nftforge/treasury/" + name))
	return ed25519.NewKeyFromSeed(seed[:])
}

// Data is the wallet storage.
type Data struct {
	Seqno     uint32
	PublicKey ed25519.PublicKey
}

// Cell encodes seqno:uint32 public_key:bits256.
func (d Data) Cell() *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(d.Seqno), 32).
		MustStoreSlice(d.PublicKey, 256).
		EndCell()
}

// LoadData decodes wallet storage.
func LoadData(data *cell.Cell) (Data, error) {
	if data == nil {
		return Data{}, fmt.Errorf("decode wallet: nil data")
	}

	s := data.BeginParse()

	seqno, err := s.LoadUInt(32)
	if err != nil {
		return Data{}, fmt.Errorf("decode wallet seqno:\n%w", err)
	}

	pub, err := s.LoadSlice(256)
	if err != nil {
		return Data{}, fmt.Errorf("decode wallet key:\n%w", err)
	}

	return Data{Seqno: uint32(seqno), PublicKey: ed25519.PublicKey(pub)}, nil
}

// StateInit returns the init of a fresh wallet owned by pub.
func StateInit(pub ed25519.PublicKey) stateinit.StateInit {
	return stateinit.StateInit{
		Code: Code(),
		Data: Data{PublicKey: pub}.Cell(),
	}
}

// Address returns the address of the wallet owned by pub.
func Address(pub ed25519.PublicKey) (*address.Address, error) {
	return StateInit(pub).Address(stateinit.BaseWorkchain)
}

// Transfer is the internal message a wallet is asked to send.
type Transfer struct {
	To    *address.Address
	Value uint64
	Body  *cell.Cell
	Init  *stateinit.StateInit
}

// payload encodes seqno:uint32 to:MsgAddress value:coins body:Maybe^Cell init:Maybe^StateInit.
func payload(seqno uint32, t Transfer) (*cell.Cell, error) {
	b := cell.BeginCell().
		MustStoreUInt(uint64(seqno), 32).
		MustStoreAddr(t.To).
		MustStoreCoins(t.Value).
		MustStoreMaybeRef(t.Body)

	var init *cell.Cell
	if t.Init != nil {
		c, err := t.Init.Cell()
		if err != nil {
			return nil, err
		}
		init = c
	}

	return b.MustStoreMaybeRef(init).EndCell(), nil
}

// SignTransfer builds the external body signature:bits512 ^payload.
func SignTransfer(key ed25519.PrivateKey, seqno uint32, t Transfer) (*cell.Cell, error) {
	p, err := payload(seqno, t)
	if err != nil {
		return nil, fmt.Errorf("build transfer payload:\n%w", err)
	}

	sig := ed25519.Sign(key, p.Hash())

	return cell.BeginCell().
		MustStoreSlice(sig, 512).
		MustStoreRef(p).
		EndCell(), nil
}

// Contract is the vm.Handler of every wallet.
type Contract struct{}

// Receive implements vm.Handler.
func (Contract) Receive(env vm.Env, data *cell.Cell, in vm.Inbound) (*vm.Outcome, error) {
	if !in.External {
		return &vm.Outcome{Data: data}, nil
	}

	d, err := LoadData(data)
	if err != nil {
		return nil, err
	}

	if vm.IsEmpty(in.Body) {
		return nil, vm.Exit(vm.ExitCellUnderflow, "empty external body")
	}

	s := in.Body.BeginParse()

	sig, err := s.LoadSlice(512)
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "signature: %v", err)
	}

	p, err := s.LoadRefCell()
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "payload: %v", err)
	}

	if !ed25519.Verify(d.PublicKey, p.Hash(), sig) {
		return nil, vm.Exit(ExitBadSignature, "signature mismatch")
	}

	t, seqno, err := loadPayload(p)
	if err != nil {
		return nil, err
	}

	if seqno != d.Seqno {
		return nil, vm.Exit(ExitBadSeqno, "seqno %d, expected %d", seqno, d.Seqno)
	}

	d.Seqno++

	out := vm.Outbound{To: t.To, Value: t.Value, Body: t.Body, Init: t.Init}

	return &vm.Outcome{Data: d.Cell(), Out: []vm.Outbound{out}}, nil
}

func loadPayload(p *cell.Cell) (Transfer, uint32, error) {
	s := p.BeginParse()

	seqno, err := s.LoadUInt(32)
	if err != nil {
		return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "seqno: %v", err)
	}

	to, err := s.LoadAddr()
	if err != nil {
		return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "destination: %v", err)
	}

	value, err := s.LoadCoins()
	if err != nil {
		return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "value: %v", err)
	}

	body, err := loadMaybeRefCell(s)
	if err != nil {
		return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "body: %v", err)
	}

	initCell, err := loadMaybeRefCell(s)
	if err != nil {
		return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "init: %v", err)
	}

	t := Transfer{To: to, Value: value, Body: body}

	if initCell != nil {
		init, err := stateinit.FromCell(initCell)
		if err != nil {
			return Transfer{}, 0, vm.Exit(vm.ExitCellUnderflow, "init: %v", err)
		}
		t.Init = &init
	}

	return t, uint32(seqno), nil
}

func loadMaybeRefCell(s *cell.Slice) (*cell.Cell, error) {
	has, err := s.LoadBoolBit()
	if err != nil || !has {
		return nil, err
	}

	return s.LoadRefCell()
}
