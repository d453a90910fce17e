// Package manager implements the edition manager: a contract that owns a
// collection and sells mints to anyone paying its price, up to a supply cap.
//
// The manager is deployed first so its address can become the collection
// owner. Its owner then points it at the collection with
// SetNftCollectionAddress, after which MintSafe is open to the public.
package manager

import (
	"fmt"
	"log/slog"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/collection"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

// Inbound opcodes.
const (
	OpSetNftCollectionAddress uint32 = 1
	OpMintSafe                uint32 = 2
	OpWithdraw                uint32 = 3
)

// Exit codes raised by the manager.
const (
	ExitAccessDenied  int32 = 401
	ExitNoCollection  int32 = 410
	ExitSoldOut       int32 = 411
	ExitUnderpaid     int32 = 412
	ExitIndexMismatch int32 = 413
	ExitBadAddress    int32 = 136
)

const codeTag = "nftforge:manager:v1"

// Code returns the code cell every manager is deployed with.
func Code() *cell.Cell {
	return cell.BeginCell().MustStoreSlice([]byte(codeTag), uint(len(codeTag)*8)).EndCell()
}

// Data is the manager storage.
type Data struct {
	Owner         *address.Address
	Collection    *address.Address // Collection is nil until set by the owner
	MintPrice     uint64           // MintPrice is kept by the manager on every mint
	MaxSupply     uint64           // MaxSupply caps item indexes, 0 for an open edition
	NextItemIndex uint64           // NextItemIndex is the index the next MintSafe must name
	ItemAmount    uint64           // ItemAmount funds each deployed item
	ItemContent   []byte           // ItemContent is the individual content of every edition item
}

// Cell encodes d as owner collection price:Coins max:uint64 next:uint64 amount:Coins ^content.
func (d Data) Cell() *cell.Cell {
	return cell.BeginCell().
		MustStoreAddr(d.Owner).
		MustStoreAddr(d.Collection).
		MustStoreCoins(d.MintPrice).
		MustStoreUInt(d.MaxSupply, 64).
		MustStoreUInt(d.NextItemIndex, 64).
		MustStoreCoins(d.ItemAmount).
		MustStoreRef(cell.BeginCell().MustStoreBinarySnake(d.ItemContent).EndCell()).
		EndCell()
}

// LoadData decodes manager storage, the get_manager_data getter.
func LoadData(c *cell.Cell) (Data, error) {
	var d Data

	if c == nil {
		return d, fmt.Errorf("decode manager: nil data")
	}

	s := c.BeginParse()

	var err error
	if d.Owner, err = s.LoadAddr(); err != nil {
		return d, fmt.Errorf("decode manager owner:\n%w", err)
	}

	if d.Collection, err = s.LoadAddr(); err != nil {
		return d, fmt.Errorf("decode manager collection:\n%w", err)
	}

	if d.Collection.IsAddrNone() {
		d.Collection = nil
	}

	if d.MintPrice, err = s.LoadCoins(); err != nil {
		return d, fmt.Errorf("decode mint price:\n%w", err)
	}

	if d.MaxSupply, err = s.LoadUInt(64); err != nil {
		return d, fmt.Errorf("decode max supply:\n%w", err)
	}

	if d.NextItemIndex, err = s.LoadUInt(64); err != nil {
		return d, fmt.Errorf("decode next index:\n%w", err)
	}

	if d.ItemAmount, err = s.LoadCoins(); err != nil {
		return d, fmt.Errorf("decode item amount:\n%w", err)
	}

	ref, err := s.LoadRef()
	if err != nil {
		return d, fmt.Errorf("decode item content:\n%w", err)
	}

	if d.ItemContent, err = ref.LoadBinarySnake(); err != nil {
		return d, fmt.Errorf("decode item content:\n%w", err)
	}

	return d, nil
}

// Price returns the value a MintSafe must carry.
func (d Data) Price() uint64 {
	return d.MintPrice + d.ItemAmount
}

// NewFromConfig builds the StateInit of a manager and derives its address.
// The collection is left unset.
func NewFromConfig(d Data) (stateinit.StateInit, *address.Address, error) {
	if !stateinit.IsStd(d.Owner) {
		return stateinit.StateInit{}, nil, fmt.Errorf("manager owner must be a standard address")
	}

	if d.MintPrice > ^uint64(0)-d.ItemAmount {
		return stateinit.StateInit{}, nil, fmt.Errorf("mint price overflows")
	}

	d.Collection = nil

	init := stateinit.StateInit{Code: Code(), Data: d.Cell()}

	addr, err := init.Address(stateinit.BaseWorkchain)
	if err != nil {
		return stateinit.StateInit{}, nil, err
	}

	return init, addr, nil
}

// Contract is the vm.Handler of every manager.
type Contract struct {
	log *slog.Logger
}

// NewContract creates the manager handler.
func NewContract() *Contract {
	return &Contract{log: logger.With("contract", "manager")}
}

// Receive implements vm.Handler.
func (c *Contract) Receive(env vm.Env, data *cell.Cell, in vm.Inbound) (*vm.Outcome, error) {
	d, err := LoadData(data)
	if err != nil {
		return nil, err
	}

	if in.External {
		return nil, vm.Exit(vm.ExitUnknownOp, "manager accepts no external messages")
	}

	// plain transfers top the manager up
	if vm.IsEmpty(in.Body) {
		return &vm.Outcome{Data: data}, nil
	}

	s := in.Body.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "opcode: %v", err)
	}

	queryID, err := s.LoadUInt(64)
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "query id: %v", err)
	}

	var out []vm.Outbound

	switch uint32(op) {
	case OpSetNftCollectionAddress:
		d, err = setCollection(d, s, in)

	case OpMintSafe:
		var mint vm.Outbound
		d, mint, err = mintSafe(d, queryID, s, in)
		out = []vm.Outbound{mint}

	case OpWithdraw:
		var w vm.Outbound
		w, err = withdraw(d, s, in, env.Balance)
		out = []vm.Outbound{w}

	default:
		return nil, vm.Exit(vm.ExitUnknownOp, "unknown opcode 0x%08x", op)
	}

	if err != nil {
		c.log.Debug("message rejected", "manager", stateinit.Raw(env.Self), "op", op, "error", err)
		return nil, err
	}

	return &vm.Outcome{Data: d.Cell(), Out: out}, nil
}

func setCollection(d Data, s *cell.Slice, in vm.Inbound) (Data, error) {
	if !stateinit.Equal(in.Sender, d.Owner) {
		return d, vm.Exit(ExitAccessDenied, "set collection from %s: sender is not the owner", stateinit.Raw(in.Sender))
	}

	addr, err := s.LoadAddr()
	if err != nil {
		return d, vm.Exit(vm.ExitCellUnderflow, "collection address: %v", err)
	}

	if !stateinit.IsStd(addr) {
		return d, vm.Exit(ExitBadAddress, "collection is not a standard address")
	}

	d.Collection = addr

	return d, nil
}

// mintSafe forwards a Mint to the collection once the buyer has paid and the
// requested index is the next one within supply.
func mintSafe(d Data, queryID uint64, s *cell.Slice, in vm.Inbound) (Data, vm.Outbound, error) {
	index, err := s.LoadUInt(64)
	if err != nil {
		return d, vm.Outbound{}, vm.Exit(vm.ExitCellUnderflow, "next item index: %v", err)
	}

	itemOwner, err := s.LoadAddr()
	if err != nil {
		return d, vm.Outbound{}, vm.Exit(vm.ExitCellUnderflow, "item owner: %v", err)
	}

	switch {
	case d.Collection == nil:
		return d, vm.Outbound{}, vm.Exit(ExitNoCollection, "collection address is not set")
	case !stateinit.IsStd(itemOwner):
		return d, vm.Outbound{}, vm.Exit(ExitBadAddress, "item owner is not a standard address")
	case d.MaxSupply != 0 && index >= d.MaxSupply:
		return d, vm.Outbound{}, vm.Exit(ExitSoldOut, "index %d reaches max supply %d", index, d.MaxSupply)
	case index != d.NextItemIndex:
		return d, vm.Outbound{}, vm.Exit(ExitIndexMismatch, "index %d, next is %d", index, d.NextItemIndex)
	case in.Value < d.Price():
		return d, vm.Outbound{}, vm.Exit(ExitUnderpaid, "paid %d, price is %d", in.Value, d.Price())
	}

	spec := collection.ItemSpec{Index: index, Amount: d.ItemAmount, Owner: itemOwner, Content: d.ItemContent}
	mint := vm.Outbound{
		To:    d.Collection,
		Value: in.Value - d.MintPrice,
		Body:  collection.MintBody(queryID, spec),
	}

	d.NextItemIndex++

	return d, mint, nil
}

// withdraw sends amount of the collected revenue to the owner.
func withdraw(d Data, s *cell.Slice, in vm.Inbound, balance uint64) (vm.Outbound, error) {
	if !stateinit.Equal(in.Sender, d.Owner) {
		return vm.Outbound{}, vm.Exit(ExitAccessDenied, "withdraw from %s: sender is not the owner", stateinit.Raw(in.Sender))
	}

	amount, err := s.LoadCoins()
	if err != nil {
		return vm.Outbound{}, vm.Exit(vm.ExitCellUnderflow, "amount: %v", err)
	}

	if amount > balance {
		return vm.Outbound{}, vm.Exit(vm.ExitNotEnoughBalance, "withdraw %d exceeds balance %d", amount, balance)
	}

	return vm.Outbound{To: d.Owner, Value: amount}, nil
}

// SetNftCollectionAddressBody builds a SetNftCollectionAddress message body.
func SetNftCollectionAddressBody(queryID uint64, coll *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpSetNftCollectionAddress), 32).
		MustStoreUInt(queryID, 64).
		MustStoreAddr(coll).
		EndCell()
}

// MintSafeBody builds a MintSafe message body.
func MintSafeBody(queryID, nextItemIndex uint64, itemOwner *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpMintSafe), 32).
		MustStoreUInt(queryID, 64).
		MustStoreUInt(nextItemIndex, 64).
		MustStoreAddr(itemOwner).
		EndCell()
}

// WithdrawBody builds a Withdraw message body.
func WithdrawBody(queryID, amount uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpWithdraw), 32).
		MustStoreUInt(queryID, 64).
		MustStoreCoins(amount).
		EndCell()
}
