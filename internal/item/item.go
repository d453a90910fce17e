// Package item implements the NFT item contract deployed by a collection.
//
// An item starts with index:uint64 collection:MsgAddress as data. The first
// internal message from its collection initializes owner and content; every
// other sender is refused until then.
package item

import (
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

const (
	// OpGetStaticData asks an item for its index and collection.
	OpGetStaticData uint32 = 0x2fcb26a2

	// OpReportStaticData answers OpGetStaticData.
	OpReportStaticData uint32 = 0x8b771735

	// ExitNotCollection is raised when an uninitialized item hears from anyone but its collection.
	ExitNotCollection int32 = 405
)

const codeTag = "nftforge:item:v1"

// Code returns the code cell every item is deployed with.
func Code() *cell.Cell {
	return cell.BeginCell().MustStoreSlice([]byte(codeTag), uint(len(codeTag)*8)).EndCell()
}

// Data is the decoded storage of an item.
type Data struct {
	Initialized bool
	Index       uint64
	Collection  *address.Address
	Owner       *address.Address // Owner is nil until initialized
	Content     []byte
}

// Cell encodes d. Uninitialized items only store index and collection.
func (d Data) Cell() *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(d.Index, 64).
		MustStoreAddr(d.Collection)

	if d.Initialized {
		b.MustStoreAddr(d.Owner).
			MustStoreRef(cell.BeginCell().MustStoreBinarySnake(d.Content).EndCell())
	}

	return b.EndCell()
}

// NftData decodes item storage, the get_nft_data getter.
func NftData(data *cell.Cell) (Data, error) {
	var d Data

	if data == nil {
		return d, fmt.Errorf("decode item: nil data")
	}

	s := data.BeginParse()

	index, err := s.LoadUInt(64)
	if err != nil {
		return d, fmt.Errorf("decode item index:\n%w", err)
	}

	collection, err := s.LoadAddr()
	if err != nil {
		return d, fmt.Errorf("decode item collection:\n%w", err)
	}

	d.Index = index
	d.Collection = collection

	if s.BitsLeft() == 0 {
		return d, nil
	}

	owner, content, err := loadInit(s)
	if err != nil {
		return d, fmt.Errorf("decode item owner:\n%w", err)
	}

	d.Initialized = true
	d.Owner = owner
	d.Content = content

	return d, nil
}

// Contract is the vm.Handler of every item.
type Contract struct{}

// Receive implements vm.Handler.
func (Contract) Receive(env vm.Env, data *cell.Cell, in vm.Inbound) (*vm.Outcome, error) {
	d, err := NftData(data)
	if err != nil {
		return nil, err
	}

	if in.External {
		return nil, vm.Exit(vm.ExitUnknownOp, "item accepts no external messages")
	}

	if !d.Initialized {
		return initialize(d, in)
	}

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

	switch uint32(op) {
	case OpGetStaticData:
		report := vm.Outbound{
			To:    in.Sender,
			Value: in.Value,
			Body:  StaticDataReport(queryID, d.Index, d.Collection),
		}
		return &vm.Outcome{Data: data, Out: []vm.Outbound{report}}, nil

	case OpTransfer:
		return transfer(d, queryID, s, in)

	default:
		return nil, vm.Exit(vm.ExitUnknownOp, "unknown opcode 0x%08x", op)
	}
}

// initialize stores owner and content sent by the collection.
func initialize(d Data, in vm.Inbound) (*vm.Outcome, error) {
	if !stateinit.Equal(in.Sender, d.Collection) {
		return nil, vm.Exit(ExitNotCollection, "init from %s, collection is %s", stateinit.Raw(in.Sender), stateinit.Raw(d.Collection))
	}

	if vm.IsEmpty(in.Body) {
		return nil, vm.Exit(vm.ExitCellUnderflow, "empty init body")
	}

	owner, content, err := loadInit(in.Body.BeginParse())
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "init body: %v", err)
	}

	d.Initialized = true
	d.Owner = owner
	d.Content = content

	return &vm.Outcome{Data: d.Cell()}, nil
}

// loadInit reads owner:MsgAddress ^content.
func loadInit(s *cell.Slice) (*address.Address, []byte, error) {
	owner, err := s.LoadAddr()
	if err != nil {
		return nil, nil, err
	}

	ref, err := s.LoadRef()
	if err != nil {
		return nil, nil, err
	}

	content, err := ref.LoadBinarySnake()
	if err != nil {
		return nil, nil, err
	}

	return owner, content, nil
}

// GetStaticDataBody builds a GetStaticData request.
func GetStaticDataBody(queryID uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpGetStaticData), 32).
		MustStoreUInt(queryID, 64).
		EndCell()
}

// StaticDataReport formats op query_id:uint64 index:uint64 collection:MsgAddress.
func StaticDataReport(queryID, index uint64, collection *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpReportStaticData), 32).
		MustStoreUInt(queryID, 64).
		MustStoreUInt(index, 64).
		MustStoreAddr(collection).
		EndCell()
}

// ParseStaticDataReport decodes a StaticDataReport body.
func ParseStaticDataReport(body *cell.Cell) (queryID, index uint64, collection *address.Address, err error) {
	s := body.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("load opcode: %w", err)
	}

	if uint32(op) != OpReportStaticData {
		return 0, 0, nil, fmt.Errorf("unexpected opcode 0x%08x", op)
	}

	if queryID, err = s.LoadUInt(64); err != nil {
		return 0, 0, nil, fmt.Errorf("load query id: %w", err)
	}

	if index, err = s.LoadUInt(64); err != nil {
		return 0, 0, nil, fmt.Errorf("load index: %w", err)
	}

	if collection, err = s.LoadAddr(); err != nil {
		return 0, 0, nil, fmt.Errorf("load collection: %w", err)
	}

	return queryID, index, collection, nil
}
