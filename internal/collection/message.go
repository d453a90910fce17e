package collection

import (
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

// Message is one decoded inbound message. The set of implementations is closed:
// Mint, BatchMint, ChangeOwner, EditContent and GetRoyaltyParams.
type Message interface {
	// Op returns the opcode the message was tagged with.
	Op() uint32

	// privileged reports whether only the owner may send the message.
	privileged() bool
}

// ItemSpec describes one item to deploy.
type ItemSpec struct {
	Index   uint64           // Index is the item index, must equal the collection's next index
	Amount  uint64           // Amount is forwarded to the item to pay for its storage
	Owner   *address.Address // Owner receives the item
	Content []byte           // Content is the item's individual content, appended to common content
}

// Mint deploys one item.
type Mint struct {
	QueryID uint64
	Item    ItemSpec
}

// BatchMint deploys several items in order, atomically.
type BatchMint struct {
	QueryID uint64
	Items   []ItemSpec
}

// ChangeOwner transfers collection ownership.
type ChangeOwner struct {
	QueryID  uint64
	NewOwner *address.Address
}

// EditContent replaces both content blobs and the royalty params.
type EditContent struct {
	QueryID           uint64
	CollectionContent []byte
	CommonContent     []byte
	Royalty           RoyaltyParams
}

// GetRoyaltyParams asks the collection to report its royalty params.
type GetRoyaltyParams struct {
	QueryID uint64
}

func (Mint) Op() uint32             { return OpMint }
func (BatchMint) Op() uint32        { return OpBatchMint }
func (ChangeOwner) Op() uint32      { return OpChangeOwner }
func (EditContent) Op() uint32      { return OpEditContent }
func (GetRoyaltyParams) Op() uint32 { return OpGetRoyaltyParams }

func (Mint) privileged() bool             { return true }
func (BatchMint) privileged() bool        { return true }
func (ChangeOwner) privileged() bool      { return true }
func (EditContent) privileged() bool      { return true }
func (GetRoyaltyParams) privileged() bool { return false }

// Decode parses an inbound body. Errors are *vm.ExitError: unknown opcodes map to
// vm.ExitUnknownOp, short payloads to vm.ExitCellUnderflow.
func Decode(body *cell.Cell) (Message, error) {
	s := body.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return nil, underflow("opcode", err)
	}

	queryID, err := s.LoadUInt(64)
	if err != nil {
		return nil, underflow("query id", err)
	}

	switch uint32(op) {
	case OpMint:
		item, err := loadItemSpec(s)
		if err != nil {
			return nil, err
		}
		return Mint{QueryID: queryID, Item: item}, nil

	case OpBatchMint:
		items, err := loadBatch(s)
		if err != nil {
			return nil, err
		}
		return BatchMint{QueryID: queryID, Items: items}, nil

	case OpChangeOwner:
		owner, err := loadStdAddr(s, "new owner")
		if err != nil {
			return nil, err
		}
		return ChangeOwner{QueryID: queryID, NewOwner: owner}, nil

	case OpEditContent:
		return loadEditContent(s, queryID)

	case OpGetRoyaltyParams:
		return GetRoyaltyParams{QueryID: queryID}, nil

	default:
		return nil, vm.Exit(vm.ExitUnknownOp, "unknown opcode 0x%08x", op)
	}
}

// loadItemSpec reads item_index:uint64 amount:coins ^[owner:MsgAddress ^content].
func loadItemSpec(s *cell.Slice) (ItemSpec, error) {
	var spec ItemSpec

	index, err := s.LoadUInt(64)
	if err != nil {
		return spec, underflow("item index", err)
	}

	amount, err := s.LoadCoins()
	if err != nil {
		return spec, underflow("amount", err)
	}

	nft, err := s.LoadRef()
	if err != nil {
		return spec, underflow("item content", err)
	}

	owner, err := loadStdAddr(nft, "item owner")
	if err != nil {
		return spec, err
	}

	content, err := loadBlobRef(nft)
	if err != nil {
		return spec, underflow("individual content", err)
	}

	return ItemSpec{Index: index, Amount: amount, Owner: owner, Content: content}, nil
}

// loadBatch reads the linked list ^entry where entry = item_spec next:Maybe ^entry.
func loadBatch(s *cell.Slice) ([]ItemSpec, error) {
	entry, err := s.LoadRef()
	if err != nil {
		return nil, underflow("batch", err)
	}

	var items []ItemSpec

	for entry != nil {
		// stop decoding early; the limit is enforced with its own exit code
		if len(items) > MaxBatchSize {
			break
		}

		item, err := loadItemSpec(entry)
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		entry, err = entry.LoadMaybeRef()
		if err != nil {
			return nil, underflow("batch link", err)
		}
	}

	return items, nil
}

// loadEditContent reads ^[^collection_content ^common_content] ^royalty.
func loadEditContent(s *cell.Slice, queryID uint64) (Message, error) {
	content, err := s.LoadRef()
	if err != nil {
		return nil, underflow("content", err)
	}

	collectionContent, err := loadBlobRef(content)
	if err != nil {
		return nil, underflow("collection content", err)
	}

	commonContent, err := loadBlobRef(content)
	if err != nil {
		return nil, underflow("common content", err)
	}

	royaltySlice, err := s.LoadRef()
	if err != nil {
		return nil, underflow("royalty", err)
	}

	royalty, err := loadRoyalty(royaltySlice)
	if err != nil {
		return nil, underflow("royalty", err)
	}

	if !stateinit.IsStd(royalty.Address) {
		return nil, vm.Exit(ExitBadAddress, "royalty address is not a standard address")
	}

	return EditContent{
		QueryID:           queryID,
		CollectionContent: collectionContent,
		CommonContent:     commonContent,
		Royalty:           royalty,
	}, nil
}

// loadStdAddr reads an address and requires it to be a standard one.
func loadStdAddr(s *cell.Slice, what string) (*address.Address, error) {
	addr, err := s.LoadAddr()
	if err != nil {
		return nil, underflow(what, err)
	}

	if !stateinit.IsStd(addr) {
		return nil, vm.Exit(ExitBadAddress, "%s is not a standard address", what)
	}

	return addr, nil
}

func underflow(what string, err error) error {
	return vm.Exit(vm.ExitCellUnderflow, "%s: %v", what, err)
}

// MintBody builds a Mint message body.
func MintBody(queryID uint64, item ItemSpec) *cell.Cell {
	return storeItemSpec(
		cell.BeginCell().MustStoreUInt(uint64(OpMint), 32).MustStoreUInt(queryID, 64),
		item,
	).EndCell()
}

// BatchMintBody builds a BatchMint message body. items must not be empty.
func BatchMintBody(queryID uint64, items []ItemSpec) (*cell.Cell, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch mint: no items")
	}

	var next *cell.Cell
	for i := len(items) - 1; i >= 0; i-- {
		next = storeItemSpec(cell.BeginCell(), items[i]).MustStoreMaybeRef(next).EndCell()
	}

	return cell.BeginCell().
		MustStoreUInt(uint64(OpBatchMint), 32).
		MustStoreUInt(queryID, 64).
		MustStoreRef(next).
		EndCell(), nil
}

// ChangeOwnerBody builds a ChangeOwner message body.
func ChangeOwnerBody(queryID uint64, newOwner *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpChangeOwner), 32).
		MustStoreUInt(queryID, 64).
		MustStoreAddr(newOwner).
		EndCell()
}

// EditContentBody builds an EditContent message body.
func EditContentBody(queryID uint64, collectionContent, commonContent []byte, royalty RoyaltyParams) *cell.Cell {
	content := cell.BeginCell().
		MustStoreRef(blobCell(collectionContent)).
		MustStoreRef(blobCell(commonContent)).
		EndCell()

	return cell.BeginCell().
		MustStoreUInt(uint64(OpEditContent), 32).
		MustStoreUInt(queryID, 64).
		MustStoreRef(content).
		MustStoreRef(royalty.Cell()).
		EndCell()
}

// GetRoyaltyParamsBody builds a GetRoyaltyParams message body.
func GetRoyaltyParamsBody(queryID uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpGetRoyaltyParams), 32).
		MustStoreUInt(queryID, 64).
		EndCell()
}

// storeItemSpec appends item_index:uint64 amount:coins ^[owner ^content] to b.
func storeItemSpec(b *cell.Builder, item ItemSpec) *cell.Builder {
	return b.MustStoreUInt(item.Index, 64).
		MustStoreCoins(item.Amount).
		MustStoreRef(itemBody(item.Owner, item.Content))
}

// itemBody is the payload an item receives on deploy: owner:MsgAddress ^content.
func itemBody(owner *address.Address, content []byte) *cell.Cell {
	return cell.BeginCell().
		MustStoreAddr(owner).
		MustStoreRef(blobCell(content)).
		EndCell()
}
