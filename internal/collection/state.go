// Package collection implements the NFT collection contract: its persistent
// state, the opcoded message protocol that mutates it, the deterministic
// addressing of the items it mints and the read-only getters.
package collection

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
)

// ErrInvalidRoyalty is returned for royalty parameters that do not describe a fraction <= 1.
var ErrInvalidRoyalty = errors.New("invalid royalty params")

// RoyaltyParams define the royalty fraction Factor/Base paid to Address.
type RoyaltyParams struct {
	Factor  uint16
	Base    uint16
	Address *address.Address
}

// Validate checks Base > 0 and Factor <= Base.
func (r RoyaltyParams) Validate() error {
	if r.Base == 0 {
		return fmt.Errorf("%w: base is zero", ErrInvalidRoyalty)
	}

	if r.Factor > r.Base {
		return fmt.Errorf("%w: factor %d exceeds base %d", ErrInvalidRoyalty, r.Factor, r.Base)
	}

	return nil
}

// Cell encodes factor:uint16 base:uint16 address:MsgAddress.
func (r RoyaltyParams) Cell() *cell.Cell {
	return r.store(cell.BeginCell()).EndCell()
}

func (r RoyaltyParams) store(b *cell.Builder) *cell.Builder {
	return b.MustStoreUInt(uint64(r.Factor), 16).
		MustStoreUInt(uint64(r.Base), 16).
		MustStoreAddr(r.Address)
}

// loadRoyalty reads RoyaltyParams from s.
func loadRoyalty(s *cell.Slice) (RoyaltyParams, error) {
	var r RoyaltyParams

	factor, err := s.LoadUInt(16)
	if err != nil {
		return r, fmt.Errorf("load royalty factor: %w", err)
	}

	base, err := s.LoadUInt(16)
	if err != nil {
		return r, fmt.Errorf("load royalty base: %w", err)
	}

	addr, err := s.LoadAddr()
	if err != nil {
		return r, fmt.Errorf("load royalty address: %w", err)
	}

	r.Factor = uint16(factor)
	r.Base = uint16(base)
	r.Address = addr

	return r, nil
}

// State is the persistent record of a collection contract.
// It is a value: transitions return a new State and never modify their input.
type State struct {
	Owner             *address.Address // Owner is the only sender allowed to mutate the collection
	NextItemIndex     uint64           // NextItemIndex is the index the next minted item receives
	CollectionContent []byte           // CollectionContent is the collection metadata blob
	CommonContent     []byte           // CommonContent prefixes every item's content
	ItemCode          *cell.Cell       // ItemCode is the code every item is deployed with
	Royalty           RoyaltyParams    // Royalty is reported to marketplaces on request
}

// Cell encodes the state:
// owner:MsgAddress next_item_index:uint64 ^[^collection_content ^common_content] ^item_code ^royalty.
func (s State) Cell() (*cell.Cell, error) {
	if s.ItemCode == nil {
		return nil, fmt.Errorf("encode state: missing item code")
	}

	content := cell.BeginCell().
		MustStoreRef(blobCell(s.CollectionContent)).
		MustStoreRef(blobCell(s.CommonContent)).
		EndCell()

	return cell.BeginCell().
		MustStoreAddr(s.Owner).
		MustStoreUInt(s.NextItemIndex, 64).
		MustStoreRef(content).
		MustStoreRef(s.ItemCode).
		MustStoreRef(s.Royalty.Cell()).
		EndCell(), nil
}

// LoadState decodes a collection's persistent data.
func LoadState(data *cell.Cell) (State, error) {
	var st State

	if data == nil {
		return st, fmt.Errorf("decode state: nil data")
	}

	s := data.BeginParse()

	owner, err := s.LoadAddr()
	if err != nil {
		return st, fmt.Errorf("decode state owner:\n%w", err)
	}

	next, err := s.LoadUInt(64)
	if err != nil {
		return st, fmt.Errorf("decode state next index:\n%w", err)
	}

	content, err := s.LoadRef()
	if err != nil {
		return st, fmt.Errorf("decode state content:\n%w", err)
	}

	collectionContent, err := loadBlobRef(content)
	if err != nil {
		return st, fmt.Errorf("decode collection content:\n%w", err)
	}

	commonContent, err := loadBlobRef(content)
	if err != nil {
		return st, fmt.Errorf("decode common content:\n%w", err)
	}

	itemCode, err := s.LoadRefCell()
	if err != nil {
		return st, fmt.Errorf("decode item code:\n%w", err)
	}

	royaltySlice, err := s.LoadRef()
	if err != nil {
		return st, fmt.Errorf("decode royalty:\n%w", err)
	}

	royalty, err := loadRoyalty(royaltySlice)
	if err != nil {
		return st, err
	}

	return State{
		Owner:             owner,
		NextItemIndex:     next,
		CollectionContent: collectionContent,
		CommonContent:     commonContent,
		ItemCode:          itemCode,
		Royalty:           royalty,
	}, nil
}

// blobCell stores an opaque content blob with snake encoding.
func blobCell(b []byte) *cell.Cell {
	return cell.BeginCell().MustStoreBinarySnake(b).EndCell()
}

// loadBlobRef reads the next ref of s as a snake-encoded blob.
func loadBlobRef(s *cell.Slice) ([]byte, error) {
	ref, err := s.LoadRef()
	if err != nil {
		return nil, err
	}

	return ref.LoadBinarySnake()
}

// clone returns a copy of b that shares no memory with it.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// isOwner reports whether sender is the collection owner.
func (s State) isOwner(sender *address.Address) bool {
	return stateinit.IsStd(sender) && stateinit.Equal(sender, s.Owner)
}
