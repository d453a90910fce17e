package collection

import (
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// CollectionData is the answer of the get_collection_data getter.
type CollectionData struct {
	NextItemIndex uint64
	Content       []byte
	Owner         *address.Address
}

// RoyaltyReport formats the answer to GetRoyaltyParams:
// op:uint32 query_id:uint64 factor:uint16 base:uint16 address:MsgAddress.
func RoyaltyReport(queryID uint64, r RoyaltyParams) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpReportRoyaltyParams), 32).
		MustStoreUInt(queryID, 64)

	return r.store(b).EndCell()
}

// ParseRoyaltyReport decodes a RoyaltyReport body, returning its query id and params.
func ParseRoyaltyReport(body *cell.Cell) (uint64, RoyaltyParams, error) {
	s := body.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return 0, RoyaltyParams{}, fmt.Errorf("load opcode: %w", err)
	}

	if uint32(op) != OpReportRoyaltyParams {
		return 0, RoyaltyParams{}, fmt.Errorf("unexpected opcode 0x%08x", op)
	}

	queryID, err := s.LoadUInt(64)
	if err != nil {
		return 0, RoyaltyParams{}, fmt.Errorf("load query id: %w", err)
	}

	r, err := loadRoyalty(s)
	if err != nil {
		return 0, RoyaltyParams{}, err
	}

	return queryID, r, nil
}

// NftContent concatenates the common content with an item's individual content.
func NftContent(common, individual []byte) []byte {
	out := make([]byte, 0, len(common)+len(individual))
	out = append(out, common...)

	return append(out, individual...)
}

// CollectionData returns the get_collection_data view of st.
func (s State) CollectionData() CollectionData {
	return CollectionData{
		NextItemIndex: s.NextItemIndex,
		Content:       clone(s.CollectionContent),
		Owner:         s.Owner,
	}
}

// NftContent returns the full content of an item. The index is accepted for
// interface parity with the on-chain getter; content does not depend on it.
func (s State) NftContent(_ uint64, individual []byte) []byte {
	return NftContent(s.CommonContent, individual)
}

// NftAddressByIndex derives the address of item index, whether deployed or not.
func (s State) NftAddressByIndex(self *address.Address, index uint64) (*address.Address, error) {
	init, err := BuildItem(s.ItemCode, self, index)
	if err != nil {
		return nil, err
	}

	return init.Address, nil
}

// RoyaltyParams returns the stored royalty params.
func (s State) RoyaltyParams() RoyaltyParams {
	return s.Royalty
}
