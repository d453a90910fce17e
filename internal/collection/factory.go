package collection

import (
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
)

// ItemInit is everything needed to deploy an item: where it lives and what it starts with.
type ItemInit struct {
	Address   *address.Address
	StateInit stateinit.StateInit
}

// ItemData encodes an item's initial data: index:uint64 collection:MsgAddress.
func ItemData(collection *address.Address, index uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(index, 64).
		MustStoreAddr(collection).
		EndCell()
}

// BuildItem derives the init payload of item index of collection.
// It depends only on its inputs, so any caller holding itemCode can verify placement.
func BuildItem(itemCode *cell.Cell, collection *address.Address, index uint64) (ItemInit, error) {
	init := stateinit.StateInit{
		Code: itemCode,
		Data: ItemData(collection, index),
	}

	addr, err := init.Address(stateinit.BaseWorkchain)
	if err != nil {
		return ItemInit{}, fmt.Errorf("derive item %d address:\n%w", index, err)
	}

	return ItemInit{Address: addr, StateInit: init}, nil
}
