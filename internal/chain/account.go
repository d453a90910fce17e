package chain

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/types"
)

// Storage key prefixes.
var (
	prefixAccount = []byte("a:")
	prefixTx      = []byte("t:")
	keyLT         = []byte("m:lt")
)

// Account is a deployed contract.
type Account struct {
	Address *address.Address
	Code    *cell.Cell
	Data    *cell.Cell
	Balance uint64
	LastLT  uint64 // LastLT is the logical time of the last transaction on the account
}

// accountKey returns the storage key of addr.
func accountKey(addr *address.Address) ([]byte, error) {
	k, err := stateinit.Key(addr)
	if err != nil {
		return nil, err
	}

	return append(append([]byte{}, prefixAccount...), k[:]...), nil
}

// encodeAccount serializes an account as a types.Account flatbuffer.
func encodeAccount(a *Account) []byte {
	builder := flatbuffers.NewBuilder(512)

	k, _ := stateinit.Key(a.Address)
	addrVec := builder.CreateByteVector(k[:])
	codeVec := builder.CreateByteVector(a.Code.ToBOC())
	dataVec := builder.CreateByteVector(a.Data.ToBOC())

	types.AccountStart(builder)
	types.AccountAddAddress(builder, addrVec)
	types.AccountAddCode(builder, codeVec)
	types.AccountAddData(builder, dataVec)
	types.AccountAddBalance(builder, a.Balance)
	types.AccountAddLastLt(builder, a.LastLT)
	builder.Finish(types.AccountEnd(builder))

	return builder.FinishedBytes()
}

// decodeAccount parses a types.Account flatbuffer.
func decodeAccount(buf []byte) (*Account, error) {
	fb := types.GetRootAsAccount(buf, 0)

	raw := fb.AddressBytes()
	if len(raw) != stateinit.KeySize {
		return nil, fmt.Errorf("invalid account key length %d", len(raw))
	}

	var k [stateinit.KeySize]byte
	copy(k[:], raw)

	code, err := cell.FromBOC(fb.CodeBytes())
	if err != nil {
		return nil, fmt.Errorf("decode code:\n%w", err)
	}

	data, err := cell.FromBOC(fb.DataBytes())
	if err != nil {
		return nil, fmt.Errorf("decode data:\n%w", err)
	}

	return &Account{
		Address: stateinit.FromKey(k),
		Code:    code,
		Data:    data,
		Balance: fb.Balance(),
		LastLT:  fb.LastLt(),
	}, nil
}
