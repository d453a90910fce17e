// Package stateinit derives contract addresses from their (code, data) pair.
//
// An address is the representation hash of the canonical StateInit cell,
// so anyone holding the code and initial data can predict where a contract
// lives before it is ever deployed.
package stateinit

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// BaseWorkchain is the workchain every contract in the ledger lives on.
	BaseWorkchain int8 = 0

	// KeySize is the size of an address key: one workchain byte and a 32-byte hash.
	KeySize = 33
)

var (
	// ErrMissingCode is returned when a StateInit has no code cell.
	ErrMissingCode = errors.New("state init: missing code")

	// ErrMissingData is returned when a StateInit has no data cell.
	ErrMissingData = errors.New("state init: missing data")
)

// StateInit is the immutable program and initial storage of a contract.
type StateInit struct {
	Code *cell.Cell // Code is the contract program
	Data *cell.Cell // Data is the initial persistent storage
}

// Cell serializes the StateInit in canonical form:
// split_depth:nothing special:nothing code:just^ data:just^ library:empty.
func (s StateInit) Cell() (*cell.Cell, error) {
	if s.Code == nil {
		return nil, ErrMissingCode
	}

	if s.Data == nil {
		return nil, ErrMissingData
	}

	return cell.BeginCell().
		MustStoreBoolBit(false).
		MustStoreBoolBit(false).
		MustStoreBoolBit(true).
		MustStoreBoolBit(true).
		MustStoreBoolBit(false).
		MustStoreRef(s.Code).
		MustStoreRef(s.Data).
		EndCell(), nil
}

// Address derives the address of the contract on the given workchain.
func (s StateInit) Address(workchain int8) (*address.Address, error) {
	c, err := s.Cell()
	if err != nil {
		return nil, err
	}

	return address.NewAddress(0, byte(workchain), c.Hash()), nil
}

// Derive computes the address for (code, data) on workchain.
func Derive(code, data *cell.Cell, workchain int8) (*address.Address, error) {
	return StateInit{Code: code, Data: data}.Address(workchain)
}

// FromCell decodes a canonical StateInit cell produced by Cell.
func FromCell(c *cell.Cell) (StateInit, error) {
	s := c.BeginParse()

	prefix, err := s.LoadUInt(5)
	if err != nil {
		return StateInit{}, fmt.Errorf("load state init prefix: %w", err)
	}

	if prefix != 0b00110 {
		return StateInit{}, fmt.Errorf("unsupported state init layout %05b", prefix)
	}

	code, err := s.LoadRefCell()
	if err != nil {
		return StateInit{}, fmt.Errorf("load code: %w", err)
	}

	data, err := s.LoadRefCell()
	if err != nil {
		return StateInit{}, fmt.Errorf("load data: %w", err)
	}

	return StateInit{Code: code, Data: data}, nil
}

// Equal reports whether two addresses denote the same account.
// Two nil addresses are equal; a nil and a non-nil address are not.
func Equal(a, b *address.Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

// IsStd reports whether a is a standard 256-bit account address.
func IsStd(a *address.Address) bool {
	return a != nil && len(a.Data()) == 32
}

// Key returns the fixed-size storage key of a standard address.
func Key(a *address.Address) ([KeySize]byte, error) {
	var k [KeySize]byte

	if !IsStd(a) {
		return k, fmt.Errorf("not a standard address")
	}

	k[0] = byte(int8(a.Workchain()))
	copy(k[1:], a.Data())

	return k, nil
}

// FromKey rebuilds an address from its storage key.
func FromKey(k [KeySize]byte) *address.Address {
	data := make([]byte, 32)
	copy(data, k[1:])

	return address.NewAddress(0, k[0], data)
}

// Raw formats an address as "workchain:hex", the form used in logs and the API.
func Raw(a *address.Address) string {
	if !IsStd(a) {
		return "none"
	}

	return fmt.Sprintf("%d:%x", a.Workchain(), a.Data())
}

// Parse accepts either the raw "workchain:hex" form or a user-friendly base64 address.
func Parse(s string) (*address.Address, error) {
	wc, hash, ok := strings.Cut(s, ":")
	if !ok {
		return address.ParseAddr(s)
	}

	w, err := strconv.ParseInt(wc, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("parse workchain %q: %w", wc, err)
	}

	data, err := hex.DecodeString(hash)
	if err != nil || len(data) != 32 {
		return nil, fmt.Errorf("parse address hash %q: want 32 hex bytes", hash)
	}

	return address.NewAddress(0, byte(int8(w)), data), nil
}
