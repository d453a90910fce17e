package item

import (
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

const (
	// OpTransfer moves an item to a new owner.
	OpTransfer uint32 = 0x5fcc3d14

	// OpOwnershipAssigned notifies the new owner when a forward amount is attached.
	OpOwnershipAssigned uint32 = 0x05138d91

	// OpExcesses returns the unspent value to the response destination.
	OpExcesses uint32 = 0xd53276db

	// ExitNotOwner is raised when anyone but the owner asks for a transfer.
	ExitNotOwner int32 = 401

	// ExitBadOwner is raised when the new owner is not a standard address.
	ExitBadOwner int32 = 136
)

// Transfer is the decoded body of an OpTransfer message.
type Transfer struct {
	QueryID        uint64
	NewOwner       *address.Address
	Response       *address.Address // Response receives the excess value, nil for none
	ForwardAmount  uint64
	ForwardPayload *cell.Cell
}

// TransferBody builds op query_id new_owner response_destination
// custom_payload:(Maybe ^Cell) forward_amount:Coins forward_payload:(Either Cell ^Cell).
// The forward payload always travels as a reference.
func TransferBody(t Transfer) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpTransfer), 32).
		MustStoreUInt(t.QueryID, 64).
		MustStoreAddr(t.NewOwner).
		MustStoreAddr(t.Response).
		MustStoreMaybeRef(nil).
		MustStoreCoins(t.ForwardAmount)

	if t.ForwardPayload == nil {
		return b.MustStoreBoolBit(false).EndCell()
	}

	return b.MustStoreBoolBit(true).MustStoreRef(t.ForwardPayload).EndCell()
}

// loadTransfer reads an OpTransfer body after its opcode and query id.
func loadTransfer(queryID uint64, s *cell.Slice) (Transfer, error) {
	t := Transfer{QueryID: queryID}

	var err error
	if t.NewOwner, err = s.LoadAddr(); err != nil {
		return t, fmt.Errorf("new owner: %w", err)
	}

	if t.Response, err = s.LoadAddr(); err != nil {
		return t, fmt.Errorf("response destination: %w", err)
	}

	if t.Response.IsAddrNone() {
		t.Response = nil
	}

	// custom payload is accepted and ignored
	if _, err = s.LoadMaybeRef(); err != nil {
		return t, fmt.Errorf("custom payload: %w", err)
	}

	if t.ForwardAmount, err = s.LoadCoins(); err != nil {
		return t, fmt.Errorf("forward amount: %w", err)
	}

	// a body cut before the Either bit carries an empty payload
	if s.BitsLeft() == 0 && s.RefsNum() == 0 {
		return t, nil
	}

	inRef, err := s.LoadBoolBit()
	if err != nil {
		return t, fmt.Errorf("forward payload: %w", err)
	}

	if inRef {
		ref, err := s.LoadRefCell()
		if err != nil {
			return t, fmt.Errorf("forward payload: %w", err)
		}
		t.ForwardPayload = ref
		return t, nil
	}

	if t.ForwardPayload, err = s.ToCell(); err != nil {
		return t, fmt.Errorf("forward payload: %w", err)
	}

	return t, nil
}

// transfer changes the owner of an initialized item. The inbound value pays
// the forward amount and the rest goes back to the response destination.
func transfer(d Data, queryID uint64, s *cell.Slice, in vm.Inbound) (*vm.Outcome, error) {
	if !stateinit.Equal(in.Sender, d.Owner) {
		return nil, vm.Exit(ExitNotOwner, "transfer from %s, owner is %s", stateinit.Raw(in.Sender), stateinit.Raw(d.Owner))
	}

	t, err := loadTransfer(queryID, s)
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "transfer body: %v", err)
	}

	if !stateinit.IsStd(t.NewOwner) {
		return nil, vm.Exit(ExitBadOwner, "new owner is not a standard address")
	}

	if t.Response != nil && !stateinit.IsStd(t.Response) {
		return nil, vm.Exit(ExitBadOwner, "response destination is not a standard address")
	}

	if t.ForwardAmount > in.Value {
		return nil, vm.Exit(vm.ExitNotEnoughBalance, "forward amount %d exceeds attached %d", t.ForwardAmount, in.Value)
	}

	prev := d.Owner
	d.Owner = t.NewOwner

	var out []vm.Outbound

	if t.ForwardAmount > 0 {
		out = append(out, vm.Outbound{
			To:    t.NewOwner,
			Value: t.ForwardAmount,
			Body:  OwnershipAssignedBody(queryID, prev, t.ForwardPayload),
		})
	}

	if rest := in.Value - t.ForwardAmount; t.Response != nil && rest > 0 {
		out = append(out, vm.Outbound{
			To:    t.Response,
			Value: rest,
			Body:  cell.BeginCell().MustStoreUInt(uint64(OpExcesses), 32).MustStoreUInt(queryID, 64).EndCell(),
		})
	}

	return &vm.Outcome{Data: d.Cell(), Out: out}, nil
}

// OwnershipAssignedBody formats op query_id prev_owner forward_payload:(Either Cell ^Cell).
func OwnershipAssignedBody(queryID uint64, prevOwner *address.Address, payload *cell.Cell) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpOwnershipAssigned), 32).
		MustStoreUInt(queryID, 64).
		MustStoreAddr(prevOwner)

	if payload == nil {
		return b.MustStoreBoolBit(false).EndCell()
	}

	return b.MustStoreBoolBit(true).MustStoreRef(payload).EndCell()
}
