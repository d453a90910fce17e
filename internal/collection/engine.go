package collection

import (
	"math"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

// Apply processes one inbound message against st and returns the next state and
// the outbound messages to deliver. On error the returned state is st itself and
// no messages are produced; the error is a *vm.ExitError.
func Apply(st State, self *address.Address, in vm.Inbound) (State, []vm.Outbound, error) {
	if in.External {
		return st, nil, vm.Exit(vm.ExitUnknownOp, "collection accepts no external messages")
	}

	// plain transfers top up the balance
	if vm.IsEmpty(in.Body) {
		return st, nil, nil
	}

	msg, err := Decode(in.Body)
	if err != nil {
		return st, nil, err
	}

	if err := authorize(st, in.Sender, msg); err != nil {
		return st, nil, err
	}

	next, out, err := transition(st, self, in, msg)
	if err != nil {
		return st, nil, err
	}

	return next, out, nil
}

// authorize is the single access rule: privileged messages come from the owner.
func authorize(st State, sender *address.Address, msg Message) error {
	if !msg.privileged() || st.isOwner(sender) {
		return nil
	}

	return vm.Exit(ExitAccessDenied, "op 0x%x from %s: sender is not the owner", msg.Op(), stateinit.Raw(sender))
}

// transition dispatches an authorized message to its state transition.
func transition(st State, self *address.Address, in vm.Inbound, msg Message) (State, []vm.Outbound, error) {
	switch m := msg.(type) {
	case Mint:
		return applyMint(st, self, []ItemSpec{m.Item})

	case BatchMint:
		if len(m.Items) > MaxBatchSize {
			return st, nil, vm.Exit(ExitBatchTooLarge, "batch of more than %d items", MaxBatchSize)
		}
		return applyMint(st, self, m.Items)

	case ChangeOwner:
		next := st
		next.Owner = m.NewOwner
		return next, nil, nil

	case EditContent:
		if err := m.Royalty.Validate(); err != nil {
			return st, nil, vm.Exit(ExitInvalidRoyalty, "%v", err)
		}

		next := st
		next.CollectionContent = clone(m.CollectionContent)
		next.CommonContent = clone(m.CommonContent)
		next.Royalty = m.Royalty
		return next, nil, nil

	case GetRoyaltyParams:
		report := vm.Outbound{
			To:    in.Sender,
			Value: in.Value,
			Body:  RoyaltyReport(m.QueryID, st.Royalty),
		}
		return st, []vm.Outbound{report}, nil

	default:
		return st, nil, vm.Exit(vm.ExitUnknownOp, "unhandled opcode 0x%x", msg.Op())
	}
}

// applyMint deploys items in order. Each index must equal the running next index,
// so indexes are assigned exactly once and never skipped.
func applyMint(st State, self *address.Address, items []ItemSpec) (State, []vm.Outbound, error) {
	next := st
	out := make([]vm.Outbound, 0, len(items))

	for _, item := range items {
		if item.Index != next.NextItemIndex {
			return st, nil, vm.Exit(ExitIndexOutOfRange, "item index %d, next index is %d", item.Index, next.NextItemIndex)
		}

		// the counter would wrap and reuse index 0
		if next.NextItemIndex == math.MaxUint64 {
			return st, nil, vm.Exit(vm.ExitRangeCheck, "next item index is exhausted")
		}

		msg, err := deployMessage(st.ItemCode, self, item)
		if err != nil {
			return st, nil, err
		}

		out = append(out, msg)
		next.NextItemIndex++
	}

	return next, out, nil
}

// deployMessage builds the message that deploys and initializes one item.
func deployMessage(itemCode *cell.Cell, self *address.Address, item ItemSpec) (vm.Outbound, error) {
	init, err := BuildItem(itemCode, self, item.Index)
	if err != nil {
		return vm.Outbound{}, err
	}

	return vm.Outbound{
		To:    init.Address,
		Value: item.Amount,
		Body:  itemBody(item.Owner, item.Content),
		Init:  &init.StateInit,
	}, nil
}
