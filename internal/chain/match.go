package chain

import (
	"github.com/xssnick/tonutils-go/address"

	"NFTForge/internal/stateinit"
)

// Match selects transactions by their observable fields. Nil fields match anything.
type Match struct {
	From     *address.Address
	To       *address.Address
	Op       *uint32
	Deploy   *bool
	Success  *bool
	Aborted  *bool
	ExitCode *int32
}

// Bool returns a pointer to v, for Match fields.
func Bool(v bool) *bool { return &v }

// Code returns a pointer to v, for Match.ExitCode.
func Code(v int32) *int32 { return &v }

// Op returns a pointer to v, for Match.Op.
func Op(v uint32) *uint32 { return &v }

// Matches reports whether tx satisfies every set field of m.
func (m Match) Matches(tx *Transaction) bool {
	if m.From != nil && !stateinit.Equal(m.From, tx.From) {
		return false
	}

	if m.To != nil && !stateinit.Equal(m.To, tx.To) {
		return false
	}

	if m.Op != nil {
		op, ok := tx.Op()
		if !ok || op != *m.Op {
			return false
		}
	}

	if m.Deploy != nil && *m.Deploy != tx.Deploy {
		return false
	}

	if m.Success != nil && *m.Success != tx.Success {
		return false
	}

	if m.Aborted != nil && *m.Aborted != tx.Aborted {
		return false
	}

	if m.ExitCode != nil && *m.ExitCode != tx.ExitCode {
		return false
	}

	return true
}

// FindTransaction returns the first transaction matching m.
func FindTransaction(txs []*Transaction, m Match) (*Transaction, bool) {
	for _, tx := range txs {
		if m.Matches(tx) {
			return tx, true
		}
	}

	return nil, false
}

// HasTransaction reports whether any transaction matches m.
func HasTransaction(txs []*Transaction, m Match) bool {
	_, ok := FindTransaction(txs, m)
	return ok
}

// CountTransactions returns how many transactions match m.
func CountTransactions(txs []*Transaction, m Match) int {
	n := 0
	for _, tx := range txs {
		if m.Matches(tx) {
			n++
		}
	}

	return n
}
