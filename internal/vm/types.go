package vm

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
)

// Exit codes shared by every contract. Contract-specific codes live with the contract.
const (
	// ExitOK is the exit code of a successful compute phase.
	ExitOK int32 = 0

	// ExitRangeCheck is raised when an integer leaves its range.
	ExitRangeCheck int32 = 5

	// ExitCellUnderflow is raised when a message body is shorter than its layout.
	ExitCellUnderflow int32 = 9

	// ExitInvalidAction is raised when an outbound message cannot be delivered.
	ExitInvalidAction int32 = 34

	// ExitNotEnoughBalance is raised when outbound values exceed the account balance.
	ExitNotEnoughBalance int32 = 37

	// ExitUnknownOp is raised for unrecognized opcodes.
	ExitUnknownOp int32 = 0xffff
)

// Env describes the account a handler runs on.
type Env struct {
	Self    *address.Address // Self is the address of the executing contract
	Balance uint64           // Balance is the account balance after crediting the inbound value
}

// Inbound is the message a handler receives.
type Inbound struct {
	Sender   *address.Address // Sender is nil for external messages
	Value    uint64           // Value is the attached amount in nano units
	Body     *cell.Cell       // Body may be nil or empty
	External bool             // External marks a message from outside the ledger
}

// Outbound is a message a handler asks the ledger to deliver.
type Outbound struct {
	To    *address.Address     // To is the destination account
	Value uint64               // Value is taken from the sender's balance
	Body  *cell.Cell           // Body is the message payload
	Init  *stateinit.StateInit // Init deploys the destination if it does not exist yet
}

// Outcome is the result of a successful compute phase.
type Outcome struct {
	Data *cell.Cell // Data is the new persistent storage
	Out  []Outbound // Out are the outbound messages, in order
}

// Handler executes messages for every contract sharing one code cell.
// Receive must not retain data or in; returning an error discards the outcome.
type Handler interface {
	Receive(env Env, data *cell.Cell, in Inbound) (*Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(env Env, data *cell.Cell, in Inbound) (*Outcome, error)

// Receive calls f.
func (f HandlerFunc) Receive(env Env, data *cell.Cell, in Inbound) (*Outcome, error) {
	return f(env, data, in)
}

// ExitError is a contract-level failure carrying its exit code.
type ExitError struct {
	Code   int32  // Code is the non-zero exit code
	Reason string // Reason is a short description for logs
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d: %s", e.Code, e.Reason)
}

// Is matches another *ExitError with the same code.
func (e *ExitError) Is(target error) bool {
	t, ok := target.(*ExitError)
	return ok && t.Code == e.Code
}

// Exit returns an *ExitError with the given code.
func Exit(code int32, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ExitCode extracts the exit code of err. ok is false for non-contract errors.
func ExitCode(err error) (code int32, ok bool) {
	if err == nil {
		return ExitOK, true
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code, true
	}

	return 0, false
}

// IsEmpty reports whether a body carries no bits and no refs.
func IsEmpty(body *cell.Cell) bool {
	return body == nil || (body.BitsSize() == 0 && body.RefsNum() == 0)
}
