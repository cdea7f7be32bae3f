package escrow

import "errors"

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

// Transition preconditions.
var (
	ErrTaskNotOpen      = Err("task is not open for claiming")
	ErrTaskNotClaimed   = Err("task has not been claimed")
	ErrNotAssignedAgent = Err("you are not the assigned agent")
	ErrWorkNotSubmitted = Err("work has not been submitted")
	ErrCannotCancel     = Err("task cannot be cancelled in current state")
)

var (
	ErrUnauthorized      = Err("signer is not authorized")
	ErrTaskNotFound      = Err("task not found")
	ErrAccountNotFound   = Err("account not found")
	ErrAccountInUse      = Err("account already in use")
	ErrInsufficientFunds = Err("insufficient funds")
	ErrOwnerMismatch     = Err("account owner does not match authority")
	ErrAmountOverflow    = Err("amount overflow")
	ErrNonZeroBalance    = Err("cannot close account with non-zero balance")
	ErrInvalidSeeds      = Err("invalid seeds")
	ErrOnCurve           = Err("derived address lies on the ed25519 curve")
	ErrInvalidLayout     = Err("invalid account data layout")
	ErrInvalidRecord     = Err("escrow record violates field invariants")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrTaskNotOpen, "TaskNotOpen"},
	{ErrTaskNotClaimed, "TaskNotClaimed"},
	{ErrNotAssignedAgent, "NotAssignedAgent"},
	{ErrWorkNotSubmitted, "WorkNotSubmitted"},
	{ErrCannotCancel, "CannotCancel"},
	{ErrOwnerMismatch, "OwnerMismatch"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrTaskNotFound, "TaskNotFound"},
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrAccountInUse, "AccountInUse"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrNonZeroBalance, "NonZeroBalance"},
	{ErrInvalidSeeds, "InvalidSeeds"},
	{ErrOnCurve, "InvalidSeeds"},
	{ErrInvalidLayout, "InvalidLayout"},
	{ErrInvalidRecord, "InvalidRecord"},
}

// ErrorCode maps an error returned by this package to a stable machine-readable
// code. It returns "" for nil and "Internal" for anything it does not recognise.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
