// Package balance implements the checked increment/decrement operations the
// exchange program applies to a Token account's balances vector. Every
// operation here is a soft failure: it never returns a ProgramError, only a
// typed *Error the caller turns into a state.Event and a skipped row.
package balance

import (
	"fmt"
	"math"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// Error is a soft, per-row balance failure: insufficient funds or an
// overflow that would otherwise wrap a balance silently.
type Error struct {
	Code    uint32
	Balance uint64
}

func (e *Error) Error() string {
	return fmt.Sprintf("balance: error %d (balance %d)", e.Code, e.Balance)
}

// Increment adds amount to the balance at idx, failing on overflow rather
// than wrapping around uint64.
func Increment(ts *state.TokenState, idx int, amount uint64) error {
	if idx < 0 || idx >= len(ts.Balances) {
		return &Error{Code: state.ErrorCodeInvalidAddress}
	}
	cur := ts.Balances[idx].Amount
	if amount > math.MaxUint64-cur {
		return &Error{Code: state.ErrorCodeOverflow, Balance: cur}
	}
	ts.Balances[idx].Amount = cur + amount
	return nil
}

// Decrement subtracts amount from the balance at idx, failing with
// ErrorCodeInsufficientBalance if the balance would go negative.
func Decrement(ts *state.TokenState, idx int, amount uint64) error {
	if idx < 0 || idx >= len(ts.Balances) {
		return &Error{Code: state.ErrorCodeInvalidAddress}
	}
	cur := ts.Balances[idx].Amount
	if cur < amount {
		return &Error{Code: state.ErrorCodeInsufficientBalance, Balance: cur}
	}
	ts.Balances[idx].Amount = cur - amount
	return nil
}

// WouldDecrement reports whether Decrement(ts, idx, amount) would succeed,
// without mutating the balance. Used by a Prepare phase to validate a batch
// before arming its commit lock.
func WouldDecrement(ts *state.TokenState, idx int, amount uint64) error {
	if idx < 0 || idx >= len(ts.Balances) {
		return &Error{Code: state.ErrorCodeInvalidAddress}
	}
	cur := ts.Balances[idx].Amount
	if cur < amount {
		return &Error{Code: state.ErrorCodeInsufficientBalance, Balance: cur}
	}
	return nil
}

// At returns the current balance at idx, or 0 if idx is out of range.
func At(ts *state.TokenState, idx int) uint64 {
	if idx < 0 || idx >= len(ts.Balances) {
		return 0
	}
	return ts.Balances[idx].Amount
}
