// Package host defines the narrow contract the exchange program needs from
// its host runtime: mutable account buffers, and the two callbacks used to
// stage a Bitcoin transaction for the host to sign and broadcast. The
// program itself never touches a real host; cmd/hostsim and every handler
// test drive it through the FakeHost double in this package instead.
package host

import (
	"errors"
	"fmt"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// ErrDataLengthLimit is returned by Account.Realloc when a requested growth
// would exceed state.MaxPermittedDataLength.
var ErrDataLengthLimit = errors.New("host: account data length limit exceeded")

// ErrGrowthStepLimit is returned by Account.Realloc when a single growth
// step would exceed state.MaxPermittedDataIncrease.
var ErrGrowthStepLimit = errors.New("host: single realloc step exceeds the permitted increase")

// Account is a mutable view over one account's raw buffer, plus the
// metadata every handler needs to validate it: who owns it, whether the
// caller signed for it, and whether the runtime will let the program
// rewrite it.
type Account struct {
	Key         state.Pubkey
	Owner       state.Pubkey
	IsSigner    bool
	IsWritable  bool
	OriginalLen int
	UTXO        string // "txid:vout" backing this account, if any

	data []byte
}

// NewAccount wraps data for use by the exchange program. OriginalLen is
// captured from len(data) at construction, matching how a real host reports
// the pre-instruction length for rent/growth accounting.
func NewAccount(key, owner state.Pubkey, signer, writable bool, data []byte) *Account {
	return &Account{
		Key:         key,
		Owner:       owner,
		IsSigner:    signer,
		IsWritable:  writable,
		OriginalLen: len(data),
		data:        data,
	}
}

// Data returns the account's current backing buffer. Callers must not
// retain it past a Realloc, which may replace the underlying array.
func (a *Account) Data() []byte {
	return a.data
}

// SetData overwrites the account's buffer in place, growing it first via
// Realloc if needed. It never shrinks the buffer; unused trailing bytes are
// left as-is, matching the host runtime's append-only account growth model.
func (a *Account) SetData(encoded []byte) error {
	if len(encoded) > len(a.data) {
		if err := a.Realloc(len(encoded), false); err != nil {
			return err
		}
	}
	copy(a.data, encoded)
	return nil
}

// Realloc grows the account's buffer to newLen, failing if the growth step
// or the resulting length exceeds the runtime's limits. zeroInit matches the
// host runtime's Realloc signature; new bytes are always zeroed here since
// Go slices start zeroed.
func (a *Account) Realloc(newLen int, zeroInit bool) error {
	if newLen <= len(a.data) {
		return nil
	}
	if newLen > state.MaxPermittedDataLength {
		return fmt.Errorf("%w: requested %d, limit %d", ErrDataLengthLimit, newLen, state.MaxPermittedDataLength)
	}
	if newLen-a.OriginalLen > state.MaxPermittedDataIncrease {
		return fmt.Errorf("%w: original %d, requested %d, step limit %d", ErrGrowthStepLimit, a.OriginalLen, newLen, state.MaxPermittedDataIncrease)
	}
	grown := make([]byte, newLen)
	copy(grown, a.data)
	a.data = grown
	return nil
}

// InputToSign identifies one input of a staged transaction the host must
// collect a signature for, and the account whose key must sign it.
type InputToSign struct {
	Index  int
	Signer state.Pubkey
}

// Host is the subset of the Arch/Solana-like runtime the program calls out
// to when assembling a withdrawal's Bitcoin transaction.
type Host interface {
	// GetStateTransitionTx returns the in-progress transaction template the
	// host has accumulated for this instruction, covering the
	// state-transition inputs/outputs the host itself manages.
	GetStateTransitionTx(accounts []*Account) ([]byte, error)

	// SetTransactionToSign hands the host the fully assembled transaction
	// bytes and the list of inputs the program needs signed, for the host
	// to route to the appropriate signer(s) and broadcast once signed.
	SetTransactionToSign(accounts []*Account, txBytes []byte, inputsToSign []InputToSign) error

	// GetAccountScriptPubkey returns the scriptPubkey backing the given
	// account's UTXO. No handler in this module calls it.
	GetAccountScriptPubkey(key state.Pubkey) ([]byte, error)
}
