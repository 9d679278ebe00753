package host

import (
	"fmt"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// FakeHost is an in-memory Host double used by the exchange package's unit
// and scenario tests. It records every staged transaction so a test can
// assert on the inputs-to-sign and output list the processor produced.
type FakeHost struct {
	StateTransitionTx []byte
	Scriptpubkeys     map[state.Pubkey][]byte

	StagedTx           []byte
	StagedInputsToSign []InputToSign
	StagedAccounts     []*Account
}

// NewFakeHost returns a FakeHost with an empty scriptPubkey table.
func NewFakeHost() *FakeHost {
	return &FakeHost{Scriptpubkeys: make(map[state.Pubkey][]byte)}
}

func (h *FakeHost) GetStateTransitionTx(accounts []*Account) ([]byte, error) {
	return h.StateTransitionTx, nil
}

func (h *FakeHost) SetTransactionToSign(accounts []*Account, txBytes []byte, inputsToSign []InputToSign) error {
	h.StagedTx = txBytes
	h.StagedInputsToSign = inputsToSign
	h.StagedAccounts = accounts
	return nil
}

func (h *FakeHost) GetAccountScriptPubkey(key state.Pubkey) ([]byte, error) {
	spk, ok := h.Scriptpubkeys[key]
	if !ok {
		return nil, fmt.Errorf("fakehost: no scriptPubkey registered for %x", key)
	}
	return spk, nil
}
