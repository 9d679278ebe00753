package host

import (
	"errors"
	"testing"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

func TestAccount_SetData_GrowsBuffer(t *testing.T) {
	a := NewAccount(state.Pubkey{1}, state.Pubkey{2}, true, true, make([]byte, 4))
	if err := a.SetData([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	if len(a.Data()) != 6 {
		t.Fatalf("Data() len = %d, want 6", len(a.Data()))
	}
	if a.Data()[5] != 6 {
		t.Errorf("Data()[5] = %d, want 6", a.Data()[5])
	}
}

func TestAccount_SetData_NoShrink(t *testing.T) {
	a := NewAccount(state.Pubkey{1}, state.Pubkey{2}, true, true, make([]byte, 10))
	if err := a.SetData([]byte{9, 9, 9}); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	if len(a.Data()) != 10 {
		t.Errorf("Data() len = %d, want 10 (no shrink)", len(a.Data()))
	}
}

func TestAccount_Realloc_StepLimit(t *testing.T) {
	a := NewAccount(state.Pubkey{}, state.Pubkey{}, true, true, make([]byte, 0))
	err := a.Realloc(state.MaxPermittedDataIncrease+1, false)
	if !errors.Is(err, ErrGrowthStepLimit) {
		t.Errorf("Realloc() error = %v, want ErrGrowthStepLimit", err)
	}
}

func TestAccount_Realloc_DataLengthLimit(t *testing.T) {
	a := NewAccount(state.Pubkey{}, state.Pubkey{}, true, true, make([]byte, 0))
	a.OriginalLen = state.MaxPermittedDataLength
	err := a.Realloc(state.MaxPermittedDataLength+1, false)
	if !errors.Is(err, ErrDataLengthLimit) {
		t.Errorf("Realloc() error = %v, want ErrDataLengthLimit", err)
	}
}

func TestAccount_Realloc_NoOpWhenAlreadyLargeEnough(t *testing.T) {
	a := NewAccount(state.Pubkey{}, state.Pubkey{}, true, true, make([]byte, 100))
	if err := a.Realloc(10, false); err != nil {
		t.Fatalf("Realloc() error = %v", err)
	}
	if len(a.Data()) != 100 {
		t.Errorf("Realloc() to a smaller size should be a no-op, len = %d", len(a.Data()))
	}
}

func TestFakeHost_StagesTransaction(t *testing.T) {
	h := NewFakeHost()
	accounts := []*Account{NewAccount(state.Pubkey{1}, state.Pubkey{2}, true, true, nil)}
	inputs := []InputToSign{{Index: 0, Signer: state.Pubkey{1}}}
	if err := h.SetTransactionToSign(accounts, []byte{0xAB}, inputs); err != nil {
		t.Fatalf("SetTransactionToSign() error = %v", err)
	}
	if len(h.StagedInputsToSign) != 1 || h.StagedInputsToSign[0].Index != 0 {
		t.Errorf("StagedInputsToSign = %+v", h.StagedInputsToSign)
	}
	if len(h.StagedTx) != 1 || h.StagedTx[0] != 0xAB {
		t.Errorf("StagedTx = %v", h.StagedTx)
	}
}
