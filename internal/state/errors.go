package state

import (
	"errors"
	"fmt"
)

// ProgramError is a fatal, host-visible failure code. Returning one from a
// handler discards every account mutation the handler made: the host never
// persists a partially-applied instruction.
type ProgramError uint32

func (e ProgramError) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("%s (%d)", name, uint32(e))
	}
	return fmt.Sprintf("program error %d", uint32(e))
}

// Is lets errors.Is match a ProgramError against itself by code, so callers
// can write errors.Is(err, state.ErrInvalidSigner) instead of comparing codes.
func (e ProgramError) Is(target error) bool {
	var other ProgramError
	if errors.As(target, &other) {
		return e == other
	}
	return false
}

// Fatal error codes, per the program-to-host contract. The Rust source this
// program was modeled on numbered ERROR_VALUE_TOO_LONG and
// ERROR_INVALID_SIGNER both 613; that collision is resolved here by giving
// ERROR_VALUE_TOO_LARGE its own code, 614, rather than reusing 613 for two
// unrelated conditions.
const (
	ErrMissingAccount         ProgramError = 601
	ErrWrongAccountTypeCode   ProgramError = 602
	ErrNotWritable            ProgramError = 603
	ErrWrongOwner             ProgramError = 604
	ErrInvalidIndex           ProgramError = 605
	ErrWalletLast4Mismatch    ProgramError = 606
	ErrSettlementInProgress   ProgramError = 607
	ErrSettlementBatchMismatch ProgramError = 608
	ErrWithdrawalInProgress   ProgramError = 609
	ErrWithdrawalBatchMismatch ProgramError = 610
	ErrInvalidInputTx         ProgramError = 611
	ErrInvalidUTXOTypes       ProgramError = 612
	ErrInvalidSigner          ProgramError = 613
	ErrValueTooLarge          ProgramError = 614
	ErrNoRuneReceiver         ProgramError = 615
	ErrNoTxOutputs            ProgramError = 616
	ErrInvalidAddressNetwork  ProgramError = 617
	ErrDeserialize            ProgramError = 618
	ErrAlreadyInitialized     ProgramError = 619
	ErrNetting                ProgramError = 620
	ErrAddressMismatch        ProgramError = 621
)

var errorNames = map[ProgramError]string{
	ErrMissingAccount:          "ERROR_MISSING_ACCOUNT",
	ErrWrongAccountTypeCode:    "ERROR_WRONG_ACCOUNT_TYPE",
	ErrNotWritable:             "ERROR_NOT_WRITABLE",
	ErrWrongOwner:              "ERROR_WRONG_OWNER",
	ErrInvalidIndex:            "ERROR_INVALID_INDEX",
	ErrWalletLast4Mismatch:     "ERROR_WALLET_LAST4_MISMATCH",
	ErrSettlementInProgress:    "ERROR_SETTLEMENT_IN_PROGRESS",
	ErrSettlementBatchMismatch: "ERROR_SETTLEMENT_BATCH_MISMATCH",
	ErrWithdrawalInProgress:    "ERROR_WITHDRAWAL_IN_PROGRESS",
	ErrWithdrawalBatchMismatch: "ERROR_WITHDRAWAL_BATCH_MISMATCH",
	ErrInvalidInputTx:          "ERROR_INVALID_INPUT_TX",
	ErrInvalidUTXOTypes:        "ERROR_INVALID_UTXO_TYPES",
	ErrInvalidSigner:           "ERROR_INVALID_SIGNER",
	ErrValueTooLarge:           "ERROR_VALUE_TOO_LARGE",
	ErrNoRuneReceiver:          "ERROR_NO_RUNE_RECEIVER",
	ErrNoTxOutputs:             "ERROR_NO_TX_OUTPUTS",
	ErrInvalidAddressNetwork:   "ERROR_INVALID_ADDRESS_NETWORK",
	ErrDeserialize:             "ERROR_DESERIALIZE",
	ErrAlreadyInitialized:      "ERROR_ALREADY_INITIALIZED",
	ErrNetting:                 "ERROR_NETTING",
	ErrAddressMismatch:         "ERROR_ADDRESS_MISMATCH",
}

// ErrWrongAccountType is returned by the Decode* functions in accounts.go
// when a buffer's leading AccountType byte doesn't match the decoder being
// used on it.
var ErrWrongAccountType = ErrWrongAccountTypeCode

// Soft, per-row error codes. These never cause a ProgramError return; they
// are recorded as an Event on the Program account's ring and the offending
// row is skipped.
const (
	ErrorCodeInsufficientBalance uint32 = 701
	ErrorCodeInvalidAddress      uint32 = 702
	ErrorCodeOverflow            uint32 = 703
)
