// Package exchange implements the program's instruction dispatch: decoding
// each instruction's Codable parameters, validating the accounts and
// indices it references, and applying the balance/state mutation the
// instruction calls for.
package exchange

import (
	"crypto/sha256"
	"fmt"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// Tag discriminates the eleven instructions the program accepts. Values are
// assigned in the same grouping the handlers in this package follow: setup,
// deposit, the withdrawal two-phase commit, the settlement two-phase
// commit, then the receiver-registration instruction added last.
type Tag uint8

const (
	TagInitProgramState        Tag = 0
	TagInitTokenState          Tag = 1
	TagInitWalletBalances      Tag = 2
	TagDepositBatch            Tag = 3
	TagPrepareWithdrawBatch    Tag = 4
	TagSubmitWithdrawBatch     Tag = 5
	TagRollbackWithdrawBatch   Tag = 6
	TagPrepareSettlementBatch  Tag = 7
	TagSubmitSettlementBatch   Tag = 8
	TagRollbackSettlementBatch Tag = 9
	TagInitRuneReceiverState   Tag = 10
)

// Hash returns the SHA-256 digest of an instruction's raw payload bytes
// (everything after the leading tag byte). The settlement phases hash their
// payload this way: Prepare stores it, Submit and Rollback recompute it and
// must match. The withdrawal phases instead hash only the re-encoded
// withdrawals list (hashWithdrawals).
func Hash(payload []byte) state.Hash {
	return state.Hash(sha256.Sum256(payload))
}

// TokenStateSetup onboards a batch of wallet addresses onto one token
// account's balances vector, each starting at a zero balance. Addresses are
// appended in order, so the AddressIndex a caller uses to reference the
// Nth address here is stable once InitWalletBalances has run.
type TokenStateSetup struct {
	AccountIndex uint8
	Addresses    []string
}

func (s TokenStateSetup) Encode(w *codec.Writer) error {
	w.WriteU8(s.AccountIndex)
	return codec.WriteVec(w, s.Addresses, func(w *codec.Writer, addr string) error {
		return w.WriteString(addr)
	})
}

func decodeTokenStateSetup(r *codec.Reader) (TokenStateSetup, error) {
	var s TokenStateSetup
	idx, err := r.ReadU8()
	if err != nil {
		return s, err
	}
	addresses, err := codec.ReadVec(r, func(r *codec.Reader) (string, error) { return r.ReadString() })
	if err != nil {
		return s, err
	}
	s.AccountIndex = idx
	s.Addresses = addresses
	return s, nil
}

// TokenDeposits batches every deposit destined for one token account.
type TokenDeposits struct {
	AccountIndex uint8
	Deposits     []state.Adjustment
}

func (d TokenDeposits) Encode(w *codec.Writer) error {
	w.WriteU8(d.AccountIndex)
	return codec.WriteVec(w, d.Deposits, func(w *codec.Writer, a state.Adjustment) error {
		return a.Encode(w)
	})
}

func decodeTokenDeposits(r *codec.Reader) (TokenDeposits, error) {
	var d TokenDeposits
	idx, err := r.ReadU8()
	if err != nil {
		return d, err
	}
	deposits, err := codec.ReadVec(r, state.DecodeAdjustment)
	if err != nil {
		return d, err
	}
	d.AccountIndex = idx
	d.Deposits = deposits
	return d, nil
}

// TokenWithdrawals batches every withdrawal to be paid from one token
// account, with a FeeAccountIndex naming the (possibly different) token
// account each row's fee is charged against.
type TokenWithdrawals struct {
	AccountIndex    uint8
	FeeAccountIndex uint8
	Withdrawals     []state.Withdrawal
}

func (w TokenWithdrawals) Encode(wr *codec.Writer) error {
	wr.WriteU8(w.AccountIndex)
	wr.WriteU8(w.FeeAccountIndex)
	return codec.WriteVec(wr, w.Withdrawals, func(wr *codec.Writer, wd state.Withdrawal) error {
		return wd.Encode(wr)
	})
}

func decodeTokenWithdrawals(r *codec.Reader) (TokenWithdrawals, error) {
	var w TokenWithdrawals
	accIdx, err := r.ReadU8()
	if err != nil {
		return w, err
	}
	feeIdx, err := r.ReadU8()
	if err != nil {
		return w, err
	}
	withdrawals, err := codec.ReadVec(r, state.DecodeWithdrawal)
	if err != nil {
		return w, err
	}
	w.AccountIndex = accIdx
	w.FeeAccountIndex = feeIdx
	w.Withdrawals = withdrawals
	return w, nil
}

// SettlementAdjustments batches the increments and decrements settling
// against one token account in a single settlement batch, plus the fee the
// batch charges against FeeAddressIndex's balance.
type SettlementAdjustments struct {
	AccountIndex uint8
	Increments   []state.Adjustment
	Decrements   []state.Adjustment
	FeeAmount    uint64
}

func (s SettlementAdjustments) Encode(w *codec.Writer) error {
	w.WriteU8(s.AccountIndex)
	if err := codec.WriteVec(w, s.Increments, func(w *codec.Writer, a state.Adjustment) error { return a.Encode(w) }); err != nil {
		return err
	}
	if err := codec.WriteVec(w, s.Decrements, func(w *codec.Writer, a state.Adjustment) error { return a.Encode(w) }); err != nil {
		return err
	}
	w.WriteU64(s.FeeAmount)
	return nil
}

func decodeSettlementAdjustments(r *codec.Reader) (SettlementAdjustments, error) {
	var s SettlementAdjustments
	idx, err := r.ReadU8()
	if err != nil {
		return s, err
	}
	increments, err := codec.ReadVec(r, state.DecodeAdjustment)
	if err != nil {
		return s, err
	}
	decrements, err := codec.ReadVec(r, state.DecodeAdjustment)
	if err != nil {
		return s, err
	}
	feeAmount, err := r.ReadU64()
	if err != nil {
		return s, err
	}
	s.AccountIndex = idx
	s.Increments = increments
	s.Decrements = decrements
	s.FeeAmount = feeAmount
	return s, nil
}

// InitProgramStateParams seeds the program's one-time configuration.
type InitProgramStateParams struct {
	FeeAccountAddress    string
	ProgramChangeAddress string
	Network              state.NetworkType
}

func (p InitProgramStateParams) Encode(w *codec.Writer) error {
	if err := w.WriteString(p.FeeAccountAddress); err != nil {
		return err
	}
	if err := w.WriteString(p.ProgramChangeAddress); err != nil {
		return err
	}
	return p.Network.Encode(w)
}

func DecodeInitProgramStateParams(r *codec.Reader) (InitProgramStateParams, error) {
	var p InitProgramStateParams
	fee, err := r.ReadString()
	if err != nil {
		return p, err
	}
	change, err := r.ReadString()
	if err != nil {
		return p, err
	}
	network, err := state.DecodeNetworkType(r)
	if err != nil {
		return p, err
	}
	p.FeeAccountAddress = fee
	p.ProgramChangeAddress = change
	p.Network = network
	return p, nil
}

// InitTokenStateParams names the token a new Token account will track.
type InitTokenStateParams struct {
	TokenID string
}

func (p InitTokenStateParams) Encode(w *codec.Writer) error {
	return w.WriteString(p.TokenID)
}

func DecodeInitTokenStateParams(r *codec.Reader) (InitTokenStateParams, error) {
	id, err := r.ReadString()
	return InitTokenStateParams{TokenID: id}, err
}

// InitWalletBalancesParams grows one or more token accounts' balances
// vectors ahead of the first deposit that will reference them.
type InitWalletBalancesParams struct {
	Setups []TokenStateSetup
}

func (p InitWalletBalancesParams) Encode(w *codec.Writer) error {
	return codec.WriteVec(w, p.Setups, func(w *codec.Writer, s TokenStateSetup) error { return s.Encode(w) })
}

func DecodeInitWalletBalancesParams(r *codec.Reader) (InitWalletBalancesParams, error) {
	setups, err := codec.ReadVec(r, decodeTokenStateSetup)
	return InitWalletBalancesParams{Setups: setups}, err
}

// DepositBatchParams carries every deposit in a single BatchDeposit call,
// grouped per token account.
type DepositBatchParams struct {
	Deposits []TokenDeposits
}

func (p DepositBatchParams) Encode(w *codec.Writer) error {
	return codec.WriteVec(w, p.Deposits, func(w *codec.Writer, d TokenDeposits) error { return d.Encode(w) })
}

func DecodeDepositBatchParams(r *codec.Reader) (DepositBatchParams, error) {
	deposits, err := codec.ReadVec(r, decodeTokenDeposits)
	return DepositBatchParams{Deposits: deposits}, err
}

// WithdrawBatchParams carries a withdrawal batch through both the prepare
// and submit phases: the partially built transaction template
// (TxHex), the leftover change amount, the withdrawals themselves, and the
// type of every non-state-transition input the caller is providing.
type WithdrawBatchParams struct {
	TxHex          []byte
	ChangeAmount   uint64
	Withdrawals    []TokenWithdrawals
	InputUtxoTypes []state.InputUtxoType
}

func (p WithdrawBatchParams) Encode(w *codec.Writer) error {
	if err := w.WriteString(string(p.TxHex)); err != nil {
		return err
	}
	w.WriteU64(p.ChangeAmount)
	if err := codec.WriteVec(w, p.Withdrawals, func(w *codec.Writer, t TokenWithdrawals) error { return t.Encode(w) }); err != nil {
		return err
	}
	return codec.WriteVec(w, p.InputUtxoTypes, func(w *codec.Writer, t state.InputUtxoType) error { return t.Encode(w) })
}

func DecodeWithdrawBatchParams(r *codec.Reader) (WithdrawBatchParams, error) {
	var p WithdrawBatchParams
	txHex, err := r.ReadString()
	if err != nil {
		return p, err
	}
	changeAmount, err := r.ReadU64()
	if err != nil {
		return p, err
	}
	withdrawals, err := codec.ReadVec(r, decodeTokenWithdrawals)
	if err != nil {
		return p, err
	}
	utxoTypes, err := codec.ReadVec(r, state.DecodeInputUtxoType)
	if err != nil {
		return p, err
	}
	p.TxHex = []byte(txHex)
	p.ChangeAmount = changeAmount
	p.Withdrawals = withdrawals
	p.InputUtxoTypes = utxoTypes
	return p, nil
}

// SettlementBatchParams carries a settlement batch through both the
// prepare and submit/rollback phases.
type SettlementBatchParams struct {
	Adjustments []SettlementAdjustments
}

func (p SettlementBatchParams) Encode(w *codec.Writer) error {
	return codec.WriteVec(w, p.Adjustments, func(w *codec.Writer, a SettlementAdjustments) error { return a.Encode(w) })
}

func DecodeSettlementBatchParams(r *codec.Reader) (SettlementBatchParams, error) {
	adjustments, err := codec.ReadVec(r, decodeSettlementAdjustments)
	return SettlementBatchParams{Adjustments: adjustments}, err
}

// RollbackWithdrawBatchParams re-lists the withdrawals a prepared batch
// would have made, so RollbackBatchWithdraw can credit every fee and
// principal amount back to the balances they were reserved from.
type RollbackWithdrawBatchParams struct {
	Withdrawals []TokenWithdrawals
}

func (p RollbackWithdrawBatchParams) Encode(w *codec.Writer) error {
	return codec.WriteVec(w, p.Withdrawals, func(w *codec.Writer, t TokenWithdrawals) error { return t.Encode(w) })
}

func DecodeRollbackWithdrawBatchParams(r *codec.Reader) (RollbackWithdrawBatchParams, error) {
	withdrawals, err := codec.ReadVec(r, decodeTokenWithdrawals)
	return RollbackWithdrawBatchParams{Withdrawals: withdrawals}, err
}

// DecodeInstruction splits raw instruction data into its tag and payload.
func DecodeInstruction(data []byte) (Tag, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("exchange: empty instruction data")
	}
	return Tag(data[0]), data[1:], nil
}
