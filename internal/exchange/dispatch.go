package exchange

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/wire"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/balance"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/btctx"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/host"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/validate"
)

// Dispatch decodes data's leading tag and routes to the matching handler.
// Every handler either returns a state.ProgramError — in which case the
// caller must discard every account mutation made so far, since the host
// only persists a buffer the handler returned success against — or records
// any row-level failure as a state.Event and returns nil.
func Dispatch(accounts []*host.Account, h host.Host, data []byte) error {
	tag, payload, err := DecodeInstruction(data)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	switch tag {
	case TagInitProgramState:
		return handleInitProgramState(accounts, payload)
	case TagInitTokenState:
		return handleInitTokenState(accounts, payload)
	case TagInitWalletBalances:
		return handleInitWalletBalances(accounts, payload)
	case TagDepositBatch:
		return handleDepositBatch(accounts, payload)
	case TagPrepareWithdrawBatch:
		return handlePrepareWithdrawBatch(accounts, payload)
	case TagSubmitWithdrawBatch:
		return handleSubmitWithdrawBatch(accounts, h, payload)
	case TagRollbackWithdrawBatch:
		return handleRollbackWithdrawBatch(accounts, payload)
	case TagPrepareSettlementBatch:
		return handlePrepareSettlementBatch(accounts, payload)
	case TagSubmitSettlementBatch:
		return handleSubmitSettlementBatch(accounts, payload)
	case TagRollbackSettlementBatch:
		return handleRollbackSettlementBatch(accounts, payload)
	case TagInitRuneReceiverState:
		return handleInitRuneReceiverState(accounts, payload)
	default:
		return fmt.Errorf("exchange: unknown instruction tag %d", tag)
	}
}

func account(accounts []*host.Account, idx int) (*host.Account, error) {
	if idx < 0 || idx >= len(accounts) {
		return nil, state.ErrMissingAccount
	}
	return accounts[idx], nil
}

// isInitialized reports whether an account buffer already carries the given
// AccountType in its leading byte, the signal an Init* handler uses to
// refuse re-initializing an account it has already set up.
func isInitialized(data []byte, want state.AccountType) bool {
	return len(data) > 0 && state.AccountType(data[0]) == want
}

func handleInitProgramState(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	withdrawAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	if err := validate.ValidateAccount(withdrawAcc, false, true); err != nil {
		return err
	}
	if isInitialized(programAcc.Data(), state.AccountTypeProgram) {
		return state.ErrAlreadyInitialized
	}

	params, err := DecodeInitProgramStateParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	if _, err := validate.ValidateBitcoinAddress(params.FeeAccountAddress, params.Network); err != nil {
		return err
	}
	if _, err := validate.ValidateBitcoinAddress(params.ProgramChangeAddress, params.Network); err != nil {
		return err
	}

	ps := &state.ProgramState{
		Version:              state.StateVersion,
		WithdrawAccount:      withdrawAcc.Key,
		FeeAccountAddress:    params.FeeAccountAddress,
		ProgramChangeAddress: params.ProgramChangeAddress,
		Network:              params.Network,
	}
	ws := &state.WithdrawState{
		Version:             state.StateVersion,
		ProgramStateAccount: programAcc.Key,
	}

	if err := saveProgramState(programAcc, ps); err != nil {
		return err
	}
	return saveWithdrawState(withdrawAcc, ws)
}

func handleInitTokenState(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	tokenAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, false); err != nil {
		return err
	}
	if err := validate.ValidateAccount(tokenAcc, false, true); err != nil {
		return err
	}
	if isInitialized(tokenAcc.Data(), state.AccountTypeToken) {
		return state.ErrAlreadyInitialized
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	params, err := DecodeInitTokenStateParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	ts := &state.TokenState{
		Version:             state.StateVersion,
		ProgramStateAccount: programAcc.Key,
		TokenID:             params.TokenID,
	}

	// A rune token's balances vector starts empty; wallets are onboarded
	// onto it the same way a bitcoin-like token is, via InitWalletBalances.
	// A bitcoin-like token instead reserves Balances[FeeAddressIndex] up
	// front, seeded with the program's own fee address, since the fee row
	// is never onboarded through that path.
	runeID, err := parseRuneID(params.TokenID)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if runeID == nil {
		ts.Balances = []state.Balance{{Address: ps.FeeAccountAddress}}
	}

	return saveTokenState(tokenAcc, ts)
}

func handleInitRuneReceiverState(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	receiverAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	if err := validate.ValidateAccount(receiverAcc, false, true); err != nil {
		return err
	}
	if isInitialized(receiverAcc.Data(), state.AccountTypeRuneReceiver) {
		return state.ErrAlreadyInitialized
	}

	rr := &state.RuneReceiverState{
		Version:             state.StateVersion,
		ProgramStateAccount: programAcc.Key,
	}
	encoded, err := codec.Encode(rr)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	return receiverAcc.SetData(encoded)
}

func handleInitWalletBalances(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, false); err != nil {
		return err
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	params, err := DecodeInitWalletBalancesParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	for _, setup := range params.Setups {
		tokenAcc, err := account(accounts, 1+int(setup.AccountIndex))
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(tokenAcc, false, true); err != nil {
			return err
		}
		ts, err := state.DecodeTokenState(tokenAcc.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}
		if err := validate.ValidateBackref(ts.ProgramStateAccount, programAcc.Key); err != nil {
			return err
		}
		for _, addr := range setup.Addresses {
			if _, err := validate.ValidateBitcoinAddress(addr, ps.Network); err != nil {
				return err
			}
		}
		ts.AppendBalances(setup.Addresses)
		if err := saveTokenState(tokenAcc, ts); err != nil {
			return err
		}
	}
	return nil
}

func handleDepositBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, false); err != nil {
		return err
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	params, err := DecodeDepositBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	for _, row := range params.Deposits {
		tokenAcc, err := account(accounts, 1+int(row.AccountIndex))
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(tokenAcc, false, true); err != nil {
			return err
		}
		ts, err := state.DecodeTokenState(tokenAcc.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}
		if err := validate.ValidateBackref(ts.ProgramStateAccount, programAcc.Key); err != nil {
			return err
		}

		// The host is trusted to supply valid deposit rows: unlike the
		// settlement and withdrawal paths, a bad index or an overflow here
		// is a fatal error, not a recorded Event.
		for _, d := range row.Deposits {
			idx, err := validate.GetValidatedIndex(d.AddressIndex, ts.Balances)
			if err != nil {
				return err
			}
			if err := balance.Increment(ts, idx, d.Amount); err != nil {
				return err
			}
		}

		if err := saveTokenState(tokenAcc, ts); err != nil {
			return err
		}
	}

	return saveProgramState(programAcc, ps)
}

func saveProgramState(acc *host.Account, ps *state.ProgramState) error {
	encoded, err := codec.Encode(ps)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	return acc.SetData(encoded)
}

func saveTokenState(acc *host.Account, ts *state.TokenState) error {
	encoded, err := codec.Encode(ts)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	return acc.SetData(encoded)
}

func saveWithdrawState(acc *host.Account, ws *state.WithdrawState) error {
	encoded, err := codec.Encode(ws)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	return acc.SetData(encoded)
}

// codeFor maps a soft validation/balance error onto the numeric error code
// recorded in an Event, defaulting to ErrorCodeInvalidAddress for anything
// that isn't already a *balance.Error.
func codeFor(err error) uint32 {
	if be, ok := err.(*balance.Error); ok {
		return be.Code
	}
	return state.ErrorCodeInvalidAddress
}

func handlePrepareSettlementBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if ps.SettlementInProgress() {
		return state.ErrSettlementInProgress
	}

	params, err := DecodeSettlementBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	for _, row := range params.Adjustments {
		var incTotal, decTotal uint64
		for _, inc := range row.Increments {
			incTotal += inc.Amount
		}
		for _, dec := range row.Decrements {
			decTotal += dec.Amount
		}
		if incTotal+row.FeeAmount != decTotal {
			return state.ErrNetting
		}
	}

	ps.Events = nil

	clean := true
	for _, row := range params.Adjustments {
		tokenAcc, err := account(accounts, 1+int(row.AccountIndex))
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(tokenAcc, false, false); err != nil {
			return err
		}
		ts, err := state.DecodeTokenState(tokenAcc.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}
		if err := validate.ValidateBackref(ts.ProgramStateAccount, programAcc.Key); err != nil {
			return err
		}

		// A bad index here means the caller's own batch is malformed, not
		// that a wallet lacks funds: that failure mode is fatal, matching
		// the original's get_validated_index(...)? propagation. Only the
		// balance check below is a soft, per-row Event.
		for _, dec := range row.Decrements {
			idx, err := validate.GetValidatedIndex(dec.AddressIndex, ts.Balances)
			if err != nil {
				return err
			}
			if err := balance.WouldDecrement(ts, idx, dec.Amount); err != nil {
				clean = false
				ps.PushEvent(state.NewFailedSettlement(row.AccountIndex, dec.AddressIndex.Index, dec.Amount, balance.At(ts, idx), codeFor(err)))
			}
		}
		for _, inc := range row.Increments {
			if _, err := validate.GetValidatedIndex(inc.AddressIndex, ts.Balances); err != nil {
				return err
			}
		}
		if row.FeeAmount > 0 {
			if err := balance.WouldDecrement(ts, state.FeeAddressIndex, row.FeeAmount); err != nil {
				clean = false
				ps.PushEvent(state.NewFailedSettlement(row.AccountIndex, state.FeeAddressIndex, row.FeeAmount, balance.At(ts, state.FeeAddressIndex), codeFor(err)))
			}
		}
	}

	if clean {
		ps.SettlementBatchHash = Hash(payload)
	}
	return saveProgramState(programAcc, ps)
}

func handleSubmitSettlementBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if !ps.SettlementInProgress() || Hash(payload) != ps.SettlementBatchHash {
		return state.ErrSettlementBatchMismatch
	}

	params, err := DecodeSettlementBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}

	for _, row := range params.Adjustments {
		tokenAcc, err := account(accounts, 1+int(row.AccountIndex))
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(tokenAcc, false, true); err != nil {
			return err
		}
		ts, err := state.DecodeTokenState(tokenAcc.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}
		if err := validate.ValidateBackref(ts.ProgramStateAccount, programAcc.Key); err != nil {
			return err
		}

		for _, dec := range row.Decrements {
			idx, err := validate.GetValidatedIndex(dec.AddressIndex, ts.Balances)
			if err != nil {
				return err
			}
			if err := balance.Decrement(ts, idx, dec.Amount); err != nil {
				ps.PushEvent(state.NewFailedSettlement(row.AccountIndex, dec.AddressIndex.Index, dec.Amount, balance.At(ts, idx), codeFor(err)))
			}
		}
		for _, inc := range row.Increments {
			idx, err := validate.GetValidatedIndex(inc.AddressIndex, ts.Balances)
			if err != nil {
				return err
			}
			if err := balance.Increment(ts, idx, inc.Amount); err != nil {
				ps.PushEvent(state.NewFailedSettlement(row.AccountIndex, inc.AddressIndex.Index, inc.Amount, balance.At(ts, idx), codeFor(err)))
			}
		}
		if row.FeeAmount > 0 {
			if err := balance.Decrement(ts, state.FeeAddressIndex, row.FeeAmount); err != nil {
				ps.PushEvent(state.NewFailedSettlement(row.AccountIndex, state.FeeAddressIndex, row.FeeAmount, balance.At(ts, state.FeeAddressIndex), codeFor(err)))
			}
		}

		if err := saveTokenState(tokenAcc, ts); err != nil {
			return err
		}
	}

	ps.LastSettlementBatchHash = ps.SettlementBatchHash
	ps.SettlementBatchHash = state.Hash{}
	return saveProgramState(programAcc, ps)
}

func handleRollbackSettlementBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if !ps.SettlementInProgress() || Hash(payload) != ps.SettlementBatchHash {
		return state.ErrSettlementBatchMismatch
	}
	ps.SettlementBatchHash = state.Hash{}
	return saveProgramState(programAcc, ps)
}

// hashWithdrawals hashes only the Withdrawals portion of a withdrawal
// batch, re-encoded canonically. PrepareBatchWithdraw and
// SubmitBatchWithdraw both carry it wrapped in a WithdrawBatchParams, while
// RollbackBatchWithdraw carries it wrapped in the narrower
// RollbackWithdrawBatchParams; hashing just this shared sub-value, rather
// than either instruction's full raw payload, lets all three agree on the
// same lock value despite the differing wrapper shapes.
func hashWithdrawals(withdrawals []TokenWithdrawals) (state.Hash, error) {
	w := codec.NewWriter()
	err := codec.WriteVec(w, withdrawals, func(w *codec.Writer, t TokenWithdrawals) error { return t.Encode(w) })
	if err != nil {
		return state.Hash{}, err
	}
	return Hash(w.Bytes()), nil
}

// withdrawTokenLoader decodes and caches the TokenState for each account a
// withdrawal batch touches, so the two passes over the same batch (and, on
// PrepareBatchWithdraw, the check pass and the apply pass) see and mutate
// the same in-memory state, and every account is validated only once.
type withdrawTokenLoader struct {
	accounts   []*host.Account
	programAcc *host.Account
	offset     int
	writable   bool
	touched    map[*host.Account]*state.TokenState
	order      []*host.Account
}

func newWithdrawTokenLoader(accounts []*host.Account, programAcc *host.Account, offset int, writable bool) *withdrawTokenLoader {
	return &withdrawTokenLoader{
		accounts:   accounts,
		programAcc: programAcc,
		offset:     offset,
		writable:   writable,
		touched:    map[*host.Account]*state.TokenState{},
	}
}

func (l *withdrawTokenLoader) load(idx int) (*host.Account, *state.TokenState, error) {
	acc, err := account(l.accounts, l.offset+idx)
	if err != nil {
		return nil, nil, err
	}
	if ts, ok := l.touched[acc]; ok {
		return acc, ts, nil
	}
	if err := validate.ValidateAccount(acc, false, l.writable); err != nil {
		return nil, nil, err
	}
	ts, err := state.DecodeTokenState(acc.Data())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ts.ProgramStateAccount, l.programAcc.Key); err != nil {
		return nil, nil, err
	}
	l.touched[acc] = ts
	l.order = append(l.order, acc)
	return acc, ts, nil
}

func (l *withdrawTokenLoader) save() error {
	for _, acc := range l.order {
		if err := saveTokenState(acc, l.touched[acc]); err != nil {
			return err
		}
	}
	return nil
}

func handlePrepareWithdrawBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	withdrawAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, true); err != nil {
		return err
	}
	if err := validate.ValidateAccount(withdrawAcc, false, true); err != nil {
		return err
	}

	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if ps.SettlementInProgress() {
		return state.ErrSettlementInProgress
	}

	if err := validate.ValidateBackref(ps.WithdrawAccount, withdrawAcc.Key); err != nil {
		return err
	}

	ws, err := state.DecodeWithdrawState(withdrawAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ws.ProgramStateAccount, programAcc.Key); err != nil {
		return err
	}
	if ws.WithdrawInProgress() {
		return state.ErrWithdrawalInProgress
	}

	params, err := DecodeWithdrawBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if len(params.TxHex) == 0 {
		return state.ErrInvalidInputTx
	}
	txBytes, err := hex.DecodeString(string(params.TxHex))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
	}
	// The template is unsigned, so it is decoded without witness support;
	// that also accepts a template with no inputs at all.
	baseTx := wire.NewMsgTx(wire.TxVersion)
	if err := baseTx.DeserializeNoWitness(bytes.NewReader(txBytes)); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
	}
	if len(baseTx.TxOut) != 0 {
		return state.ErrInvalidInputTx
	}
	if len(baseTx.TxIn) != len(params.InputUtxoTypes) {
		return state.ErrInvalidUTXOTypes
	}
	for _, t := range params.InputUtxoTypes {
		switch t {
		case state.InputUtxoBitcoin, state.InputUtxoRune:
		default:
			return state.ErrInvalidUTXOTypes
		}
	}

	ps.Events = nil
	loader := newWithdrawTokenLoader(accounts, programAcc, 2, true)

	// Phase 1: resolve every withdrawal's index and confirm it could be
	// decremented, without mutating anything. A bad index or last4 is fatal;
	// a destination on the wrong network or a balance that can't cover the
	// row is recorded as a soft event and the whole batch is left unarmed;
	// nothing further below runs unless every row passed.
	clean := true
	for _, row := range params.Withdrawals {
		_, ts, err := loader.load(int(row.AccountIndex))
		if err != nil {
			return err
		}
		_, feeTs, err := loader.load(int(row.FeeAccountIndex))
		if err != nil {
			return err
		}

		for _, w := range row.Withdrawals {
			idx, err := validate.GetValidatedIndexWithdraw(w.AddressIndex, ts.Balances, ps.Network)
			if err != nil {
				if err != state.ErrInvalidAddressNetwork {
					return err
				}
				clean = false
				ps.PushEvent(state.NewFailedWithdrawal(row.AccountIndex, w.AddressIndex.Index, row.FeeAccountIndex, w.FeeAddressIndex.Index, w.Amount, w.FeeAmount, 0, 0, codeFor(err)))
				continue
			}
			feeIdx, err := validate.GetValidatedIndex(w.FeeAddressIndex, feeTs.Balances)
			if err != nil {
				return err
			}

			if feeTs == ts && idx == feeIdx {
				if err := balance.WouldDecrement(ts, idx, w.Amount+w.FeeAmount); err != nil {
					clean = false
					ps.PushEvent(state.NewFailedWithdrawal(row.AccountIndex, w.AddressIndex.Index, row.FeeAccountIndex, w.FeeAddressIndex.Index, w.Amount, w.FeeAmount, balance.At(ts, idx), balance.At(ts, idx), codeFor(err)))
				}
				continue
			}
			if err := balance.WouldDecrement(ts, idx, w.Amount); err != nil {
				clean = false
				ps.PushEvent(state.NewFailedWithdrawal(row.AccountIndex, w.AddressIndex.Index, row.FeeAccountIndex, w.FeeAddressIndex.Index, w.Amount, w.FeeAmount, balance.At(ts, idx), balance.At(feeTs, feeIdx), codeFor(err)))
				continue
			}
			if err := balance.WouldDecrement(feeTs, feeIdx, w.FeeAmount); err != nil {
				clean = false
				ps.PushEvent(state.NewFailedWithdrawal(row.AccountIndex, w.AddressIndex.Index, row.FeeAccountIndex, w.FeeAddressIndex.Index, w.Amount, w.FeeAmount, balance.At(ts, idx), balance.At(feeTs, feeIdx), codeFor(err)))
			}
		}
	}

	if !clean {
		return saveProgramState(programAcc, ps)
	}

	// Phase 2: every row passed, so apply the balance mutations and build
	// the Bitcoin outputs now. SubmitBatchWithdraw only replays these
	// outputs from the still-locked accounts; it never mutates a balance.
	var outputs []btctx.WithdrawalOutput
	hasRuneOutput := false
	for _, row := range params.Withdrawals {
		_, ts, err := loader.load(int(row.AccountIndex))
		if err != nil {
			return err
		}
		_, feeTs, err := loader.load(int(row.FeeAccountIndex))
		if err != nil {
			return err
		}
		runeID, err := parseRuneID(ts.TokenID)
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}

		for _, w := range row.Withdrawals {
			idx, err := validate.GetValidatedIndexWithdraw(w.AddressIndex, ts.Balances, ps.Network)
			if err != nil {
				return err
			}
			feeIdx, err := validate.GetValidatedIndex(w.FeeAddressIndex, feeTs.Balances)
			if err != nil {
				return err
			}
			if w.FeeAmount > 0 {
				if int(state.FeeAddressIndex) >= len(feeTs.Balances) {
					return state.ErrInvalidIndex
				}
				if feeTs.Balances[state.FeeAddressIndex].Address != ps.FeeAccountAddress {
					return state.ErrAddressMismatch
				}
			}

			if feeTs == ts && idx == feeIdx {
				if err := balance.Decrement(ts, idx, w.Amount+w.FeeAmount); err != nil {
					return err
				}
			} else {
				if err := balance.Decrement(ts, idx, w.Amount); err != nil {
					return err
				}
				if w.FeeAmount > 0 {
					if err := balance.Decrement(feeTs, feeIdx, w.FeeAmount); err != nil {
						return err
					}
				}
			}

			if runeID != nil {
				hasRuneOutput = true
			}
			outputs = append(outputs, btctx.WithdrawalOutput{
				Address: ts.Balances[idx].Address,
				Amount:  w.Amount,
				RuneID:  runeID,
			})
		}
	}

	if hasRuneOutput {
		rr, err := runeReceiverAccount(accounts, programAcc.Key)
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(rr, false, false); err != nil {
			return err
		}
	}
	if len(outputs) == 0 {
		return state.ErrNoTxOutputs
	}

	if err := loader.save(); err != nil {
		return err
	}

	h, err := hashWithdrawals(params.Withdrawals)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	ws.BatchHash = h
	if err := saveWithdrawState(withdrawAcc, ws); err != nil {
		return err
	}
	return saveProgramState(programAcc, ps)
}

// runeReceiverAccount returns the trailing Rune Receiver account a withdrawal
// batch carries when any of its outputs moves runes: by convention the last
// entry in the accounts list passed to PrepareBatchWithdraw/SubmitBatchWithdraw.
func runeReceiverAccount(accounts []*host.Account, programKey state.Pubkey) (*host.Account, error) {
	if len(accounts) == 0 {
		return nil, state.ErrNoRuneReceiver
	}
	last := accounts[len(accounts)-1]
	rr, err := state.DecodeRuneReceiverState(last.Data())
	if err != nil {
		return nil, state.ErrNoRuneReceiver
	}
	if err := validate.ValidateBackref(rr.ProgramStateAccount, programKey); err != nil {
		return nil, err
	}
	return last, nil
}

func parseRuneID(tokenID string) (*btctx.RuneID, error) {
	if tokenID == "" || tokenID == "btc" {
		return nil, nil
	}
	parts := strings.SplitN(tokenID, ":", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse rune id block %q: %w", tokenID, err)
	}
	tx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse rune id tx %q: %w", tokenID, err)
	}
	return &btctx.RuneID{Block: block, Tx: uint32(tx)}, nil
}

func handleSubmitWithdrawBatch(accounts []*host.Account, h host.Host, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	withdrawAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, false); err != nil {
		return err
	}
	if err := validate.ValidateAccount(withdrawAcc, true, true); err != nil {
		return err
	}

	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ps.WithdrawAccount, withdrawAcc.Key); err != nil {
		return err
	}

	ws, err := state.DecodeWithdrawState(withdrawAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ws.ProgramStateAccount, programAcc.Key); err != nil {
		return err
	}

	params, err := DecodeWithdrawBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	batchHash, err := hashWithdrawals(params.Withdrawals)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	if !ws.WithdrawInProgress() || batchHash != ws.BatchHash {
		return state.ErrWithdrawalBatchMismatch
	}

	// Every balance was already moved at PrepareBatchWithdraw. Submit only
	// re-resolves indices and rebuilds the same outputs from the
	// now-locked accounts; any failure here means an account drifted out
	// from under an armed lock, a fatal condition rather than a soft event.
	loader := newWithdrawTokenLoader(accounts, programAcc, 2, false)
	var outputs []btctx.WithdrawalOutput
	hasRuneOutput := false
	for _, row := range params.Withdrawals {
		_, ts, err := loader.load(int(row.AccountIndex))
		if err != nil {
			return err
		}
		runeID, err := parseRuneID(ts.TokenID)
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
		}

		for _, w := range row.Withdrawals {
			idx, err := validate.GetValidatedIndexWithdraw(w.AddressIndex, ts.Balances, ps.Network)
			if err != nil {
				return err
			}
			if runeID != nil {
				hasRuneOutput = true
			}
			outputs = append(outputs, btctx.WithdrawalOutput{
				Address: ts.Balances[idx].Address,
				Amount:  w.Amount,
				RuneID:  runeID,
			})
		}
	}

	// The program's own anchoring UTXOs (and, if in use, the Rune
	// Receiver's) are consumed as the transaction's leading
	// "state-transition" inputs; the host assembles that part of the
	// template, and the caller's tx_hex contributes only the additional
	// inputs it is supplying, never the outputs.
	stateTransitionBytes, err := h.GetStateTransitionTx(accounts)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if len(stateTransitionBytes) > 0 {
		if err := tx.DeserializeNoWitness(bytes.NewReader(stateTransitionBytes)); err != nil {
			return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
		}
	}
	numStateTransitions := len(tx.TxIn)

	txBytes, err := hex.DecodeString(string(params.TxHex))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
	}
	callerTx := wire.NewMsgTx(wire.TxVersion)
	if len(txBytes) > 0 {
		if err := callerTx.DeserializeNoWitness(bytes.NewReader(txBytes)); err != nil {
			return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
		}
	}
	for _, in := range callerTx.TxIn {
		tx.AddTxIn(in)
	}

	netParams := validate.NetworkParams(ps.Network)
	if err := btctx.BuildWithdrawOutputs(tx, netParams, outputs, ps.ProgramChangeAddress, params.ChangeAmount); err != nil {
		return fmt.Errorf("%w: %v", state.ErrNoTxOutputs, err)
	}

	for _, t := range params.InputUtxoTypes {
		if t == state.InputUtxoRune {
			hasRuneOutput = true
		}
	}

	var receiverAcc *host.Account
	inputsToSign := []host.InputToSign{{Index: 0, Signer: withdrawAcc.Key}}
	if hasRuneOutput {
		receiverAcc, err = runeReceiverAccount(accounts, programAcc.Key)
		if err != nil {
			return err
		}
		if err := validate.ValidateAccount(receiverAcc, true, true); err != nil {
			return err
		}
		inputsToSign = append(inputsToSign, host.InputToSign{Index: 1, Signer: receiverAcc.Key})
	}
	for i, t := range params.InputUtxoTypes {
		signer := programAcc.Key
		if t == state.InputUtxoRune {
			signer = receiverAcc.Key
		}
		inputsToSign = append(inputsToSign, host.InputToSign{Index: numStateTransitions + i, Signer: signer})
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidInputTx, err)
	}

	if err := h.SetTransactionToSign(accounts, buf.Bytes(), inputsToSign); err != nil {
		return err
	}

	ws.BatchHash = state.Hash{}
	if err := saveWithdrawState(withdrawAcc, ws); err != nil {
		return err
	}
	return saveProgramState(programAcc, ps)
}

func handleRollbackWithdrawBatch(accounts []*host.Account, payload []byte) error {
	programAcc, err := account(accounts, 0)
	if err != nil {
		return err
	}
	withdrawAcc, err := account(accounts, 1)
	if err != nil {
		return err
	}
	if err := validate.ValidateAccount(programAcc, true, false); err != nil {
		return err
	}
	if err := validate.ValidateAccount(withdrawAcc, false, true); err != nil {
		return err
	}

	ps, err := state.DecodeProgramState(programAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ps.WithdrawAccount, withdrawAcc.Key); err != nil {
		return err
	}

	ws, err := state.DecodeWithdrawState(withdrawAcc.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	if err := validate.ValidateBackref(ws.ProgramStateAccount, programAcc.Key); err != nil {
		return err
	}

	params, err := DecodeRollbackWithdrawBatchParams(codec.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrDeserialize, err)
	}
	h, err := hashWithdrawals(params.Withdrawals)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrValueTooLarge, err)
	}
	if !ws.WithdrawInProgress() || h != ws.BatchHash {
		return state.ErrWithdrawalBatchMismatch
	}

	// The inverse of handlePrepareWithdrawBatch's apply phase: credit back
	// the withdrawn amount and the fee-row deduction it made alongside it.
	loader := newWithdrawTokenLoader(accounts, programAcc, 2, true)
	for _, row := range params.Withdrawals {
		_, ts, err := loader.load(int(row.AccountIndex))
		if err != nil {
			return err
		}
		_, feeTs, err := loader.load(int(row.FeeAccountIndex))
		if err != nil {
			return err
		}

		for _, w := range row.Withdrawals {
			idx, err := validate.GetValidatedIndex(w.AddressIndex, ts.Balances)
			if err != nil {
				return err
			}
			feeIdx, err := validate.GetValidatedIndex(w.FeeAddressIndex, feeTs.Balances)
			if err != nil {
				return err
			}

			if feeTs == ts && idx == feeIdx {
				if err := balance.Increment(ts, idx, w.Amount+w.FeeAmount); err != nil {
					return err
				}
			} else {
				if err := balance.Increment(ts, idx, w.Amount); err != nil {
					return err
				}
				if w.FeeAmount > 0 {
					if err := balance.Increment(feeTs, feeIdx, w.FeeAmount); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := loader.save(); err != nil {
		return err
	}

	ws.BatchHash = state.Hash{}
	return saveWithdrawState(withdrawAcc, ws)
}
