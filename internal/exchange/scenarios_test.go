package exchange

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/btctx"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/host"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// Deposit and withdraw a wallet's entire principal exactly, with the
// withdrawal's fee charged against the token's own reserved fee row rather
// than the withdrawer's balance.
func TestScenario_DepositThenExactWithdrawal(t *testing.T) {
	programAcc, withdrawAcc := setupProgram(t)
	tokenAcc := initToken(t, 10, programAcc, "btc")
	// Index 0 is the reserved fee row; W1 lands at index 1.
	initWalletBalances(t, programAcc, tokenAcc, []string{regtestAddr})
	mustDispatch(t, []*host.Account{programAcc, tokenAcc}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{
			{AddressIndex: addrIndex(1), Amount: 10000},
			{AddressIndex: addrIndex(state.FeeAddressIndex), Amount: 1000},
		}}},
	}))

	withdrawals := []TokenWithdrawals{{
		AccountIndex:    0,
		FeeAccountIndex: 0,
		Withdrawals: []state.Withdrawal{
			{AddressIndex: addrIndex(1), Amount: 5500, FeeAddressIndex: addrIndex(state.FeeAddressIndex), FeeAmount: 500},
		},
	}}
	prepare := WithdrawBatchParams{TxHex: buildTxHex(t, 0), Withdrawals: withdrawals, ChangeAmount: 3500}
	mustDispatch(t, []*host.Account{programAcc, withdrawAcc, tokenAcc}, nil, instr(TagPrepareWithdrawBatch, prepare))

	ws := loadWithdrawState(t, withdrawAcc)
	if !ws.WithdrawInProgress() {
		t.Fatal("PrepareBatchWithdraw did not arm the lock")
	}

	// The withdrawal consumes the program's own anchoring UTXO as a
	// state-transition input; the caller supplies no inputs of its own.
	fh := host.NewFakeHost()
	fh.StateTransitionTx = buildStateTransitionTx(t, 1)
	mustDispatch(t, []*host.Account{programAcc, withdrawAcc, tokenAcc}, fh, instr(TagSubmitWithdrawBatch, prepare))

	ts := loadTokenState(t, tokenAcc)
	if ts.Balances[1].Amount != 4500 {
		t.Errorf("W1 balance = %d, want 4500", ts.Balances[1].Amount)
	}
	if ts.Balances[0].Amount != 500 {
		t.Errorf("fee row balance = %d, want 500", ts.Balances[0].Amount)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(fh.StagedTx)); err != nil {
		t.Fatalf("Deserialize(StagedTx) error = %v", err)
	}
	if len(tx.TxIn) != 1 {
		t.Fatalf("TxIn count = %d, want 1 (the anchor UTXO)", len(tx.TxIn))
	}
	if len(tx.TxOut) != 2 {
		t.Fatalf("TxOut count = %d, want 2 (withdrawal + change)", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != 5500 {
		t.Errorf("TxOut[0].Value = %d, want 5500", tx.TxOut[0].Value)
	}
	if tx.TxOut[1].Value != 3500 {
		t.Errorf("TxOut[1].Value = %d, want 3500", tx.TxOut[1].Value)
	}

	if len(fh.StagedInputsToSign) != 1 || fh.StagedInputsToSign[0].Index != 0 || fh.StagedInputsToSign[0].Signer != withdrawAcc.Key {
		t.Errorf("StagedInputsToSign = %+v, want [{0, withdrawAcc.Key}]", fh.StagedInputsToSign)
	}
	if ws := loadWithdrawState(t, withdrawAcc); ws.WithdrawInProgress() {
		t.Error("SubmitBatchWithdraw must clear the lock")
	}
}

// A batch with one withdrawal that exactly exhausts a wallet's balance and
// two that exceed it: the other two are recorded as soft failures, the whole
// batch stays unarmed, and no row is applied, the clean one included.
func TestScenario_WithdrawalPartialFailure(t *testing.T) {
	programAcc, withdrawAcc := setupProgram(t)
	tokenAcc := initToken(t, 10, programAcc, "btc")
	// Index 0 is the reserved fee row; W1, W2, W3 land at 1, 2, 3.
	initWalletBalances(t, programAcc, tokenAcc, []string{regtestAddr, regtestAddr, regtestAddr})
	mustDispatch(t, []*host.Account{programAcc, tokenAcc}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{
			{AddressIndex: addrIndex(1), Amount: 10000},
			{AddressIndex: addrIndex(2), Amount: 11000},
			{AddressIndex: addrIndex(3), Amount: 12000},
			{AddressIndex: addrIndex(state.FeeAddressIndex), Amount: 1000},
		}}},
	}))

	withdrawals := []TokenWithdrawals{{
		AccountIndex:    0,
		FeeAccountIndex: 0,
		Withdrawals: []state.Withdrawal{
			{AddressIndex: addrIndex(1), Amount: 10000, FeeAddressIndex: addrIndex(state.FeeAddressIndex), FeeAmount: 500},
			{AddressIndex: addrIndex(2), Amount: 12000, FeeAddressIndex: addrIndex(state.FeeAddressIndex), FeeAmount: 500},
			{AddressIndex: addrIndex(3), Amount: 12500, FeeAddressIndex: addrIndex(state.FeeAddressIndex), FeeAmount: 500},
		},
	}}
	prepare := WithdrawBatchParams{TxHex: buildTxHex(t, 0), Withdrawals: withdrawals}
	err := Dispatch([]*host.Account{programAcc, withdrawAcc, tokenAcc}, nil, instr(TagPrepareWithdrawBatch, prepare))
	if err != nil {
		t.Fatalf("PrepareBatchWithdraw() error = %v", err)
	}

	ws := loadWithdrawState(t, withdrawAcc)
	if ws.WithdrawInProgress() {
		t.Error("a batch with any insufficient row must not arm the lock")
	}

	ps := loadProgramState(t, programAcc)
	if len(ps.Events) != 2 {
		t.Fatalf("Events len = %d, want 2", len(ps.Events))
	}
	want := []struct {
		addressIndex uint32
		requested    uint64
		balance      uint64
	}{
		{2, 12000, 11000},
		{3, 12500, 12000},
	}
	for i, w := range want {
		e := ps.Events[i]
		if e.Tag != state.EventFailedWithdrawal {
			t.Errorf("Events[%d].Tag = %v, want EventFailedWithdrawal", i, e.Tag)
		}
		if e.AddressIndex != w.addressIndex || e.RequestedAmount != w.requested || e.Balance != w.balance {
			t.Errorf("Events[%d] = %+v, want {AddressIndex:%d RequestedAmount:%d Balance:%d}", i, e, w.addressIndex, w.requested, w.balance)
		}
		if e.ErrorCode != state.ErrorCodeInsufficientBalance {
			t.Errorf("Events[%d].ErrorCode = %d, want %d", i, e.ErrorCode, state.ErrorCodeInsufficientBalance)
		}
	}

	ts := loadTokenState(t, tokenAcc)
	if ts.Balances[1].Amount != 10000 || ts.Balances[2].Amount != 11000 || ts.Balances[3].Amount != 12000 {
		t.Errorf("balances after a prepare-only batch must stay untouched, got %+v", ts.Balances)
	}
}

// A settlement row whose increments, decrements and fee don't net to zero
// must abort the whole batch before any account is touched, regardless of
// how many tokens the batch covers.
func TestScenario_SettlementNettingViolation(t *testing.T) {
	programAcc, _ := setupProgram(t)
	tokenA := initToken(t, 10, programAcc, "btc")
	tokenB := initToken(t, 11, programAcc, "eth")
	initWalletBalances(t, programAcc, tokenA, []string{regtestAddr, regtestAddr})
	initWalletBalances(t, programAcc, tokenB, []string{regtestAddr})

	// Σincrements − Σdecrements + fee = 100 − 100 + 3 = 3, not zero.
	batch := SettlementBatchParams{Adjustments: []SettlementAdjustments{
		{
			AccountIndex: 0,
			Increments:   []state.Adjustment{{AddressIndex: addrIndex(1), Amount: 100}},
			Decrements:   []state.Adjustment{{AddressIndex: addrIndex(2), Amount: 100}},
			FeeAmount:    3,
		},
		{AccountIndex: 1},
	}}
	err := Dispatch([]*host.Account{programAcc, tokenA, tokenB}, nil, instr(TagPrepareSettlementBatch, batch))
	if err != state.ErrNetting {
		t.Fatalf("PrepareBatchSettlement error = %v, want ErrNetting", err)
	}

	ps := loadProgramState(t, programAcc)
	if ps.SettlementInProgress() || len(ps.Events) != 0 {
		t.Error("a netting violation must leave the program account untouched")
	}
	tsA := loadTokenState(t, tokenA)
	if tsA.Balances[1].Amount != 0 || tsA.Balances[2].Amount != 0 {
		t.Error("a netting violation must never reach account mutation")
	}
}

// Two tokens each attempt a self-balanced settlement row (an increment and
// a decrement of equal size against the same wallet, so Σinc+fee=Σdec holds)
// that the wallet's balance can't actually cover.
func TestScenario_SettlementInsufficientBalance(t *testing.T) {
	programAcc, _ := setupProgram(t)
	tokenBtc := initToken(t, 10, programAcc, "btc")
	tokenRune := initToken(t, 11, programAcc, "840000:2")
	// "btc" reserves index 0 for its fee row, so W1 lands at index 1.
	initWalletBalances(t, programAcc, tokenBtc, []string{regtestAddr})
	// A rune token's balances vector starts empty, so W2 lands at index 0.
	initWalletBalances(t, programAcc, tokenRune, []string{regtestAddr})

	mustDispatch(t, []*host.Account{programAcc, tokenBtc}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{{AddressIndex: addrIndex(1), Amount: 5000}}}},
	}))
	mustDispatch(t, []*host.Account{programAcc, tokenRune}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{{AddressIndex: addrIndex(0), Amount: 7000}}}},
	}))

	batch := SettlementBatchParams{Adjustments: []SettlementAdjustments{
		{
			AccountIndex: 0,
			Increments:   []state.Adjustment{{AddressIndex: addrIndex(1), Amount: 101000}},
			Decrements:   []state.Adjustment{{AddressIndex: addrIndex(1), Amount: 101000}},
		},
		{
			AccountIndex: 1,
			Increments:   []state.Adjustment{{AddressIndex: addrIndex(0), Amount: 100000}},
			Decrements:   []state.Adjustment{{AddressIndex: addrIndex(0), Amount: 100000}},
		},
	}}
	err := Dispatch([]*host.Account{programAcc, tokenBtc, tokenRune}, nil, instr(TagPrepareSettlementBatch, batch))
	if err != nil {
		t.Fatalf("PrepareBatchSettlement() error = %v", err)
	}

	ps := loadProgramState(t, programAcc)
	if ps.SettlementInProgress() {
		t.Error("a batch with any insufficient row must not arm the lock")
	}
	if len(ps.Events) != 2 {
		t.Fatalf("Events len = %d, want 2", len(ps.Events))
	}
	want := []struct {
		accountIndex uint8
		addressIndex uint32
		requested    uint64
		balance      uint64
	}{
		{0, 1, 101000, 5000},
		{1, 0, 100000, 7000},
	}
	for i, w := range want {
		e := ps.Events[i]
		if e.Tag != state.EventFailedSettlement {
			t.Errorf("Events[%d].Tag = %v, want EventFailedSettlement", i, e.Tag)
		}
		if e.AccountIndex != w.accountIndex || e.AddressIndex != w.addressIndex || e.RequestedAmount != w.requested || e.Balance != w.balance {
			t.Errorf("Events[%d] = %+v, want %+v", i, e, w)
		}
		if e.ErrorCode != state.ErrorCodeInsufficientBalance {
			t.Errorf("Events[%d].ErrorCode = %d, want %d", i, e.ErrorCode, state.ErrorCodeInsufficientBalance)
		}
	}
}

// A rune withdrawal paired with a fee charged against a separate bitcoin
// token's fee row, moving through the dust-output-plus-runestone-edict
// shape a rune transfer takes instead of a direct value output.
func TestScenario_RuneDepositAndPartialWithdrawal(t *testing.T) {
	programAcc, withdrawAcc := setupProgram(t)
	receiverAcc := newAcc(30, true, nil)
	rrw := codec.NewWriter()
	rrw.WriteU8(uint8(TagInitRuneReceiverState))
	mustDispatch(t, []*host.Account{programAcc, receiverAcc}, nil, rrw.Bytes())

	btcAcc := initToken(t, 10, programAcc, "btc")
	runeAcc := initToken(t, 11, programAcc, "840000:1")
	initWalletBalances(t, programAcc, btcAcc, nil)
	initWalletBalances(t, programAcc, runeAcc, []string{regtestAddr})

	mustDispatch(t, []*host.Account{programAcc, btcAcc}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{
			{AddressIndex: addrIndex(state.FeeAddressIndex), Amount: 1000},
		}}},
	}))
	mustDispatch(t, []*host.Account{programAcc, runeAcc}, nil, instr(TagDepositBatch, DepositBatchParams{
		Deposits: []TokenDeposits{{AccountIndex: 0, Deposits: []state.Adjustment{
			{AddressIndex: addrIndex(0), Amount: 1_000_000_000},
		}}},
	}))

	// accounts[2]=btc (AccountIndex 0), accounts[3]=rune (AccountIndex 1).
	accounts := []*host.Account{programAcc, withdrawAcc, btcAcc, runeAcc, receiverAcc}
	withdrawals := []TokenWithdrawals{{
		AccountIndex:    1,
		FeeAccountIndex: 0,
		Withdrawals: []state.Withdrawal{
			{AddressIndex: addrIndex(0), Amount: 400_000_000, FeeAddressIndex: addrIndex(state.FeeAddressIndex), FeeAmount: 500},
		},
	}}
	prepare := WithdrawBatchParams{TxHex: buildTxHex(t, 0), Withdrawals: withdrawals, ChangeAmount: 8500}
	mustDispatch(t, accounts, nil, instr(TagPrepareWithdrawBatch, prepare))

	fh := host.NewFakeHost()
	// The Withdraw account's and the Rune Receiver's anchoring UTXOs are the
	// two state-transition inputs, signed as inputs 0 and 1.
	fh.StateTransitionTx = buildStateTransitionTx(t, 2)
	mustDispatch(t, accounts, fh, instr(TagSubmitWithdrawBatch, prepare))

	rts := loadTokenState(t, runeAcc)
	if rts.Balances[0].Amount != 600_000_000 {
		t.Errorf("rune balance = %d, want 600000000", rts.Balances[0].Amount)
	}
	bts := loadTokenState(t, btcAcc)
	if bts.Balances[state.FeeAddressIndex].Amount != 500 {
		t.Errorf("btc fee row = %d, want 500", bts.Balances[state.FeeAddressIndex].Amount)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(fh.StagedTx)); err != nil {
		t.Fatalf("Deserialize(StagedTx) error = %v", err)
	}
	if len(tx.TxOut) != 3 {
		t.Fatalf("TxOut count = %d, want 3 (dust + change + runestone)", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != btctx.DustSats {
		t.Errorf("TxOut[0].Value = %d, want %d (dust)", tx.TxOut[0].Value, btctx.DustSats)
	}
	if tx.TxOut[1].Value != 8500 {
		t.Errorf("TxOut[1].Value = %d, want 8500 (change)", tx.TxOut[1].Value)
	}
	if tx.TxOut[2].Value != 0 {
		t.Errorf("TxOut[2].Value = %d, want 0 (OP_RETURN runestone)", tx.TxOut[2].Value)
	}
	wantScript, err := btctx.Runestone{Edicts: []btctx.Edict{
		{ID: btctx.RuneID{Block: 840000, Tx: 1}, Amount: 400_000_000, Output: 0},
	}}.Script()
	if err != nil {
		t.Fatalf("Runestone.Script() error = %v", err)
	}
	if !bytes.Equal(tx.TxOut[2].PkScript, wantScript) {
		t.Errorf("runestone script = %x, want %x", tx.TxOut[2].PkScript, wantScript)
	}

	if len(fh.StagedInputsToSign) != 2 {
		t.Fatalf("StagedInputsToSign len = %d, want 2 (withdraw account + rune receiver)", len(fh.StagedInputsToSign))
	}
	if fh.StagedInputsToSign[0].Signer != withdrawAcc.Key {
		t.Errorf("StagedInputsToSign[0].Signer = %x, want withdrawAcc.Key", fh.StagedInputsToSign[0].Signer)
	}
	if fh.StagedInputsToSign[1].Index != 1 || fh.StagedInputsToSign[1].Signer != receiverAcc.Key {
		t.Errorf("StagedInputsToSign[1] = %+v, want {Index:1, Signer:receiverAcc.Key}", fh.StagedInputsToSign[1])
	}
}
