// Package btctx assembles the Bitcoin transaction a withdrawal batch stages
// for the host to sign and broadcast: one output per withdrawal (a direct
// value output for bitcoin, a dust output plus a rune edict otherwise), a
// change output back to the program, and a single OP_RETURN runestone
// output carrying every edict. Output construction leans on btcsuite's
// address decoding, script building and wire types, the same dependency
// surface the BTC consolidation transaction builder in this codebase's
// ancestor already exercised for wallet-sweep transactions.
package btctx

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DustSats is the fixed value given to a rune withdrawal's carrier output;
// the rune amount, not the sat amount, is what the recipient actually
// withdraws.
const DustSats = 547

// WithdrawalOutput is one resolved withdrawal ready to be placed into a
// transaction: a destination address and either a plain bitcoin amount or a
// rune transfer.
type WithdrawalOutput struct {
	Address string
	Amount  uint64 // satoshis for a bitcoin withdrawal, ignored for a rune withdrawal
	RuneID  *RuneID
}

// BuildWithdrawOutputs appends one TxOut per withdrawal, a change output
// back to changeAddress (whenever changeAddress is set or changeAmount is
// non-zero), and — if any rune withdrawal was present — a trailing
// OP_RETURN runestone output, onto tx, in that order. It returns
// ErrNoOutputs if tx ends up with no outputs at all.
func BuildWithdrawOutputs(tx *wire.MsgTx, net *chaincfg.Params, withdrawals []WithdrawalOutput, changeAddress string, changeAmount uint64) error {
	runeTotals := make(map[RuneID]uint64)

	for _, w := range withdrawals {
		addr, err := btcutil.DecodeAddress(w.Address, net)
		if err != nil {
			return fmt.Errorf("btctx: decode withdrawal address %q: %w", w.Address, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return fmt.Errorf("btctx: build script for %q: %w", w.Address, err)
		}

		if w.RuneID == nil {
			tx.AddTxOut(wire.NewTxOut(int64(w.Amount), script))
			continue
		}

		outputIndex := uint32(len(tx.TxOut))
		tx.AddTxOut(wire.NewTxOut(DustSats, script))
		runeTotals[*w.RuneID] += w.Amount
		_ = outputIndex
	}

	if changeAmount > 0 || changeAddress != "" {
		addr, err := btcutil.DecodeAddress(changeAddress, net)
		if err != nil {
			return fmt.Errorf("btctx: decode change address %q: %w", changeAddress, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return fmt.Errorf("btctx: build change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(changeAmount), script))
	}

	if len(tx.TxOut) == 0 {
		return ErrNoOutputs
	}

	if len(runeTotals) == 0 {
		return nil
	}

	edicts, err := buildEdicts(tx, withdrawals, runeTotals)
	if err != nil {
		return err
	}

	runeScript, err := Runestone{Edicts: edicts}.Script()
	if err != nil {
		return fmt.Errorf("btctx: build runestone script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, runeScript))
	return nil
}

// buildEdicts walks withdrawals a second time, assigning one edict per rune
// withdrawal whose output is that withdrawal's position in withdrawals
// (counted from 0, not offset by any outputs tx held beforehand). Any part
// of a rune id's runeTotals entry not covered by those edicts gets one more
// edict to output 0; BuildWithdrawOutputs sums runeTotals from the same
// withdrawals, so that remainder is always zero there.
func buildEdicts(tx *wire.MsgTx, withdrawals []WithdrawalOutput, runeTotals map[RuneID]uint64) ([]Edict, error) {
	var edicts []Edict
	outputIdx := uint32(0)
	remaining := make(map[RuneID]uint64, len(runeTotals))
	for id, total := range runeTotals {
		remaining[id] = total
	}

	for _, w := range withdrawals {
		if w.RuneID == nil {
			outputIdx++
			continue
		}
		edicts = append(edicts, Edict{ID: *w.RuneID, Amount: w.Amount, Output: outputIdx})
		remaining[*w.RuneID] -= w.Amount
		outputIdx++
	}

	for id, leftover := range remaining {
		if leftover == 0 {
			continue
		}
		edicts = append(edicts, Edict{ID: id, Amount: leftover, Output: 0})
	}

	return edicts, nil
}

// ErrNoOutputs is returned when a withdrawal batch produced no outputs at
// all — an empty batch should never reach transaction assembly.
var ErrNoOutputs = fmt.Errorf("btctx: transaction has no outputs")
