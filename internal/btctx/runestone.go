// This file hand-rolls the minimal rune-transfer encoding the exchange
// program needs to move rune balances out in a withdrawal transaction: a
// LEB128 varint codec and a flat Runestone/Edict payload, framed as an
// OP_RETURN output. No published Go module implements the ordinals
// Runestone wire format, so this is a deliberately narrow subset built
// directly against the protocol's varint/edict shape rather than a full
// reimplementation of the ord reference encoder.
package btctx

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// runestoneProtocolTag is the OP_13 data-carrier tag the ord protocol scans
// OP_RETURN outputs for.
const runestoneProtocolTag = txscript.OP_13

// RuneID identifies a rune by the block it etched in and its index within
// that block's transactions.
type RuneID struct {
	Block uint64
	Tx    uint32
}

// Edict moves amount of a rune to the transaction output at Output.
type Edict struct {
	ID     RuneID
	Amount uint64
	Output uint32
}

// Runestone is the full set of edicts carried by one OP_RETURN output.
type Runestone struct {
	Edicts []Edict
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func getUvarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7F) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return v, len(b)
}

// Encode serializes the runestone body as a flat sequence of LEB128
// varints: edict count, then block/tx/amount/output for each edict in turn.
func (r Runestone) Encode() []byte {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(r.Edicts)))
	for _, e := range r.Edicts {
		putUvarint(&buf, e.ID.Block)
		putUvarint(&buf, uint64(e.ID.Tx))
		putUvarint(&buf, e.Amount)
		putUvarint(&buf, uint64(e.Output))
	}
	return buf.Bytes()
}

// DecodeRunestone parses the payload Encode produced.
func DecodeRunestone(payload []byte) (Runestone, error) {
	count, n := getUvarint(payload)
	payload = payload[n:]
	var r Runestone
	for i := uint64(0); i < count; i++ {
		var e Edict
		block, n := getUvarint(payload)
		payload = payload[n:]
		tx, n := getUvarint(payload)
		payload = payload[n:]
		amount, n := getUvarint(payload)
		payload = payload[n:]
		output, n := getUvarint(payload)
		payload = payload[n:]
		e.ID = RuneID{Block: block, Tx: uint32(tx)}
		e.Amount = amount
		e.Output = uint32(output)
		r.Edicts = append(r.Edicts, e)
	}
	return r, nil
}

// Script builds the OP_RETURN scriptPubkey carrying this runestone.
func (r Runestone) Script() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddOp(runestoneProtocolTag).
		AddData(r.Encode()).
		Script()
}
