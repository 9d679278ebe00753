// Package state implements the Codable account layouts persisted by the
// exchange program: ProgramState, TokenState, WithdrawState and
// RuneReceiverState, plus the Balance and Event records they carry.
//
// Every account kind is decoded in full from its raw buffer, mutated in
// memory, and re-encoded in full back into the buffer (growing it through
// the host's Realloc callback when the encoding no longer fits). This
// mirrors the Codable contract the program was designed against: decoding
// and encoding are exact inverses. Handlers re-encode an account as soon as
// they are done with it, so an instruction that fails part-way may already
// have rewritten earlier accounts; the host discards every buffer write of
// an instruction that returns an error.
package state

import (
	"fmt"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
)

// MaxEvents bounds the number of Event records a Program account's ring
// buffer retains. Older events are dropped once the ring is full.
const MaxEvents = 100

// EventSize is the fixed wire size of a single Event record: the width of
// the widest variant (FailedWithdrawal), to which narrower variants are
// zero-padded.
const EventSize = 47

// FeeAddressIndex is the reserved wallet index that always carries the
// program's own fee balance within a Token account.
const FeeAddressIndex = 0

// MaxPermittedDataIncrease is the largest single growth step allowed when
// reallocating an account's backing buffer.
const MaxPermittedDataIncrease = 10 * 1024

// MaxPermittedDataLength is the hard ceiling on an account's backing buffer.
const MaxPermittedDataLength = 10 * 1024 * 1024

// AccountType tags the kind of state an account buffer holds. It is always
// the first byte of any account this program owns.
type AccountType uint8

const (
	AccountTypeUnknown      AccountType = 0
	AccountTypeProgram      AccountType = 1
	AccountTypeToken        AccountType = 2
	AccountTypeWithdraw     AccountType = 3
	AccountTypeRuneReceiver AccountType = 4
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeProgram:
		return "program"
	case AccountTypeToken:
		return "token"
	case AccountTypeWithdraw:
		return "withdraw"
	case AccountTypeRuneReceiver:
		return "rune_receiver"
	default:
		return "unknown"
	}
}

func decodeAccountType(r *codec.Reader) (AccountType, error) {
	v, err := r.ReadU8()
	if err != nil {
		return AccountTypeUnknown, err
	}
	switch AccountType(v) {
	case AccountTypeProgram, AccountTypeToken, AccountTypeWithdraw, AccountTypeRuneReceiver:
		return AccountType(v), nil
	default:
		return AccountTypeUnknown, nil
	}
}

// NetworkType is the Bitcoin network an exchange program instance is bound
// to. It is fixed at InitProgramState and never changes afterwards.
type NetworkType uint8

const (
	NetworkBitcoin NetworkType = 0
	NetworkTestnet NetworkType = 1
	NetworkSignet  NetworkType = 2
	NetworkRegtest NetworkType = 3
)

func (n NetworkType) String() string {
	switch n {
	case NetworkBitcoin:
		return "bitcoin"
	case NetworkTestnet:
		return "testnet"
	case NetworkSignet:
		return "signet"
	case NetworkRegtest:
		return "regtest"
	default:
		return "bitcoin"
	}
}

func (n NetworkType) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(n))
	return nil
}

// DecodeNetworkType decodes a NetworkType, defaulting to NetworkBitcoin for
// any byte value the program doesn't recognize.
func DecodeNetworkType(r *codec.Reader) (NetworkType, error) {
	return decodeNetworkType(r)
}

func decodeNetworkType(r *codec.Reader) (NetworkType, error) {
	v, err := r.ReadU8()
	if err != nil {
		return NetworkBitcoin, err
	}
	switch NetworkType(v) {
	case NetworkBitcoin, NetworkTestnet, NetworkSignet, NetworkRegtest:
		return NetworkType(v), nil
	default:
		return NetworkBitcoin, nil
	}
}

// InputUtxoType classifies a non-state-transition input of a withdrawal
// transaction so the processor knows which inputs require a signature.
type InputUtxoType uint8

const (
	InputUtxoBitcoin InputUtxoType = 0
	InputUtxoRune    InputUtxoType = 1
)

func (t InputUtxoType) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(t))
	return nil
}

// DecodeInputUtxoType decodes an InputUtxoType, failing on an unrecognized
// byte value since a withdrawal's input list must be unambiguous.
func DecodeInputUtxoType(r *codec.Reader) (InputUtxoType, error) {
	return decodeInputUtxoType(r)
}

func decodeInputUtxoType(r *codec.Reader) (InputUtxoType, error) {
	v, err := r.ReadU8()
	if err != nil {
		return InputUtxoBitcoin, err
	}
	switch InputUtxoType(v) {
	case InputUtxoBitcoin, InputUtxoRune:
		return InputUtxoType(v), nil
	default:
		return 0, fmt.Errorf("state: unknown input utxo type %d", v)
	}
}

// Pubkey is a 32-byte Arch/Solana-style account or program identifier.
type Pubkey [32]byte

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) Encode(w *codec.Writer) error {
	w.WriteBytes(p[:])
	return nil
}

func decodePubkey(r *codec.Reader) (Pubkey, error) {
	var p Pubkey
	b, err := r.ReadBytes(32)
	if err != nil {
		return p, err
	}
	copy(p[:], b)
	return p, nil
}

// Hash is a 32-byte SHA-256 digest, used to arm and check the settlement and
// withdrawal phase locks.
type Hash [32]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Encode(w *codec.Writer) error {
	w.WriteBytes(h[:])
	return nil
}

func decodeHash(r *codec.Reader) (Hash, error) {
	var h Hash
	b, err := r.ReadBytes(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// WalletLast4 is the last four bytes of a wallet's display address, resent
// by the caller on every balance reference to guard against index drift.
type WalletLast4 [4]byte

func (l WalletLast4) Encode(w *codec.Writer) error {
	w.WriteBytes(l[:])
	return nil
}

func decodeWalletLast4(r *codec.Reader) (WalletLast4, error) {
	var l WalletLast4
	b, err := r.ReadBytes(4)
	if err != nil {
		return l, err
	}
	copy(l[:], b)
	return l, nil
}

// AddressIndex locates a wallet's balance slot within a Token account's
// balances vector, with a last4 fingerprint to catch stale indices.
type AddressIndex struct {
	Index uint32
	Last4 WalletLast4
}

func (a AddressIndex) Encode(w *codec.Writer) error {
	w.WriteU32(a.Index)
	return a.Last4.Encode(w)
}

func DecodeAddressIndex(r *codec.Reader) (AddressIndex, error) {
	var a AddressIndex
	idx, err := r.ReadU32()
	if err != nil {
		return a, err
	}
	last4, err := decodeWalletLast4(r)
	if err != nil {
		return a, err
	}
	a.Index = idx
	a.Last4 = last4
	return a, nil
}

// Adjustment is a single deposit or settlement delta applied to a balance.
type Adjustment struct {
	AddressIndex AddressIndex
	Amount       uint64
}

func (a Adjustment) Encode(w *codec.Writer) error {
	if err := a.AddressIndex.Encode(w); err != nil {
		return err
	}
	w.WriteU64(a.Amount)
	return nil
}

func DecodeAdjustment(r *codec.Reader) (Adjustment, error) {
	var a Adjustment
	idx, err := DecodeAddressIndex(r)
	if err != nil {
		return a, err
	}
	amount, err := r.ReadU64()
	if err != nil {
		return a, err
	}
	a.AddressIndex = idx
	a.Amount = amount
	return a, nil
}

// Withdrawal is a single withdrawal request, carrying both the withdrawn
// amount and the fee charged against a (possibly different) fee balance.
type Withdrawal struct {
	AddressIndex    AddressIndex
	Amount          uint64
	FeeAddressIndex AddressIndex
	FeeAmount       uint64
}

func (w Withdrawal) Encode(wr *codec.Writer) error {
	if err := w.AddressIndex.Encode(wr); err != nil {
		return err
	}
	wr.WriteU64(w.Amount)
	if err := w.FeeAddressIndex.Encode(wr); err != nil {
		return err
	}
	wr.WriteU64(w.FeeAmount)
	return nil
}

func DecodeWithdrawal(r *codec.Reader) (Withdrawal, error) {
	var w Withdrawal
	idx, err := DecodeAddressIndex(r)
	if err != nil {
		return w, err
	}
	amount, err := r.ReadU64()
	if err != nil {
		return w, err
	}
	feeIdx, err := DecodeAddressIndex(r)
	if err != nil {
		return w, err
	}
	feeAmount, err := r.ReadU64()
	if err != nil {
		return w, err
	}
	w.AddressIndex = idx
	w.Amount = amount
	w.FeeAddressIndex = feeIdx
	w.FeeAmount = feeAmount
	return w, nil
}

// Balance is a single wallet's entry in a Token account's balances vector.
// Address is left-justified and zero-padded to BalanceAddressSize bytes.
const BalanceAddressSize = 92

type Balance struct {
	Address string
	Amount  uint64
}

func (b Balance) Encode(w *codec.Writer) error {
	if err := w.WritePaddedString(b.Address, BalanceAddressSize); err != nil {
		return err
	}
	w.WriteU64(b.Amount)
	return nil
}

func DecodeBalance(r *codec.Reader) (Balance, error) {
	var b Balance
	addr, err := r.ReadPaddedString(BalanceAddressSize)
	if err != nil {
		return b, err
	}
	amount, err := r.ReadU64()
	if err != nil {
		return b, err
	}
	b.Address = addr
	b.Amount = amount
	return b, nil
}
