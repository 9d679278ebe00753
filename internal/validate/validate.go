// Package validate implements the program's account and address validation
// rules: account ownership/writability checks, network-aware Bitcoin
// address decoding, and the wallet-last4 index-integrity check every
// balance reference must pass before a handler trusts the index a caller
// sent it.
package validate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/host"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// NetworkParams maps a persisted NetworkType onto the btcsuite chain params
// used to decode and validate addresses against it.
func NetworkParams(n state.NetworkType) *chaincfg.Params {
	switch n {
	case state.NetworkTestnet:
		return &chaincfg.TestNet3Params
	case state.NetworkSignet:
		return &chaincfg.SigNetParams
	case state.NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// ValidateAccount checks that acc is present and meets the signer/writable
// requirements a handler needs before it trusts any state decoded from it.
// It is called on every account a handler touches, mirroring the signer and
// writable checks the original program ran at the top of every instruction.
func ValidateAccount(acc *host.Account, requireSigner, requireWritable bool) error {
	if acc == nil {
		return state.ErrMissingAccount
	}
	if requireSigner && !acc.IsSigner {
		return state.ErrInvalidSigner
	}
	if requireWritable && !acc.IsWritable {
		return state.ErrNotWritable
	}
	return nil
}

// ValidateBackref confirms a Token, Withdraw or RuneReceiver account's
// embedded ProgramStateAccount field names the Program account passed as
// account 0. Every such account records this back-reference at Init time;
// checking it on every later touch is what stops an account that belongs to
// a different Program account from being accepted.
func ValidateBackref(got, want state.Pubkey) error {
	if got != want {
		return state.ErrWrongOwner
	}
	return nil
}

// ValidateBitcoinAddress decodes addr and confirms it belongs to network.
// This same check is applied both when InitWalletBalances onboards an
// address into a balances vector and when a withdrawal reads one back out
// of it (GetValidatedIndexWithdraw); DepositBatch references existing rows
// by index and validates no address.
func ValidateBitcoinAddress(addr string, network state.NetworkType) (btcutil.Address, error) {
	params := NetworkParams(network)
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidAddressNetwork, err)
	}
	if !decoded.IsForNet(params) {
		return nil, state.ErrInvalidAddressNetwork
	}
	return decoded, nil
}

// LastFour returns the last four bytes of address, used as the
// index-integrity fingerprint clients must resend on every balance
// reference. Addresses shorter than four bytes are zero-padded on the left.
func LastFour(address string) state.WalletLast4 {
	var l state.WalletLast4
	b := []byte(address)
	if len(b) >= 4 {
		copy(l[:], b[len(b)-4:])
		return l
	}
	copy(l[4-len(b):], b)
	return l
}

// GetValidatedIndex resolves ai against balances, failing fatally if the
// index is out of range or its last4 fingerprint no longer matches the
// address stored at that slot — a sign the caller's view of the balances
// vector has drifted out of sync with the account.
func GetValidatedIndex(ai state.AddressIndex, balances []state.Balance) (int, error) {
	idx := int(ai.Index)
	if idx < 0 || idx >= len(balances) {
		return 0, state.ErrInvalidIndex
	}
	if LastFour(balances[idx].Address) != ai.Last4 {
		return 0, state.ErrWalletLast4Mismatch
	}
	return idx, nil
}

// GetValidatedIndexWithdraw resolves ai exactly like GetValidatedIndex, and
// additionally confirms the resolved address still belongs to network. A
// withdrawal destination is read back out of the balances vector and placed
// directly into a transaction output, so a network mismatch here would
// produce an unspendable or cross-network output.
func GetValidatedIndexWithdraw(ai state.AddressIndex, balances []state.Balance, network state.NetworkType) (int, error) {
	idx, err := GetValidatedIndex(ai, balances)
	if err != nil {
		return 0, err
	}
	if _, err := ValidateBitcoinAddress(balances[idx].Address, network); err != nil {
		return 0, state.ErrInvalidAddressNetwork
	}
	return idx, nil
}
