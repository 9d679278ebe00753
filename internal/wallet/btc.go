// Package wallet derives the fixture Bitcoin addresses the hostsim harness
// uses to populate a local accounts file: the exchange program itself never
// holds private keys or derives addresses, so this package exists purely to
// give the harness realistic-looking wallet addresses to onboard instead of
// a single address string typed out by hand.
package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/config"
)

// DeriveBTCAddress derives a Native SegWit (bech32) address at the given
// index, following BIP-84: m/84'/coin'/0'/0/N. Mainnet uses coin type 0;
// every other network (testnet, signet, regtest) shares coin type 1, the
// same convention wallets use for any non-mainnet chain.
func DeriveBTCAddress(masterKey *hdkeychain.ExtendedKey, index uint32, net *chaincfg.Params) (string, error) {
	coinType := uint32(config.BTCCoinType)
	if net != &chaincfg.MainNetParams {
		coinType = 1
	}

	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP84Purpose))
	if err != nil {
		return "", fmt.Errorf("derive purpose key: %w", err)
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return "", fmt.Errorf("derive coin key: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return "", fmt.Errorf("derive account key: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return "", fmt.Errorf("derive change key: %w", err)
	}
	child, err := change.Derive(index)
	if err != nil {
		return "", fmt.Errorf("derive child key at index %d: %w", index, err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("get public key at index %d: %w", index, err)
	}

	witnessProg := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, net)
	if err != nil {
		return "", fmt.Errorf("create bech32 address at index %d: %w", index, err)
	}

	return addr.EncodeAddress(), nil
}

// DeriveBTCAddresses derives count consecutive fixture addresses starting at
// index 0.
func DeriveBTCAddresses(masterKey *hdkeychain.ExtendedKey, count int, net *chaincfg.Params) ([]string, error) {
	addrs := make([]string, count)
	for i := 0; i < count; i++ {
		addr, err := DeriveBTCAddress(masterKey, uint32(i), net)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}
