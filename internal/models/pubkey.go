// Package models holds the JSON-serializable shapes the hostsim harness
// reads and writes: fixture accounts on disk, and the base58 display form
// of the 32-byte pubkeys those accounts are keyed by.
package models

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// EncodePubkey returns the base58 display form of a pubkey, the same
// convention Solana-style addresses use.
func EncodePubkey(p state.Pubkey) string {
	return base58.Encode(p[:])
}

// DecodePubkey parses a base58-encoded pubkey, as accepted from a fixture
// file or a command-line flag.
func DecodePubkey(s string) (state.Pubkey, error) {
	var p state.Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("decode pubkey %q: want %d bytes, got %d", s, len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}
