package config

import (
	"errors"
	"testing"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

func TestValidate_ValidNetworks(t *testing.T) {
	for _, n := range []string{"bitcoin", "testnet", "signet", "regtest"} {
		t.Run(n, func(t *testing.T) {
			cfg := &Config{Network: n, AccountsFile: "./accounts.json"}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []string{"", "mainnet", "Regtest", "devnet"}
	for _, n := range tests {
		t.Run(n, func(t *testing.T) {
			cfg := &Config{Network: n, AccountsFile: "./accounts.json"}
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig for network=%q", err, n)
			}
		})
	}
}

func TestValidate_EmptyAccountsFile(t *testing.T) {
	cfg := &Config{Network: "regtest", AccountsFile: ""}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig for empty AccountsFile", err)
	}
}

func TestConfig_NetworkType(t *testing.T) {
	tests := []struct {
		network string
		want    state.NetworkType
	}{
		{"bitcoin", state.NetworkBitcoin},
		{"testnet", state.NetworkTestnet},
		{"signet", state.NetworkSignet},
		{"regtest", state.NetworkRegtest},
	}
	for _, tt := range tests {
		cfg := &Config{Network: tt.network}
		if got := cfg.NetworkType(); got != tt.want {
			t.Errorf("NetworkType() for %q = %v, want %v", tt.network, got, tt.want)
		}
	}
}
