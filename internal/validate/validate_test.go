package validate

import (
	"errors"
	"testing"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/host"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

func TestValidateAccount(t *testing.T) {
	owner := state.Pubkey{1}
	cases := []struct {
		name     string
		acc      *host.Account
		signer   bool
		writable bool
		wantErr  error
	}{
		{"missing", nil, false, false, state.ErrMissingAccount},
		{"not signer", host.NewAccount(state.Pubkey{9}, owner, false, true, nil), true, false, state.ErrInvalidSigner},
		{"not writable", host.NewAccount(state.Pubkey{9}, owner, true, false, nil), false, true, state.ErrNotWritable},
		{"ok", host.NewAccount(state.Pubkey{9}, owner, true, true, nil), true, true, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateAccount(c.acc, c.signer, c.writable)
			if c.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateAccount() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, c.wantErr) {
				t.Errorf("ValidateAccount() error = %v, want %v", err, c.wantErr)
			}
		})
	}
}

func TestValidateBackref(t *testing.T) {
	programKey := state.Pubkey{7}
	if err := ValidateBackref(programKey, programKey); err != nil {
		t.Errorf("ValidateBackref() error = %v, want nil", err)
	}
	if err := ValidateBackref(state.Pubkey{8}, programKey); !errors.Is(err, state.ErrWrongOwner) {
		t.Errorf("ValidateBackref() error = %v, want ErrWrongOwner", err)
	}
}

func TestValidateBitcoinAddress_Regtest(t *testing.T) {
	addr := "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"
	if _, err := ValidateBitcoinAddress(addr, state.NetworkRegtest); err != nil {
		t.Errorf("ValidateBitcoinAddress() error = %v, want nil", err)
	}
}

func TestValidateBitcoinAddress_WrongNetwork(t *testing.T) {
	addr := "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"
	if _, err := ValidateBitcoinAddress(addr, state.NetworkBitcoin); err == nil {
		t.Error("expected error decoding a regtest address against mainnet params")
	}
}

func TestValidateBitcoinAddress_Malformed(t *testing.T) {
	if _, err := ValidateBitcoinAddress("not-an-address", state.NetworkRegtest); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestLastFour(t *testing.T) {
	cases := map[string]state.WalletLast4{
		"bcrt1qabcwxyz": {'w', 'x', 'y', 'z'},
		"ab":            {0, 0, 'a', 'b'},
		"":              {0, 0, 0, 0},
	}
	for addr, want := range cases {
		if got := LastFour(addr); got != want {
			t.Errorf("LastFour(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestGetValidatedIndex(t *testing.T) {
	balances := []state.Balance{{Address: "bcrt1qabcwxyz", Amount: 10}}

	t.Run("ok", func(t *testing.T) {
		ai := state.AddressIndex{Index: 0, Last4: LastFour("bcrt1qabcwxyz")}
		idx, err := GetValidatedIndex(ai, balances)
		if err != nil || idx != 0 {
			t.Errorf("GetValidatedIndex() = %d, %v, want 0, nil", idx, err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		ai := state.AddressIndex{Index: 5}
		if _, err := GetValidatedIndex(ai, balances); !errors.Is(err, state.ErrInvalidIndex) {
			t.Errorf("GetValidatedIndex() error = %v, want ErrInvalidIndex", err)
		}
	})

	t.Run("last4 mismatch", func(t *testing.T) {
		ai := state.AddressIndex{Index: 0, Last4: state.WalletLast4{0, 0, 0, 0}}
		if _, err := GetValidatedIndex(ai, balances); !errors.Is(err, state.ErrWalletLast4Mismatch) {
			t.Errorf("GetValidatedIndex() error = %v, want ErrWalletLast4Mismatch", err)
		}
	})
}

func TestGetValidatedIndexWithdraw_NetworkMismatch(t *testing.T) {
	addr := "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"
	balances := []state.Balance{{Address: addr, Amount: 10}}
	ai := state.AddressIndex{Index: 0, Last4: LastFour(addr)}
	if _, err := GetValidatedIndexWithdraw(ai, balances, state.NetworkBitcoin); !errors.Is(err, state.ErrInvalidAddressNetwork) {
		t.Errorf("GetValidatedIndexWithdraw() error = %v, want ErrInvalidAddressNetwork", err)
	}
}
