package state

import (
	"testing"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
)

func TestAddressIndex_RoundTrip(t *testing.T) {
	a := AddressIndex{Index: 42, Last4: WalletLast4{0xde, 0xad, 0xbe, 0xef}}
	data := encode(t, a)
	got, err := DecodeAddressIndex(codec.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeAddressIndex() error = %v", err)
	}
	if got != a {
		t.Errorf("round trip = %+v, want %+v", got, a)
	}
}

func TestAdjustment_RoundTrip(t *testing.T) {
	a := Adjustment{AddressIndex: AddressIndex{Index: 1, Last4: WalletLast4{1, 2, 3, 4}}, Amount: 99}
	data := encode(t, a)
	got, err := DecodeAdjustment(codec.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeAdjustment() error = %v", err)
	}
	if got != a {
		t.Errorf("round trip = %+v, want %+v", got, a)
	}
}

func TestWithdrawal_RoundTrip(t *testing.T) {
	w := Withdrawal{
		AddressIndex:    AddressIndex{Index: 5, Last4: WalletLast4{9, 9, 9, 9}},
		Amount:          1000,
		FeeAddressIndex: AddressIndex{Index: FeeAddressIndex},
		FeeAmount:       10,
	}
	data := encode(t, w)
	got, err := DecodeWithdrawal(codec.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWithdrawal() error = %v", err)
	}
	if got != w {
		t.Errorf("round trip = %+v, want %+v", got, w)
	}
}

func TestNetworkType_UnknownDefaultsToBitcoin(t *testing.T) {
	r := codec.NewReader([]byte{0xFF})
	got, err := decodeNetworkType(r)
	if err != nil {
		t.Fatalf("decodeNetworkType() error = %v", err)
	}
	if got != NetworkBitcoin {
		t.Errorf("decodeNetworkType(0xFF) = %v, want NetworkBitcoin", got)
	}
}

func TestInputUtxoType_RoundTrip(t *testing.T) {
	for _, ut := range []InputUtxoType{InputUtxoBitcoin, InputUtxoRune} {
		w := codec.NewWriter()
		if err := ut.Encode(w); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		got, err := decodeInputUtxoType(codec.NewReader(w.Bytes()))
		if err != nil {
			t.Fatalf("decodeInputUtxoType() error = %v", err)
		}
		if got != ut {
			t.Errorf("round trip = %v, want %v", got, ut)
		}
	}
}
