package state

import (
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
)

// EventTag discriminates the two soft-failure records the program can emit.
type EventTag uint8

const (
	EventFailedSettlement EventTag = 0
	EventFailedWithdrawal EventTag = 1
)

// Event is a soft-failure record appended to a Program account's bounded
// ring buffer. A handler that hits a per-row failure (insufficient balance,
// a bad address) records an Event and moves on to the next row instead of
// failing the whole batch.
//
// Every Event is encoded zero-padded to exactly EventSize bytes regardless
// of variant, so the ring can be indexed without re-parsing every entry.
type Event struct {
	Tag EventTag

	// Populated for EventFailedSettlement and EventFailedWithdrawal.
	AccountIndex    uint8
	AddressIndex    uint32
	RequestedAmount uint64
	Balance         uint64
	ErrorCode       uint32

	// Populated only for EventFailedWithdrawal.
	FeeAccountIndex  uint8
	FeeAddressIndex  uint32
	FeeAmount        uint64
	BalanceInFeeToken uint64
}

// NewFailedSettlement builds a soft-failure record for a settlement row that
// could not be applied against the account's balance.
func NewFailedSettlement(accountIndex uint8, addressIndex uint32, requested, balance uint64, errorCode uint32) Event {
	return Event{
		Tag:             EventFailedSettlement,
		AccountIndex:    accountIndex,
		AddressIndex:    addressIndex,
		RequestedAmount: requested,
		Balance:         balance,
		ErrorCode:       errorCode,
	}
}

// NewFailedWithdrawal builds a soft-failure record for a withdrawal row that
// could not be applied, carrying both the withdrawn-token and fee-token
// balances observed at the time of failure.
func NewFailedWithdrawal(accountIndex uint8, addressIndex uint32, feeAccountIndex uint8, feeAddressIndex uint32, requested, feeAmount, balance, balanceInFeeToken uint64, errorCode uint32) Event {
	return Event{
		Tag:               EventFailedWithdrawal,
		AccountIndex:      accountIndex,
		AddressIndex:      addressIndex,
		FeeAccountIndex:   feeAccountIndex,
		FeeAddressIndex:   feeAddressIndex,
		RequestedAmount:   requested,
		FeeAmount:         feeAmount,
		Balance:           balance,
		BalanceInFeeToken: balanceInFeeToken,
		ErrorCode:         errorCode,
	}
}

func (e Event) Encode(w *codec.Writer) error {
	start := w.Len()
	w.WriteU8(uint8(e.Tag))
	w.WriteU8(e.AccountIndex)
	w.WriteU32(e.AddressIndex)
	switch e.Tag {
	case EventFailedWithdrawal:
		w.WriteU8(e.FeeAccountIndex)
		w.WriteU32(e.FeeAddressIndex)
		w.WriteU64(e.RequestedAmount)
		w.WriteU64(e.FeeAmount)
		w.WriteU64(e.Balance)
		w.WriteU64(e.BalanceInFeeToken)
	default:
		w.WriteU64(e.RequestedAmount)
		w.WriteU64(e.Balance)
	}
	w.WriteU32(e.ErrorCode)

	written := w.Len() - start
	if written > EventSize {
		return ErrValueTooLarge
	}
	w.WritePadding(EventSize - written)
	return nil
}

func DecodeEvent(r *codec.Reader) (Event, error) {
	var e Event
	body, err := r.ReadBytes(EventSize)
	if err != nil {
		return e, err
	}
	br := codec.NewReader(body)

	tag, err := br.ReadU8()
	if err != nil {
		return e, err
	}
	e.Tag = EventTag(tag)

	accountIndex, err := br.ReadU8()
	if err != nil {
		return e, err
	}
	e.AccountIndex = accountIndex

	addressIndex, err := br.ReadU32()
	if err != nil {
		return e, err
	}
	e.AddressIndex = addressIndex

	switch e.Tag {
	case EventFailedWithdrawal:
		if e.FeeAccountIndex, err = br.ReadU8(); err != nil {
			return e, err
		}
		if e.FeeAddressIndex, err = br.ReadU32(); err != nil {
			return e, err
		}
		if e.RequestedAmount, err = br.ReadU64(); err != nil {
			return e, err
		}
		if e.FeeAmount, err = br.ReadU64(); err != nil {
			return e, err
		}
		if e.Balance, err = br.ReadU64(); err != nil {
			return e, err
		}
		if e.BalanceInFeeToken, err = br.ReadU64(); err != nil {
			return e, err
		}
	default:
		if e.RequestedAmount, err = br.ReadU64(); err != nil {
			return e, err
		}
		if e.Balance, err = br.ReadU64(); err != nil {
			return e, err
		}
	}

	errorCode, err := br.ReadU32()
	if err != nil {
		return e, err
	}
	e.ErrorCode = errorCode
	return e, nil
}
