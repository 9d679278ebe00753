package state

import (
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/codec"
)

// StateVersion is written into every account's version field. The program
// never needs to branch on it today, but carrying it lets a future program
// upgrade recognize accounts written by an older build.
const StateVersion = 1

// TokenIDSize is the fixed width of a TokenState's token_id field.
const TokenIDSize = 32

// AddressFieldSize is the fixed width of ProgramState's fee/change address
// fields, matching Balance's address field.
const AddressFieldSize = BalanceAddressSize

// ProgramState is the single per-deployment account recording the fee
// account, the program's own change address, the network it is bound to,
// the current settlement phase lock, and the soft-failure event ring.
type ProgramState struct {
	Version               uint32
	WithdrawAccount       Pubkey
	FeeAccountAddress     string
	ProgramChangeAddress  string
	Network               NetworkType
	SettlementBatchHash   Hash
	LastSettlementBatchHash Hash
	Events                []Event
}

func (s *ProgramState) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(AccountTypeProgram))
	w.WriteU32(s.Version)
	if err := s.WithdrawAccount.Encode(w); err != nil {
		return err
	}
	if err := w.WritePaddedString(s.FeeAccountAddress, AddressFieldSize); err != nil {
		return err
	}
	if err := w.WritePaddedString(s.ProgramChangeAddress, AddressFieldSize); err != nil {
		return err
	}
	if err := s.Network.Encode(w); err != nil {
		return err
	}
	if err := s.SettlementBatchHash.Encode(w); err != nil {
		return err
	}
	if err := s.LastSettlementBatchHash.Encode(w); err != nil {
		return err
	}
	return codec.WriteVec(w, s.Events, func(w *codec.Writer, e Event) error {
		return e.Encode(w)
	})
}

// DecodeProgramState parses a Program account's full buffer.
func DecodeProgramState(data []byte) (*ProgramState, error) {
	r := codec.NewReader(data)
	kind, err := decodeAccountType(r)
	if err != nil {
		return nil, err
	}
	if kind != AccountTypeProgram {
		return nil, ErrWrongAccountType
	}
	s := &ProgramState{}
	if s.Version, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if s.WithdrawAccount, err = decodePubkey(r); err != nil {
		return nil, err
	}
	if s.FeeAccountAddress, err = r.ReadPaddedString(AddressFieldSize); err != nil {
		return nil, err
	}
	if s.ProgramChangeAddress, err = r.ReadPaddedString(AddressFieldSize); err != nil {
		return nil, err
	}
	if s.Network, err = decodeNetworkType(r); err != nil {
		return nil, err
	}
	if s.SettlementBatchHash, err = decodeHash(r); err != nil {
		return nil, err
	}
	if s.LastSettlementBatchHash, err = decodeHash(r); err != nil {
		return nil, err
	}
	events, err := codec.ReadVec(r, DecodeEvent)
	if err != nil {
		return nil, err
	}
	s.Events = events
	return s, nil
}

// PushEvent appends a soft-failure record to the ring, dropping the oldest
// entry once the ring has reached MaxEvents.
func (s *ProgramState) PushEvent(e Event) {
	s.Events = append(s.Events, e)
	if len(s.Events) > MaxEvents {
		s.Events = s.Events[len(s.Events)-MaxEvents:]
	}
}

// SettlementInProgress reports whether a PrepareBatchSettlement is armed and
// awaiting SubmitBatchSettlement or RollbackBatchSettlement.
func (s *ProgramState) SettlementInProgress() bool {
	return !s.SettlementBatchHash.IsZero()
}

// TokenState tracks one token's wallet balances within a given program.
type TokenState struct {
	Version             uint32
	ProgramStateAccount Pubkey
	TokenID             string
	Balances            []Balance
}

func (s *TokenState) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(AccountTypeToken))
	w.WriteU32(s.Version)
	if err := s.ProgramStateAccount.Encode(w); err != nil {
		return err
	}
	if err := w.WritePaddedString(s.TokenID, TokenIDSize); err != nil {
		return err
	}
	return codec.WriteVec(w, s.Balances, func(w *codec.Writer, b Balance) error {
		return b.Encode(w)
	})
}

// DecodeTokenState parses a Token account's full buffer.
func DecodeTokenState(data []byte) (*TokenState, error) {
	r := codec.NewReader(data)
	kind, err := decodeAccountType(r)
	if err != nil {
		return nil, err
	}
	if kind != AccountTypeToken {
		return nil, ErrWrongAccountType
	}
	s := &TokenState{}
	if s.Version, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if s.ProgramStateAccount, err = decodePubkey(r); err != nil {
		return nil, err
	}
	if s.TokenID, err = r.ReadPaddedString(TokenIDSize); err != nil {
		return nil, err
	}
	balances, err := codec.ReadVec(r, DecodeBalance)
	if err != nil {
		return nil, err
	}
	s.Balances = balances
	return s, nil
}

// AppendBalances appends one zero-amount Balance per address, returning the
// index the first of them landed at. Used by InitWalletBalances to onboard a
// batch of wallet addresses onto a token account; existing slots are never
// touched, so AddressIndex values handed out by earlier calls stay valid.
func (s *TokenState) AppendBalances(addresses []string) int {
	start := len(s.Balances)
	for _, addr := range addresses {
		s.Balances = append(s.Balances, Balance{Address: addr})
	}
	return start
}

// WithdrawState is the single per-deployment account arming the withdrawal
// phase lock, analogous to ProgramState.SettlementBatchHash but isolated
// onto its own account so withdrawal and settlement phases never collide.
type WithdrawState struct {
	Version             uint32
	ProgramStateAccount Pubkey
	BatchHash           Hash
}

func (s *WithdrawState) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(AccountTypeWithdraw))
	w.WriteU32(s.Version)
	if err := s.ProgramStateAccount.Encode(w); err != nil {
		return err
	}
	return s.BatchHash.Encode(w)
}

// DecodeWithdrawState parses a Withdraw account's full buffer.
func DecodeWithdrawState(data []byte) (*WithdrawState, error) {
	r := codec.NewReader(data)
	kind, err := decodeAccountType(r)
	if err != nil {
		return nil, err
	}
	if kind != AccountTypeWithdraw {
		return nil, ErrWrongAccountType
	}
	s := &WithdrawState{}
	if s.Version, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if s.ProgramStateAccount, err = decodePubkey(r); err != nil {
		return nil, err
	}
	if s.BatchHash, err = decodeHash(r); err != nil {
		return nil, err
	}
	return s, nil
}

// WithdrawInProgress reports whether a PrepareBatchWithdraw is armed and
// awaiting SubmitBatchWithdraw or RollbackBatchWithdraw.
func (s *WithdrawState) WithdrawInProgress() bool {
	return !s.BatchHash.IsZero()
}

// RuneReceiverState marks an account as the program's designated holder of
// rune UTXOs, so withdrawal batches that move runes know which account to
// consume as input 1.
type RuneReceiverState struct {
	Version             uint32
	ProgramStateAccount Pubkey
}

func (s *RuneReceiverState) Encode(w *codec.Writer) error {
	w.WriteU8(uint8(AccountTypeRuneReceiver))
	w.WriteU32(s.Version)
	return s.ProgramStateAccount.Encode(w)
}

// DecodeRuneReceiverState parses a RuneReceiver account's full buffer.
func DecodeRuneReceiverState(data []byte) (*RuneReceiverState, error) {
	r := codec.NewReader(data)
	kind, err := decodeAccountType(r)
	if err != nil {
		return nil, err
	}
	if kind != AccountTypeRuneReceiver {
		return nil, ErrWrongAccountType
	}
	s := &RuneReceiverState{}
	if s.Version, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if s.ProgramStateAccount, err = decodePubkey(r); err != nil {
		return nil, err
	}
	return s, nil
}
