// Command hostsim is a local harness for the exchange program: it drives
// Dispatch the same way a real Arch/Solana-like runtime would, but backed by
// host.FakeHost and in-memory accounts built from byte seeds instead of a
// live blockchain. It exists so the program's instruction handlers can be
// exercised end to end (accounts, addresses, signatures-to-collect) without
// a validator or network connection.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/config"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/exchange"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/host"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/logging"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/models"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/validate"
	"github.com/funkybit-labs/chainring-contracts-sub000/internal/wallet"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostsim: load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostsim: setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	switch os.Args[1] {
	case "addresses":
		runAddresses(cfg, os.Args[2:])
	case "run":
		runInstruction(cfg, os.Args[2:])
	case "version":
		fmt.Println("hostsim dev")
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  hostsim addresses -mnemonic-file <path> -count <n>
  hostsim run -accounts <hex-seed,hex-seed,...> -payload <hex>
  hostsim version`)
}

// runAddresses derives count fixture Bitcoin addresses from a mnemonic file
// and writes a FixtureFile to stdout, so a caller can feed them into
// InitWalletBalances without hand-typing addresses.
func runAddresses(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("addresses", flag.ExitOnError)
	mnemonicFile := fs.String("mnemonic-file", cfg.FixtureMnemonicFile, "path to a file containing a BIP-39 mnemonic")
	count := fs.Int("count", 5, "number of fixture addresses to derive")
	fs.Parse(args)

	if *mnemonicFile == "" {
		fmt.Fprintln(os.Stderr, "hostsim: -mnemonic-file is required (or set EXCHANGE_FIXTURE_MNEMONIC_FILE)")
		os.Exit(1)
	}

	mnemonic, err := wallet.ReadMnemonicFromFile(*mnemonicFile)
	if err != nil {
		slog.Error("read mnemonic", "error", err)
		os.Exit(1)
	}
	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		slog.Error("derive seed", "error", err)
		os.Exit(1)
	}
	net := validate.NetworkParams(cfg.NetworkType())
	master, err := wallet.DeriveMasterKey(seed, net)
	if err != nil {
		slog.Error("derive master key", "error", err)
		os.Exit(1)
	}
	addrs, err := wallet.DeriveBTCAddresses(master, *count, net)
	if err != nil {
		slog.Error("derive addresses", "error", err)
		os.Exit(1)
	}

	fixture := models.FixtureFile{
		Network:     cfg.Network,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for i, a := range addrs {
		fixture.Wallets = append(fixture.Wallets, models.WalletFixture{Index: i, Address: a})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fixture); err != nil {
		slog.Error("encode fixture", "error", err)
		os.Exit(1)
	}
	slog.Info("derived fixture addresses", "count", len(addrs), "network", cfg.Network)
}

// runInstruction decodes a single hex-encoded instruction payload and
// dispatches it against a fresh five-account layout (program, withdraw
// lock, a bitcoin token, a rune token, a rune receiver), printing the
// resulting account state and any staged transaction as JSON. It is meant
// for exercising one instruction at a time against hand-built payloads, not
// for replaying a full session.
func runInstruction(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	payloadHex := fs.String("payload", "", "hex-encoded instruction payload (tag byte + Codable body)")
	accountKeys := fs.String("accounts", "01,02,03,04,05", "comma-separated hex byte seeds for the account pubkeys, in order")
	fs.Parse(args)

	if *payloadHex == "" {
		fmt.Fprintln(os.Stderr, "hostsim: -payload is required")
		os.Exit(1)
	}
	payload, err := hex.DecodeString(*payloadHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostsim: decode payload: %v\n", err)
		os.Exit(1)
	}

	accounts := buildAccounts(*accountKeys)
	h := host.NewFakeHost()

	dispatchErr := exchange.Dispatch(accounts, h, payload)

	result := runResult{
		Accounts: make([]accountDump, len(accounts)),
	}
	if dispatchErr != nil {
		result.Error = dispatchErr.Error()
	}
	for i, acc := range accounts {
		result.Accounts[i] = accountDump{
			Pubkey: models.EncodePubkey(acc.Key),
			Data:   hex.EncodeToString(acc.Data()),
		}
	}
	if h.StagedTx != nil {
		result.StagedTxHex = hex.EncodeToString(h.StagedTx)
		for _, its := range h.StagedInputsToSign {
			result.InputsToSign = append(result.InputsToSign, inputToSignDump{
				Index:  its.Index,
				Signer: models.EncodePubkey(its.Signer),
			})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error("encode result", "error", err)
		os.Exit(1)
	}
	if dispatchErr != nil {
		slog.Warn("dispatch returned an error", "error", dispatchErr, "network", cfg.Network)
		os.Exit(1)
	}
}

type runResult struct {
	Error        string            `json:"error,omitempty"`
	Accounts     []accountDump     `json:"accounts"`
	StagedTxHex  string            `json:"stagedTxHex,omitempty"`
	InputsToSign []inputToSignDump `json:"inputsToSign,omitempty"`
}

type accountDump struct {
	Pubkey string `json:"pubkey"`
	Data   string `json:"data"`
}

type inputToSignDump struct {
	Index  int    `json:"index"`
	Signer string `json:"signer"`
}

// buildAccounts parses the -accounts flag into a fixed set of writable,
// signer accounts with empty starting buffers, each keyed by a single byte
// seed. Real deployments key accounts by full 32-byte pubkeys; a single
// byte is enough to keep hostsim's accounts distinguishable.
func buildAccounts(keysCSV string) []*host.Account {
	var accounts []*host.Account
	start := 0
	for i := 0; i <= len(keysCSV); i++ {
		if i == len(keysCSV) || keysCSV[i] == ',' {
			seed := keysCSV[start:i]
			start = i + 1
			b, err := hex.DecodeString(seed)
			if err != nil || len(b) != 1 {
				continue
			}
			var key state.Pubkey
			key[0] = b[0]
			accounts = append(accounts, host.NewAccount(key, state.Pubkey{}, true, true, nil))
		}
	}
	return accounts
}
