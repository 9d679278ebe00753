package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/funkybit-labs/chainring-contracts-sub000/internal/state"
)

// Config holds the hostsim harness's configuration, loaded from environment
// variables (and an optional .env file).
type Config struct {
	AccountsFile        string `envconfig:"EXCHANGE_ACCOUNTS_FILE" default:"./data/accounts.json"`
	Network             string `envconfig:"EXCHANGE_NETWORK" default:"regtest"`
	LogLevel            string `envconfig:"EXCHANGE_LOG_LEVEL" default:"info"`
	LogDir              string `envconfig:"EXCHANGE_LOG_DIR" default:"./logs"`
	FixtureMnemonicFile string `envconfig:"EXCHANGE_FIXTURE_MNEMONIC_FILE"`
}

// Load reads configuration from a .env file (if present) then from
// environment variables. Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.Network {
	case "bitcoin", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("%w: network must be one of bitcoin, testnet, signet, regtest, got %q", ErrInvalidConfig, c.Network)
	}
	if c.AccountsFile == "" {
		return fmt.Errorf("%w: accounts file path must not be empty", ErrInvalidConfig)
	}
	return nil
}

// NetworkType resolves the configured network name to its wire value.
// Validate must have already confirmed c.Network is one of the known names.
func (c *Config) NetworkType() state.NetworkType {
	switch c.Network {
	case "testnet":
		return state.NetworkTestnet
	case "signet":
		return state.NetworkSignet
	case "regtest":
		return state.NetworkRegtest
	default:
		return state.NetworkBitcoin
	}
}
