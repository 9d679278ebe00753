package config

// Logging
const (
	LogFilePattern = "exchange-%s-%s.log" // date, level
	LogMaxAgeDays  = 30
)

// Fixture wallet derivation (hostsim only)
const (
	BIP84Purpose = 84 // BIP-84 purpose for Native SegWit (bech32)
	BTCCoinType  = 0
)
