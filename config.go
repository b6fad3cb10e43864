package txengine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable behavior of the engine. Zero values are replaced
// with defaults by Normalize.
type Config struct {
	// SignTimeout bounds the external signer call. It is capped by
	// AutoLockInterval when one is set: a sign prompt must never outlive
	// the wallet lock screen.
	SignTimeout time.Duration
	// AutoLockInterval is the hosting wallet's auto-lock interval, used
	// only as a cap for SignTimeout. Zero means no cap.
	AutoLockInterval time.Duration
	// RejectionPollInterval is how often the signing gateway re-reads the
	// record status to detect a user-initiated rejection.
	RejectionPollInterval time.Duration

	// TxHistoryLimit is the retention limit for the record store. Trimming
	// only removes terminal records and keeps same-(nonce, chain, day)
	// groups whole.
	TxHistoryLimit int

	// DropThreshold is the number of consecutive missing-on-chain cycles
	// after which a submitted transaction is considered dropped.
	DropThreshold int
	// NextNonceDropThreshold is the threshold used instead for the
	// transaction whose nonce equals the current network nonce, giving the
	// "currently next" transaction extra grace.
	NextNonceDropThreshold int

	// DepositConfirmationDepth is the number of confirmations a
	// privacy-pool deposit needs before it is treated as settled.
	DepositConfirmationDepth uint64
	// VerificationBlocks is how many blocks after first confirmation the
	// reconciler re-checks the receipt before finalizing a record.
	VerificationBlocks uint64

	// FlashbotsChainID is the chain where the off-chain relay exists.
	FlashbotsChainID uint64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SignTimeout:              DefaultSignTimeout,
		RejectionPollInterval:    DefaultRejectionPoll,
		TxHistoryLimit:           DefaultTxHistoryLimit,
		DropThreshold:            DefaultDropThreshold,
		NextNonceDropThreshold:   DefaultNextNonceGrace,
		DepositConfirmationDepth: DefaultDepositDepth,
		VerificationBlocks:       DefaultVerificationBlocks,
		FlashbotsChainID:         1,
	}
}

// fileConfig mirrors Config for YAML decoding; durations are human-readable
// strings ("90s", "3m").
type fileConfig struct {
	SignTimeout              string `yaml:"sign_timeout"`
	AutoLockInterval         string `yaml:"auto_lock_interval"`
	RejectionPollInterval    string `yaml:"rejection_poll_interval"`
	TxHistoryLimit           int    `yaml:"tx_history_limit"`
	DropThreshold            int    `yaml:"drop_threshold"`
	NextNonceDropThreshold   int    `yaml:"next_nonce_drop_threshold"`
	DepositConfirmationDepth uint64 `yaml:"deposit_confirmation_depth"`
	VerificationBlocks       uint64 `yaml:"verification_blocks"`
	FlashbotsChainID         uint64 `yaml:"flashbots_chain_id"`
}

// LoadConfig reads a YAML config file, expanding environment variables, and
// normalizes it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	fc := fileConfig{}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := Config{
		TxHistoryLimit:           fc.TxHistoryLimit,
		DropThreshold:            fc.DropThreshold,
		NextNonceDropThreshold:   fc.NextNonceDropThreshold,
		DepositConfirmationDepth: fc.DepositConfirmationDepth,
		VerificationBlocks:       fc.VerificationBlocks,
		FlashbotsChainID:         fc.FlashbotsChainID,
	}
	if cfg.SignTimeout, err = parseDuration(fc.SignTimeout, "sign_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.AutoLockInterval, err = parseDuration(fc.AutoLockInterval, "auto_lock_interval"); err != nil {
		return Config{}, err
	}
	if cfg.RejectionPollInterval, err = parseDuration(fc.RejectionPollInterval, "rejection_poll_interval"); err != nil {
		return Config{}, err
	}

	cfg.Normalize()
	return cfg, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

// Normalize fills zero fields with defaults and applies the auto-lock cap to
// the sign timeout.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.SignTimeout <= 0 {
		c.SignTimeout = def.SignTimeout
	}
	if c.RejectionPollInterval <= 0 {
		c.RejectionPollInterval = def.RejectionPollInterval
	}
	if c.TxHistoryLimit <= 0 {
		c.TxHistoryLimit = def.TxHistoryLimit
	}
	if c.DropThreshold <= 0 {
		c.DropThreshold = def.DropThreshold
	}
	if c.NextNonceDropThreshold <= 0 {
		c.NextNonceDropThreshold = def.NextNonceDropThreshold
	}
	if c.NextNonceDropThreshold < c.DropThreshold {
		c.NextNonceDropThreshold = c.DropThreshold
	}
	if c.DepositConfirmationDepth == 0 {
		c.DepositConfirmationDepth = def.DepositConfirmationDepth
	}
	if c.VerificationBlocks == 0 {
		c.VerificationBlocks = def.VerificationBlocks
	}
	if c.FlashbotsChainID == 0 {
		c.FlashbotsChainID = def.FlashbotsChainID
	}
	if c.AutoLockInterval > 0 && c.SignTimeout > c.AutoLockInterval {
		c.SignTimeout = c.AutoLockInterval
	}
}
