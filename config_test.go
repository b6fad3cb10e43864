package txengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalizeDefaults(t *testing.T) {
	cfg := Config{}
	cfg.Normalize()

	assert.Equal(t, DefaultSignTimeout, cfg.SignTimeout)
	assert.Equal(t, DefaultRejectionPoll, cfg.RejectionPollInterval)
	assert.Equal(t, DefaultTxHistoryLimit, cfg.TxHistoryLimit)
	assert.Equal(t, DefaultDropThreshold, cfg.DropThreshold)
	assert.Equal(t, DefaultNextNonceGrace, cfg.NextNonceDropThreshold)
	assert.Equal(t, uint64(DefaultDepositDepth), cfg.DepositConfirmationDepth)
	assert.Equal(t, uint64(DefaultVerificationBlocks), cfg.VerificationBlocks)
}

func TestConfigNormalizeCapsAndFloors(t *testing.T) {
	t.Run("auto lock caps sign timeout", func(t *testing.T) {
		cfg := Config{SignTimeout: 10 * time.Minute, AutoLockInterval: 2 * time.Minute}
		cfg.Normalize()
		assert.Equal(t, 2*time.Minute, cfg.SignTimeout)
	})

	t.Run("next nonce threshold never below drop threshold", func(t *testing.T) {
		cfg := Config{DropThreshold: 8, NextNonceDropThreshold: 2}
		cfg.Normalize()
		assert.Equal(t, 8, cfg.NextNonceDropThreshold)
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sign_timeout: 90s
tx_history_limit: 250
drop_threshold: 4
flashbots_chain_id: ${TEST_TXENGINE_CHAIN}
`), 0o600))
	t.Setenv("TEST_TXENGINE_CHAIN", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.SignTimeout)
	assert.Equal(t, 250, cfg.TxHistoryLimit)
	assert.Equal(t, 4, cfg.DropThreshold)
	assert.Equal(t, uint64(5), cfg.FlashbotsChainID)
	// Untouched fields come back as defaults.
	assert.Equal(t, DefaultRejectionPoll, cfg.RejectionPollInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
