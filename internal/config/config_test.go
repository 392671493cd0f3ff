package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "general:\n  instance_id: test-1\n"))
	require.NoError(t, err)

	assert.Equal(t, "test-1", cfg.General.InstanceID)
	assert.Equal(t, "paper", cfg.Trade.Mode)
	assert.Equal(t, 0.05, cfg.Trade.BuySOLAmount)
	assert.Equal(t, 20.0, cfg.Trade.TakeProfitPercent)
	assert.Equal(t, 10.0, cfg.Trade.StopLossPercent)
	assert.Equal(t, 1500, cfg.Trade.MinTradeIntervalMs)
	assert.Equal(t, 45000, cfg.Trade.BuySettleTimeoutMs)
	assert.Equal(t, 10, cfg.Detector.BuyDebounceMinutes)
	assert.Equal(t, "auto", cfg.Jupiter.PriorityFeeLamports)
	assert.Equal(t, "data", cfg.Storage.DataDir)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TRAKR_TEST_KEY", "secret-key-value")
	cfg, err := Load(writeConfig(t, "tracker:\n  api_key: ${TRAKR_TEST_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-key-value", cfg.Tracker.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRPCEndpoints_DedupAndScheme(t *testing.T) {
	cfg := &Config{}
	cfg.Solana.RPCEndpoints = " https://a.example , https://a.example,http://b.example, wss://c.example ,"

	eps := cfg.RPCEndpoints()
	assert.Equal(t, []string{"https://a.example", "http://b.example"}, eps)
}

func TestPriorityFeeOverride(t *testing.T) {
	cfg := &Config{}

	cfg.Jupiter.PriorityFeeLamports = "auto"
	_, ok := cfg.PriorityFeeOverride()
	assert.False(t, ok)

	cfg.Jupiter.PriorityFeeLamports = "25000"
	fee, ok := cfg.PriorityFeeOverride()
	require.True(t, ok)
	assert.Equal(t, uint64(25000), fee)

	cfg.Jupiter.PriorityFeeLamports = "banana"
	_, ok = cfg.PriorityFeeOverride()
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := base()
		cfg.Trade.Mode = "yolo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("live requires signer key", func(t *testing.T) {
		cfg := base()
		cfg.Trade.Mode = "live"
		assert.Error(t, cfg.Validate())

		cfg.Solana.TraderSecretKey = "some-key"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("no endpoints", func(t *testing.T) {
		cfg := base()
		cfg.Solana.RPCEndpoints = "wss://only-ws.example"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad priority fee", func(t *testing.T) {
		cfg := base()
		cfg.Jupiter.PriorityFeeLamports = "cheap"
		assert.Error(t, cfg.Validate())
	})
}

func TestExcludedMintSet(t *testing.T) {
	cfg := &Config{}
	cfg.Detector.ExcludedMints = []string{"USDC-mint", "WSOL-mint"}
	set := cfg.ExcludedMintSet()
	assert.True(t, set["USDC-mint"])
	assert.False(t, set["other"])
}
