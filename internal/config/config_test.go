package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const validTOML = `
log_level = "debug"

[chain]
rpc_url = "https://rpc.example.org"
chain_id = 1
pool_contract = "0x1111111111111111111111111111111111111111"
starting_block = 950

[wallet]
private_key = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

[stream]
ws_url = "wss://stream.example.org/v1/events"
api_key = "stream-key"

[oracle]
base_url = "https://oracle.example.org"
api_key = "oracle-key"
refresh_interval = "5s"
staleness_threshold = "90s"

[[assets]]
symbol = "eth"
address = "0x2222222222222222222222222222222222222222"
decimals = 18
liquidation_threshold = 0.8

[[assets]]
symbol = "usdc"
address = "0x3333333333333333333333333333333333333333"
decimals = 6
liquidation_threshold = 0.9

[state]
file_path = "state.json"
snapshot_interval = "1m"

[executor]
check_interval = "15s"
max_attempts = 3
min_profit_usd = 25.0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateAsBaseline(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 2*time.Minute, cfg.Oracle.StalenessThreshold.Duration)
	require.Equal(t, uint64(10), cfg.State.CheckpointEvery)
	require.Equal(t, 64, cfg.State.CheckpointDepth)
	require.Equal(t, 5, cfg.Executor.MaxAttempts)
	require.InDelta(t, 1.01, cfg.Executor.OverheadFactor, 1e-9)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "https://rpc.example.org", cfg.Chain.RPCURL)
	require.Equal(t, uint64(950), cfg.Chain.StartingBlock)
	require.Equal(t, 5*time.Second, cfg.Oracle.RefreshInterval.Duration)
	require.Equal(t, 90*time.Second, cfg.Oracle.StalenessThreshold.Duration)
	require.Equal(t, 15*time.Second, cfg.Executor.CheckInterval.Duration)
	require.Equal(t, 3, cfg.Executor.MaxAttempts)

	// Values the file does not mention keep their defaults.
	require.Equal(t, 10*time.Second, cfg.Oracle.RequestTimeout.Duration)
	require.Equal(t, time.Minute, cfg.Stream.MaxBackoff.Duration)
	require.Equal(t, duration{time.Second}, cfg.Executor.RetryBackoff)

	require.Len(t, cfg.Assets, 2)
	require.Equal(t, "usdc", cfg.Assets[1].Symbol)
	require.Equal(t, int32(6), cfg.Assets[1].Decimals)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("LIQUIDATOR_CHAIN_RPC_URL", "https://override.example.org")
	t.Setenv("LIQUIDATOR_WALLET_PRIVATE_KEY", "deadbeef")
	t.Setenv("LIQUIDATOR_EXECUTOR_MAX_ATTEMPTS", "9")
	t.Setenv("LIQUIDATOR_EXECUTOR_MIN_PROFIT_USD", "100.5")
	t.Setenv("LIQUIDATOR_ORACLE_STALENESS_THRESHOLD", "45s")
	t.Setenv("LIQUIDATOR_REDIS_TLS_ENABLED", "true")
	t.Setenv("LIQUIDATOR_CHAIN_STARTING_BLOCK", "1234")

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)

	require.Equal(t, "https://override.example.org", cfg.Chain.RPCURL)
	require.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	require.Equal(t, 9, cfg.Executor.MaxAttempts)
	require.InDelta(t, 100.5, cfg.Executor.MinProfitUSD, 1e-9)
	require.Equal(t, 45*time.Second, cfg.Oracle.StalenessThreshold.Duration)
	require.True(t, cfg.Redis.TLSEnabled)
	require.Equal(t, uint64(1234), cfg.Chain.StartingBlock)
}

func TestEnvOverrideIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("LIQUIDATOR_EXECUTOR_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("LIQUIDATOR_ORACLE_REFRESH_INTERVAL", "soon")

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Executor.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Oracle.RefreshInterval.Duration)
}

func TestValidateAggregatesAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Chain.ChainID = 0
	cfg.Chain.PoolContract = "not-an-address"
	cfg.Assets = []AssetConfig{
		{Symbol: "", Address: "0x4444444444444444444444444444444444444444", Decimals: 18, LiquidationThreshold: 1.5},
	}

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, `unknown log_level "loud"`)
	require.ErrorContains(t, err, "rpc_url must not be empty")
	require.ErrorContains(t, err, "chain_id must be positive")
	require.ErrorContains(t, err, "pool_contract")
	require.ErrorContains(t, err, "either private_key or encrypted_key_path")
	require.ErrorContains(t, err, "ws_url must not be empty")
	require.ErrorContains(t, err, "assets[0]: symbol must not be empty")
	require.ErrorContains(t, err, "liquidation_threshold must be in (0, 1]")
}

func TestValidateRejectsDuplicateAssetAddresses(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)
	cfg.Assets[1].Address = cfg.Assets[0].Address

	verr := cfg.Validate()
	require.Error(t, verr)
	require.ErrorContains(t, verr, "duplicate address")
}

func TestValidateRequiresKeyPasswordForEncryptedKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "keystore.enc"
	cfg.Wallet.KeyPassword = ""

	verr := cfg.Validate()
	require.Error(t, verr)
	require.ErrorContains(t, verr, "key_password is required")
}

func TestAssetByAddress(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)

	a, ok := cfg.AssetByAddress(common.HexToAddress("0x3333333333333333333333333333333333333333"))
	require.True(t, ok)
	require.Equal(t, "usdc", a.Symbol)

	_, ok = cfg.AssetByAddress(common.HexToAddress("0x9999999999999999999999999999999999999999"))
	require.False(t, ok)
}
