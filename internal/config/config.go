// Package config defines the top-level configuration for the liquidator and
// provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LIQUIDATOR_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Stream   StreamConfig   `toml:"stream"`
	Oracle   OracleConfig   `toml:"oracle"`
	Assets   []AssetConfig  `toml:"assets"`
	State    StateConfig    `toml:"state"`
	Executor ExecutorConfig `toml:"executor"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and protocol contract parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	PoolContract    string   `toml:"pool_contract"`
	StartingBlock   uint64   `toml:"starting_block"`
	ReceiptInterval duration `toml:"receipt_interval"`
	ReceiptRetries  int      `toml:"receipt_retries"`
}

// WalletConfig holds the liquidator account credentials. Either a raw hex key
// or an encrypted key file plus password must be provided.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// StreamConfig holds the streaming chain-indexing service parameters.
type StreamConfig struct {
	WsURL            string   `toml:"ws_url"`
	APIKey           string   `toml:"api_key"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
	MaxBackoff       duration `toml:"max_backoff"`
}

// OracleConfig holds the price oracle HTTP API parameters.
type OracleConfig struct {
	BaseURL            string   `toml:"base_url"`
	APIKey             string   `toml:"api_key"`
	RefreshInterval    duration `toml:"refresh_interval"`
	StalenessThreshold duration `toml:"staleness_threshold"`
	RequestTimeout     duration `toml:"request_timeout"`
	RequestsPerSecond  float64  `toml:"requests_per_second"`
	FailureCeiling     int      `toml:"failure_ceiling"`
}

// AssetConfig describes one tracked asset: its on-chain address, oracle
// symbol, token decimals, and the protocol's liquidation threshold factor for
// positions collateralized by it.
type AssetConfig struct {
	Symbol               string  `toml:"symbol"`
	Address              string  `toml:"address"`
	Decimals             int32   `toml:"decimals"`
	LiquidationThreshold float64 `toml:"liquidation_threshold"`
}

// StateConfig selects and parameterizes the persistence backend.
type StateConfig struct {
	FilePath         string   `toml:"file_path"`
	PostgresDSN      string   `toml:"postgres_dsn"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	CheckpointEvery  uint64   `toml:"checkpoint_every"`
	CheckpointDepth  int      `toml:"checkpoint_depth"`
}

// ExecutorConfig holds liquidation execution parameters.
type ExecutorConfig struct {
	CheckInterval       duration `toml:"check_interval"`
	MaxAttempts         int      `toml:"max_attempts"`
	RetryBackoff        duration `toml:"retry_backoff"`
	MaxRetryBackoff     duration `toml:"max_retry_backoff"`
	MinProfitUSD        float64  `toml:"min_profit_usd"`
	OverheadFactor      float64  `toml:"overhead_factor"`
	LiquidationDiscount float64  `toml:"liquidation_discount"`
	GasCostUSD          float64  `toml:"gas_cost_usd"`
}

// RedisConfig holds optional Redis connection parameters. When Addr is empty
// the signal bus and distributed submission locks are disabled.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds optional S3-compatible storage parameters for snapshot
// archival. When Bucket is empty archival is disabled.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds optional webhook notification parameters.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// MetricsConfig holds the Prometheus listen address. Empty disables the
// metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ReceiptInterval: duration{3 * time.Second},
			ReceiptRetries:  10,
		},
		Stream: StreamConfig{
			ReconnectBackoff: duration{2 * time.Second},
			MaxBackoff:       duration{time.Minute},
		},
		Oracle: OracleConfig{
			RefreshInterval:    duration{3 * time.Second},
			StalenessThreshold: duration{2 * time.Minute},
			RequestTimeout:     duration{10 * time.Second},
			RequestsPerSecond:  10,
			FailureCeiling:     5,
		},
		State: StateConfig{
			FilePath:         "liquidator-state.json",
			SnapshotInterval: duration{30 * time.Second},
			CheckpointEvery:  10,
			CheckpointDepth:  64,
		},
		Executor: ExecutorConfig{
			CheckInterval:       duration{10 * time.Second},
			MaxAttempts:         5,
			RetryBackoff:        duration{time.Second},
			MaxRetryBackoff:     duration{30 * time.Second},
			OverheadFactor:      1.01,
			LiquidationDiscount: 0.05,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency and returns a
// single error aggregating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.PoolContract) {
		errs = append(errs, fmt.Sprintf("chain: pool_contract %q is not a valid address", c.Chain.PoolContract))
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Stream.WsURL == "" {
		errs = append(errs, "stream: ws_url must not be empty")
	}
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if c.Oracle.StalenessThreshold.Duration <= 0 {
		errs = append(errs, "oracle: staleness_threshold must be positive")
	}

	if len(c.Assets) == 0 {
		errs = append(errs, "assets: at least one tracked asset is required")
	}
	seen := make(map[string]bool, len(c.Assets))
	for i, a := range c.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", i))
		}
		if !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("assets[%d]: address %q is not a valid address", i, a.Address))
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("assets[%d]: decimals %d out of range", i, a.Decimals))
		}
		if a.LiquidationThreshold <= 0 || a.LiquidationThreshold > 1 {
			errs = append(errs, fmt.Sprintf("assets[%d]: liquidation_threshold must be in (0, 1]", i))
		}
		key := strings.ToLower(a.Address)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("assets[%d]: duplicate address %s", i, a.Address))
		}
		seen[key] = true
	}

	if c.State.FilePath == "" && c.State.PostgresDSN == "" {
		errs = append(errs, "state: either file_path or postgres_dsn must be set")
	}
	if c.State.CheckpointEvery == 0 {
		errs = append(errs, "state: checkpoint_every must be positive")
	}
	if c.State.CheckpointDepth <= 0 {
		errs = append(errs, "state: checkpoint_depth must be positive")
	}

	if c.Executor.MaxAttempts <= 0 {
		errs = append(errs, "executor: max_attempts must be positive")
	}
	if c.Executor.OverheadFactor < 1 {
		errs = append(errs, "executor: overhead_factor must be >= 1")
	}
	if c.Executor.LiquidationDiscount < 0 || c.Executor.LiquidationDiscount >= 1 {
		errs = append(errs, "executor: liquidation_discount must be in [0, 1)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AssetByAddress returns the tracked asset config for an address, if any.
func (c *Config) AssetByAddress(addr common.Address) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if common.HexToAddress(a.Address) == addr {
			return a, true
		}
	}
	return AssetConfig{}, false
}
