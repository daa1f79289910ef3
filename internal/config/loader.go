package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQUIDATOR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQUIDATOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Chain.RPCURL, "LIQUIDATOR_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LIQUIDATOR_CHAIN_ID")
	setStr(&cfg.Chain.PoolContract, "LIQUIDATOR_CHAIN_POOL_CONTRACT")
	setUint64(&cfg.Chain.StartingBlock, "LIQUIDATOR_CHAIN_STARTING_BLOCK")

	setStr(&cfg.Wallet.PrivateKey, "LIQUIDATOR_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LIQUIDATOR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LIQUIDATOR_WALLET_KEY_PASSWORD")

	setStr(&cfg.Stream.WsURL, "LIQUIDATOR_STREAM_WS_URL")
	setStr(&cfg.Stream.APIKey, "LIQUIDATOR_STREAM_API_KEY")

	setStr(&cfg.Oracle.BaseURL, "LIQUIDATOR_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "LIQUIDATOR_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.RefreshInterval, "LIQUIDATOR_ORACLE_REFRESH_INTERVAL")
	setDuration(&cfg.Oracle.StalenessThreshold, "LIQUIDATOR_ORACLE_STALENESS_THRESHOLD")

	setStr(&cfg.State.FilePath, "LIQUIDATOR_STATE_FILE_PATH")
	setStr(&cfg.State.PostgresDSN, "LIQUIDATOR_STATE_POSTGRES_DSN")
	setDuration(&cfg.State.SnapshotInterval, "LIQUIDATOR_STATE_SNAPSHOT_INTERVAL")

	setDuration(&cfg.Executor.CheckInterval, "LIQUIDATOR_EXECUTOR_CHECK_INTERVAL")
	setInt(&cfg.Executor.MaxAttempts, "LIQUIDATOR_EXECUTOR_MAX_ATTEMPTS")
	setFloat64(&cfg.Executor.MinProfitUSD, "LIQUIDATOR_EXECUTOR_MIN_PROFIT_USD")

	setStr(&cfg.Redis.Addr, "LIQUIDATOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQUIDATOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQUIDATOR_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "LIQUIDATOR_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "LIQUIDATOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQUIDATOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQUIDATOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQUIDATOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQUIDATOR_S3_SECRET_KEY")

	setStr(&cfg.Notify.TelegramToken, "LIQUIDATOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQUIDATOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQUIDATOR_NOTIFY_DISCORD_WEBHOOK_URL")

	setStr(&cfg.Metrics.ListenAddr, "LIQUIDATOR_METRICS_LISTEN_ADDR")
	setStr(&cfg.LogLevel, "LIQUIDATOR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
