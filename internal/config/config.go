package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Claims     ClaimsConfig     `mapstructure:"claims"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN                 string `mapstructure:"dsn"`
	OrderRetentionDays  int    `mapstructure:"order_retention_days"`
	SignalRetentionDays int    `mapstructure:"signal_retention_days"`
}

type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	QueuePrefix string `mapstructure:"queue_prefix"`
	IdemTTLSecs int    `mapstructure:"idem_ttl_seconds"`
}

type ChainConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type PolymarketConfig struct {
	// Worker-level L2 API credentials used by live mode.
	ApiKey        string `mapstructure:"api_key"`
	ApiSecret     string `mapstructure:"api_secret"`
	ApiPassphrase string `mapstructure:"api_passphrase"`
	GammaURL      string `mapstructure:"gamma_url"`
	DataURL       string `mapstructure:"data_url"`
}

// SafetyConfig feeds the trading-mode safety controller. Mode is the
// configured mode; the effective mode may be downgraded to mock.
type SafetyConfig struct {
	Mode            string  `mapstructure:"mode"` // mock | gamma | mainnet
	ConfirmLive     bool    `mapstructure:"confirm_live"`
	WalletAddress   string  `mapstructure:"wallet_address"`
	MinBalanceUSDC  float64 `mapstructure:"min_balance_usdc"`
	DiagTimeoutSecs int     `mapstructure:"diag_timeout_seconds"`
}

type WorkerConfig struct {
	SignalConcurrency  int `mapstructure:"signal_concurrency"`
	MetricsConcurrency int `mapstructure:"metrics_concurrency"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	BackoffBaseMs      int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
	ExchangeTimeoutMs  int `mapstructure:"exchange_timeout_ms"`
}

type ClaimsConfig struct {
	ScanIntervalMinutes int `mapstructure:"scan_interval_minutes"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func (w WorkerConfig) ExchangeTimeout() time.Duration {
	return time.Duration(w.ExchangeTimeoutMs) * time.Millisecond
}

func (c ClaimsConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. POLYPILOT_SAFETY_MODE, POLYPILOT_DATABASE_DSN
	viper.SetEnvPrefix("polypilot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8081")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("redis.queue_prefix", "polypilot:jobs")
	viper.SetDefault("redis.idem_ttl_seconds", 86400)
	viper.SetDefault("polymarket.gamma_url", "https://gamma-api.polymarket.com")
	viper.SetDefault("polymarket.data_url", "https://data-api.polymarket.com")
	viper.SetDefault("safety.mode", "mock")
	viper.SetDefault("safety.confirm_live", false)
	viper.SetDefault("safety.min_balance_usdc", 10.0)
	viper.SetDefault("safety.diag_timeout_seconds", 10)
	viper.SetDefault("worker.signal_concurrency", 5)
	viper.SetDefault("worker.metrics_concurrency", 10)
	viper.SetDefault("worker.max_attempts", 5)
	viper.SetDefault("worker.backoff_base_ms", 500)
	viper.SetDefault("worker.backoff_max_ms", 30000)
	viper.SetDefault("worker.exchange_timeout_ms", 10000)
	viper.SetDefault("claims.scan_interval_minutes", 10)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("database.order_retention_days", 0) // keep forever: fills are the ledger
	viper.SetDefault("database.signal_retention_days", 30)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
