package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"vault-harvester/internal/buckets"
	"vault-harvester/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Logging   logging.Config         `mapstructure:"logging"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	VaultAPI  VaultAPIConfig         `mapstructure:"vault_api"`
	Alerting  AlertingConfig         `mapstructure:"alerting"`
	Export    ExportConfig           `mapstructure:"export"`
	Redaction RedactionConfig        `mapstructure:"redaction"`
	Chains    map[string]ChainConfig `mapstructure:"chains"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs harvest pass cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// VaultAPIConfig covers the vault registry HTTP service.
type VaultAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Discord DiscordConfig `mapstructure:"discord"`
	// MinLevel is the lowest severity worth a notification.
	MinLevel string `mapstructure:"min_level"`
}

// DiscordConfig describes the webhook sink.
type DiscordConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// RedactionConfig lists secret substrings scrubbed from serialized reports.
type RedactionConfig struct {
	Secrets []string `mapstructure:"secrets"`
}

// BucketConfig is one TVL threshold / harvest cadence pair.
type BucketConfig struct {
	MinTVLUSD      float64       `mapstructure:"min_tvl_usd"`
	TargetInterval time.Duration `mapstructure:"target_interval"`
}

// LensConfig locates the harvest simulation helper contract.
type LensConfig struct {
	Address string `mapstructure:"address"`
	// Kind selects the helper ABI variant: v1 (recipient harvest only),
	// v2 (adds no-params harvest), v3 (adds calmness probe).
	Kind string `mapstructure:"kind"`
}

// SubmissionConfig tunes the gas-escalating submission protocol.
type SubmissionConfig struct {
	MaxTries           int     `mapstructure:"max_tries"`
	GasPriceMultiplier float64 `mapstructure:"gas_price_multiplier"`
	TipMultiplier      float64 `mapstructure:"tip_multiplier"`
}

// ReceiptConfig tunes receipt waiting.
type ReceiptConfig struct {
	Confirmations   uint64        `mapstructure:"confirmations"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	NotFoundRetries int           `mapstructure:"not_found_retries"`
	NotFoundDelay   time.Duration `mapstructure:"not_found_delay"`
}

// VaultListsConfig carries the per-chain vault/platform allow and deny lists
// consumed by the decision policy.
type VaultListsConfig struct {
	BlindHarvest                  []string `mapstructure:"blind_harvest"`
	LensIncompatible              []string `mapstructure:"lens_incompatible"`
	OkNotHarvesting               []string `mapstructure:"ok_not_harvesting"`
	OkZeroRewards                 []string `mapstructure:"ok_zero_rewards"`
	AcceptableSkip                []string `mapstructure:"acceptable_skip"`
	UnderReportsRewards           []string `mapstructure:"under_reports_rewards"`
	NoParamsHarvest               []string `mapstructure:"no_params_harvest"`
	SlowRewardRefillPlatforms     []string `mapstructure:"slow_reward_refill_platforms"`
	SlowRewardRefillStrategyTypes []string `mapstructure:"slow_reward_refill_strategy_types"`
	SpuriousFailurePlatforms      []string `mapstructure:"spurious_failure_platforms"`
	RewardsExhaustedPlatforms     []string `mapstructure:"rewards_exhausted_platforms"`
}

// ChainConfig is the full per-chain tuning surface.
type ChainConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	RPCURL           string        `mapstructure:"rpc_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	WalletPrivateKey string        `mapstructure:"wallet_private_key"`
	BatchSize        int           `mapstructure:"batch_size"`

	Lens    LensConfig `mapstructure:"lens"`
	FeeType string     `mapstructure:"fee_type"`
	Gasless bool       `mapstructure:"gasless"`

	GasPriceMultiplier      float64 `mapstructure:"gas_price_multiplier"`
	MaxNativePerTxWei       string  `mapstructure:"max_native_per_tx_wei"`
	MaxGasPriceWei          string  `mapstructure:"max_gas_price_wei"`
	MinExpectedRewardWei    string  `mapstructure:"min_expected_reward_wei"`
	ProfitabilityCheck      bool    `mapstructure:"profitability_check"`
	BalanceSafetyMultiplier float64 `mapstructure:"balance_safety_multiplier"`

	Submission SubmissionConfig `mapstructure:"submission"`
	Receipt    ReceiptConfig    `mapstructure:"receipt"`

	// BlindHarvestAll forces every vault on the chain onto the blind
	// fixed-schedule path; used where no lens simulation can be trusted.
	BlindHarvestAll bool `mapstructure:"blind_harvest_all"`
	// BlindHarvestIntervalHours sets the blind harvest cadence; zero
	// falls back to daily.
	BlindHarvestIntervalHours int `mapstructure:"blind_harvest_interval_hours"`

	HarvestTimeBuckets    []BucketConfig `mapstructure:"harvest_time_buckets"`
	CLMHarvestTimeBuckets []BucketConfig `mapstructure:"clm_harvest_time_buckets"`

	// StaleHarvestSilence is the window during which a "not calm" skip
	// stays informational before escalating.
	StaleHarvestSilence time.Duration `mapstructure:"stale_harvest_silence"`
	// CongestionGracePeriod bounds how long gas-too-expensive skips stay
	// warnings before escalating.
	CongestionGracePeriod time.Duration `mapstructure:"congestion_grace_period"`

	BenignRPCError string `mapstructure:"benign_rpc_error"`

	Vaults VaultListsConfig `mapstructure:"vaults"`

	HarvestEnabled       bool `mapstructure:"harvest_enabled"`
	UnwrapEnabled        bool `mapstructure:"unwrap_enabled"`
	RevenueBridgeEnabled bool `mapstructure:"revenue_bridge_enabled"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "harvester")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("vault_api.request_timeout", "30s")
	v.SetDefault("vault_api.user_agent", "harvester/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_level", "warning")
	v.SetDefault("alerting.discord.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs fail-fast sanity checks on the configuration values.
// Bucket table ordering and wei amounts are configuration errors, never
// runtime conditions to recover from.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url is required when discord alerting is enabled")
	}

	for name, chain := range c.Chains {
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}
	}
	return nil
}

// EnabledChains lists the chains configured for harvesting.
func (c *Config) EnabledChains() []string {
	names := make([]string, 0, len(c.Chains))
	for name, chain := range c.Chains {
		if chain.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Validate checks a single chain's configuration.
func (c ChainConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.Lens.Address == "" {
		return fmt.Errorf("lens.address is required")
	}
	switch c.Lens.Kind {
	case "v1", "v2", "v3":
	default:
		return fmt.Errorf("lens.kind must be one of v1, v2, v3; got %q", c.Lens.Kind)
	}
	switch c.FeeType {
	case "", "legacy", "dynamic":
	default:
		return fmt.Errorf("fee_type must be legacy or dynamic; got %q", c.FeeType)
	}
	if _, err := c.HarvestBucketTable(); err != nil {
		return err
	}
	if _, err := c.CLMBucketTable(); err != nil {
		return err
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"max_native_per_tx_wei", c.MaxNativePerTxWei},
		{"max_gas_price_wei", c.MaxGasPriceWei},
		{"min_expected_reward_wei", c.MinExpectedRewardWei},
	} {
		if field.value == "" {
			continue
		}
		if _, ok := new(big.Int).SetString(field.value, 10); !ok {
			return fmt.Errorf("%s: invalid wei amount %q", field.name, field.value)
		}
	}
	return nil
}

// HarvestBucketTable builds the validated TVL bucket table for normal vaults.
func (c ChainConfig) HarvestBucketTable() (buckets.Table, error) {
	return bucketTable(c.HarvestTimeBuckets)
}

// CLMBucketTable builds the validated table for CLM-managed vaults.
func (c ChainConfig) CLMBucketTable() (buckets.Table, error) {
	return bucketTable(c.CLMHarvestTimeBuckets)
}

func bucketTable(entries []BucketConfig) (buckets.Table, error) {
	converted := make([]buckets.Bucket, len(entries))
	for i, e := range entries {
		converted[i] = buckets.Bucket{
			MinTVLUSD:      decimal.NewFromFloat(e.MinTVLUSD),
			TargetInterval: e.TargetInterval,
		}
	}
	return buckets.NewTable(converted)
}

// MaxNativePerTx parses the per-transaction native spend ceiling; nil when
// unset.
func (c ChainConfig) MaxNativePerTx() *big.Int {
	return parseWei(c.MaxNativePerTxWei)
}

// MaxGasPrice parses the effective gas price ceiling; nil when unset.
func (c ChainConfig) MaxGasPrice() *big.Int {
	return parseWei(c.MaxGasPriceWei)
}

// MinExpectedReward parses the reward floor; nil when unset.
func (c ChainConfig) MinExpectedReward() *big.Int {
	return parseWei(c.MinExpectedRewardWei)
}

func parseWei(s string) *big.Int {
	if s == "" {
		return nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return i
}
