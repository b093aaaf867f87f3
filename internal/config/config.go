// Package config defines all configuration for the market-making engine.
// Config is loaded from a YAML file with sensitive fields overridable via
// MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	OrderMgmt OrderMgmtConfig `mapstructure:"order_management"`
	Price     PriceConfig     `mapstructure:"price"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Risk      RiskConfig      `mapstructure:"risk"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// StrategyConfig tunes the band-based quoting algorithm.
//
//   - Symbol: the trading pair id.
//   - MinSpread/MaxSpread: fractional band edges around the reference price.
//   - MinOrderValue: quote-currency floor per order (price * qty >= this).
//   - TargetOrdersPerSide: desired live orders per side.
//   - DriftThreshold: a drift magnitude above this forces an immediate cycle.
//   - RebalanceInterval: minimum spacing between evaluation cycles.
//   - ModifyThreshold: deviation within this is left untouched.
//   - MaxModifyDeviation: deviation beyond this is cancel+place instead of amend.
type StrategyConfig struct {
	Symbol              string        `mapstructure:"symbol"`
	TickSize            float64       `mapstructure:"tick_size"`
	MinSpread           float64       `mapstructure:"min_spread"`
	MaxSpread           float64       `mapstructure:"max_spread"`
	MinOrderValue       float64       `mapstructure:"min_order_value"`
	TargetOrdersPerSide int           `mapstructure:"target_orders_per_side"`
	DriftThreshold      float64       `mapstructure:"drift_threshold"`
	RebalanceInterval   time.Duration `mapstructure:"rebalance_interval"`
	ModifyThreshold     float64       `mapstructure:"modify_threshold"`
	MaxModifyDeviation  float64       `mapstructure:"max_modify_deviation"`
}

// OrderMgmtConfig tunes the order manager and the reset scheduler.
type OrderMgmtConfig struct {
	ResetInterval            time.Duration `mapstructure:"reset_interval"`
	MaxPendingModifications  int           `mapstructure:"max_pending_modifications"`
	ModificationTimeout      time.Duration `mapstructure:"modification_timeout"`
	CleanupInterval          time.Duration `mapstructure:"cleanup_interval"`
}

// PriceConfig tunes the reference-price estimator.
type PriceConfig struct {
	Method           string        `mapstructure:"method"` // twap | vwap | ema | hybrid
	WindowSize       int           `mapstructure:"window_size"`
	SmoothingFactor  float64       `mapstructure:"smoothing_factor"`
	ChangeThreshold  float64       `mapstructure:"change_threshold"`
	AnomalyThreshold float64       `mapstructure:"anomaly_threshold"`
}

// ExecutionConfig tunes the two execution worker pools and their rate limits.
type ExecutionConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"`
	BatchSize         int           `mapstructure:"batch_size"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	ModifyWorkerCount int           `mapstructure:"modify_worker_count"`
	ModifyRateLimit   float64       `mapstructure:"modify_rate_limit"`
}

// RiskConfig sets hard limits enforced by the risk gate.
type RiskConfig struct {
	MaxPosition     float64       `mapstructure:"max_position"`
	MaxOrderCount   int           `mapstructure:"max_order_count"`
	MaxDailyLoss    float64       `mapstructure:"max_daily_loss"`
	MaxPriceChange  float64       `mapstructure:"max_price_change"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
}

// APIConfig holds exchange credentials and endpoint selection.
type APIConfig struct {
	Key      string `mapstructure:"key"`
	Secret   string `mapstructure:"secret"`
	Testnet  bool   `mapstructure:"testnet"`
	BaseURL  string `mapstructure:"base_url"`
	WSURL    string `mapstructure:"ws_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_API_KEY, MM_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.MinSpread <= 0 || c.Strategy.MaxSpread <= 0 {
		return fmt.Errorf("strategy.min_spread and strategy.max_spread must be > 0")
	}
	if c.Strategy.MinSpread > c.Strategy.MaxSpread {
		return fmt.Errorf("strategy.min_spread must be <= strategy.max_spread")
	}
	if c.Strategy.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be > 0")
	}
	if c.Strategy.MinOrderValue <= 0 {
		return fmt.Errorf("strategy.min_order_value must be > 0")
	}
	if c.Strategy.TargetOrdersPerSide <= 0 {
		return fmt.Errorf("strategy.target_orders_per_side must be > 0")
	}
	if c.Strategy.ModifyThreshold > c.Strategy.MaxModifyDeviation {
		return fmt.Errorf("strategy.modify_threshold must be <= strategy.max_modify_deviation")
	}
	if c.OrderMgmt.MaxPendingModifications <= 0 {
		return fmt.Errorf("order_management.max_pending_modifications must be > 0")
	}
	if c.OrderMgmt.ResetInterval <= 0 {
		return fmt.Errorf("order_management.reset_interval must be > 0")
	}
	switch c.Price.Method {
	case "twap", "vwap", "ema", "hybrid":
	default:
		return fmt.Errorf("price.method must be one of: twap, vwap, ema, hybrid")
	}
	if c.Price.WindowSize < 2 {
		return fmt.Errorf("price.window_size must be >= 2")
	}
	if c.Execution.WorkerCount <= 0 || c.Execution.ModifyWorkerCount <= 0 {
		return fmt.Errorf("execution.worker_count and execution.modify_worker_count must be > 0")
	}
	if c.Execution.RateLimit <= 0 || c.Execution.ModifyRateLimit <= 0 {
		return fmt.Errorf("execution.rate_limit and execution.modify_rate_limit must be > 0")
	}
	if c.Risk.MaxPosition <= 0 {
		return fmt.Errorf("risk.max_position must be > 0")
	}
	if c.Risk.MaxOrderCount <= 0 {
		return fmt.Errorf("risk.max_order_count must be > 0")
	}
	if !c.DryRun {
		if c.API.Key == "" || c.API.Secret == "" {
			return fmt.Errorf("api.key and api.secret are required unless dry_run is set (set MM_API_KEY / MM_API_SECRET)")
		}
	}
	return nil
}
