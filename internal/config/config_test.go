package config

import "testing"

func validConfig() Config {
	return Config{
		DryRun: true,
		Strategy: StrategyConfig{
			Symbol:              "BTC-USDT",
			TickSize:            0.01,
			MinSpread:           0.002,
			MaxSpread:           0.004,
			MinOrderValue:       10000,
			TargetOrdersPerSide: 1,
			ModifyThreshold:     0.003,
			MaxModifyDeviation:  0.01,
		},
		OrderMgmt: OrderMgmtConfig{
			MaxPendingModifications: 2,
			ResetInterval:           300,
		},
		Price: PriceConfig{
			Method:     "hybrid",
			WindowSize: 20,
		},
		Execution: ExecutionConfig{
			WorkerCount:       2,
			ModifyWorkerCount: 2,
			RateLimit:         5,
			ModifyRateLimit:   10,
		},
		Risk: RiskConfig{
			MaxPosition:   100000,
			MaxOrderCount: 10,
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsInvertedSpread(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Strategy.MinSpread = 0.01
	cfg.Strategy.MaxSpread = 0.005
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for min_spread > max_spread")
	}
}

func TestValidateRejectsInvertedModifyThresholds(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Strategy.ModifyThreshold = 0.02
	cfg.Strategy.MaxModifyDeviation = 0.01
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for modify_threshold > max_modify_deviation")
	}
}

func TestValidateRejectsUnknownPriceMethod(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Price.Method = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown price.method")
	}
}

func TestValidateRequiresAPICredentialsUnlessDryRun(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.DryRun = false
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when api.key/secret missing and dry_run is false")
	}

	cfg.API.Key = "k"
	cfg.API.Secret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil once credentials are set", err)
	}
}
