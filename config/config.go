package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full, strongly-typed application configuration.
// Defaults are documented per field; load order is YAML file → environment
// overrides → validation.
type Config struct {
	// Pairs is the tracked/allowed currency-pair list ("EUR/USD" form).
	Pairs []string `yaml:"pairs" validate:"min=1,dive,required"`

	// Mode is the execution backend at startup: SIMULATION, PAPER or LIVE.
	Mode string `yaml:"mode" validate:"oneof=SIMULATION PAPER LIVE"`

	// InitialBalance seeds the simulated/paper account ledger.
	InitialBalance float64 `yaml:"initial_balance" validate:"gt=0"`

	// DBPath locates the SQLite database file.
	DBPath string `yaml:"db_path" validate:"required"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level"`

	// Scheduling intervals.
	CycleInterval     time.Duration `yaml:"cycle_interval" validate:"gt=0"`      // default 1m
	RiskCheckInterval time.Duration `yaml:"risk_check_interval" validate:"gt=0"` // default 10s
	RolloverInterval  time.Duration `yaml:"rollover_interval" validate:"gt=0"`   // default 1m

	// History controls the bounded rolling price history.
	History HistoryConfig `yaml:"history"`

	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Trailing   TrailingConfig   `yaml:"trailing"`
	TimeExit   TimeExitConfig   `yaml:"time_exit"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Predictor  PredictorConfig  `yaml:"predictor"`
	Feed       FeedConfig       `yaml:"feed"`
	Broker     BrokerConfig     `yaml:"broker"`
}

// HistoryConfig bounds the per-pair rolling price history.
type HistoryConfig struct {
	MaxPoints        int           `yaml:"max_points" validate:"gt=0"`         // default 500
	MinForPrediction int           `yaml:"min_for_prediction" validate:"gt=0"` // default 60
	Retention        time.Duration `yaml:"retention" validate:"gt=0"`          // default 7 days
	PruneEveryCycles int           `yaml:"prune_every_cycles" validate:"gt=0"` // default 60
}

// TradingConfig holds admission-control limits.
type TradingConfig struct {
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades" validate:"gt=0"`        // default 3
	MaxDailyTrades      int     `yaml:"max_daily_trades" validate:"gt=0"`             // default 10
	MinConfidence       float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`        // default 0.70
	ConfidenceDiscount  float64 `yaml:"confidence_discount" validate:"gte=0,lte=0.5"` // accelerated collection, default 0.05
	MinSamplesPerPair   int     `yaml:"min_samples_per_pair" validate:"gte=0"`        // default 25
	HoursStart          int     `yaml:"hours_start" validate:"gte=0,lte=23"`          // UTC, default 0
	HoursEnd            int     `yaml:"hours_end" validate:"gte=1,lte=24"`            // UTC, default 24
	FixedTrailPips      float64 `yaml:"fixed_trail_pips" validate:"gt=0"`             // legacy trail, default 15
	TrailActivatePips   float64 `yaml:"trail_activate_pips" validate:"gt=0"`          // default 10
}

// RiskConfig bounds account-level risk.
type RiskConfig struct {
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent" validate:"gt=0,lte=100"` // default 2.0
	MaxDrawdownPercent  float64 `yaml:"max_drawdown_percent" validate:"gt=0,lte=100"`   // default 3.0
	ErrorBufferSize     int     `yaml:"error_buffer_size" validate:"gt=0"`              // classifier ring, default 100
}

// SizingConfig selects and parameterizes the position-sizing policy.
type SizingConfig struct {
	Method           string  `yaml:"method" validate:"oneof=FIXED VOLATILITY KELLY RISK_PARITY"` // default FIXED
	RiskPercent      float64 `yaml:"risk_percent" validate:"gt=0,lte=10"`                        // default 1.0
	MinRiskPercent   float64 `yaml:"min_risk_percent" validate:"gt=0"`                           // default 0.25
	MaxRiskPercent   float64 `yaml:"max_risk_percent" validate:"gt=0"`                           // default 2.0
	TargetVolPips    float64 `yaml:"target_vol_pips" validate:"gt=0"`                            // assumed avg forex vol, default 12
	ATRPeriod        int     `yaml:"atr_period" validate:"gt=1"`                                 // default 14
	KellyFraction    float64 `yaml:"kelly_fraction" validate:"gt=0,lte=1"`                       // default 0.25 (quarter-Kelly)
	KellyLookback    int     `yaml:"kelly_lookback" validate:"gt=0"`                             // default 50
	KellyMinSamples  int     `yaml:"kelly_min_samples" validate:"gt=0"`                          // default 20
	KellyDefaultRisk float64 `yaml:"kelly_default_risk" validate:"gt=0"`                         // fallback %, default 0.5
	TotalRiskBudget  float64 `yaml:"total_risk_budget" validate:"gt=0"`                          // risk parity %, default 3.0
}

// TrailingConfig parameterizes the trailing-stop manager.
type TrailingConfig struct {
	Enabled              bool    `yaml:"enabled"`                                                   // advanced trailing on/off
	Algorithm            string  `yaml:"algorithm" validate:"oneof=ATR CHANDELIER PARABOLIC FIXED"` // default ATR
	ATRPeriod            int     `yaml:"atr_period" validate:"gt=1"`                                // default 14
	ATRMultiplier        float64 `yaml:"atr_multiplier" validate:"gt=0"`                            // default 2.0
	ChandelierLookback   int     `yaml:"chandelier_lookback" validate:"gt=1"`                       // default 22
	ChandelierMultiplier float64 `yaml:"chandelier_multiplier" validate:"gt=0"`                     // default 3.0
	ParabolicAFStep      float64 `yaml:"parabolic_af_step" validate:"gt=0"`                         // default 0.02
	ParabolicAFMax       float64 `yaml:"parabolic_af_max" validate:"gt=0"`                          // default 0.2
	FixedPips            float64 `yaml:"fixed_pips" validate:"gt=0"`                                // default 20
	ActivationR          float64 `yaml:"activation_r" validate:"gt=0"`                              // default 1.0
	MinStopDistancePips  float64 `yaml:"min_stop_distance_pips" validate:"gt=0"`                    // default 5
}

// TimeExitConfig parameterizes the wall-clock exit rules.
type TimeExitConfig struct {
	WeekendExitEnabled bool          `yaml:"weekend_exit_enabled"`                        // default true
	WeekendCutoffHour  int           `yaml:"weekend_cutoff_hour" validate:"gte=0,lte=23"` // Friday UTC, default 21
	SessionExitEnabled bool          `yaml:"session_exit_enabled"`
	SessionEndHour     int           `yaml:"session_end_hour" validate:"gte=0,lte=24"`    // UTC, default 21
	MaxHoldTime        time.Duration `yaml:"max_hold_time" validate:"gt=0"`               // default 48h
}

// ComplianceConfig parameterizes the optional trading-window policy.
type ComplianceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	CutoffHour     int           `yaml:"cutoff_hour" validate:"gte=0,lte=23"`   // UTC, default 20
	CutoffMinute   int           `yaml:"cutoff_minute" validate:"gte=0,lte=59"` // default 0
	WarningWindow  time.Duration `yaml:"warning_window" validate:"gt=0"`        // default 30m
	LeverageCapped bool          `yaml:"leverage_capped"`
	MaxLeverage    float64       `yaml:"max_leverage" validate:"gt=0"`          // default 30
}

// PredictorConfig parameterizes the technical-indicator predictor.
type PredictorConfig struct {
	RSIPeriod     int     `yaml:"rsi_period" validate:"gt=1"`      // default 14
	RSIOverbought float64 `yaml:"rsi_overbought" validate:"gt=0"`  // default 70
	RSIOversold   float64 `yaml:"rsi_oversold" validate:"gte=0"`   // default 30
	ShortMAPeriod int     `yaml:"short_ma_period" validate:"gt=1"` // default 10
	LongMAPeriod  int     `yaml:"long_ma_period" validate:"gt=1"`  // default 30
	ATRPeriod     int     `yaml:"atr_period" validate:"gt=1"`      // default 14
	StopATRMult   float64 `yaml:"stop_atr_mult" validate:"gt=0"`   // default 1.5
	TargetATRMult float64 `yaml:"target_atr_mult" validate:"gt=0"` // default 2.5
}

// FeedConfig parameterizes the live-rate feed adapter.
type FeedConfig struct {
	PrimaryURL   string        `yaml:"primary_url"`
	SecondaryURL string        `yaml:"secondary_url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`   // per-attempt, default 10s
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gt=0"` // freshness window, default 30s
}

// BrokerConfig holds live-broker credentials.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		Pairs:             []string{"EUR/USD", "GBP/USD", "USD/JPY"},
		Mode:              "SIMULATION",
		InitialBalance:    10000,
		DBPath:            "./data/fx_trade_bot.db",
		LogLevel:          "INFO",
		CycleInterval:     time.Minute,
		RiskCheckInterval: 10 * time.Second,
		RolloverInterval:  time.Minute,
		History: HistoryConfig{
			MaxPoints:        500,
			MinForPrediction: 60,
			Retention:        7 * 24 * time.Hour,
			PruneEveryCycles: 60,
		},
		Trading: TradingConfig{
			MaxConcurrentTrades: 3,
			MaxDailyTrades:      10,
			MinConfidence:       0.70,
			ConfidenceDiscount:  0.05,
			MinSamplesPerPair:   25,
			HoursStart:          0,
			HoursEnd:            24,
			FixedTrailPips:      15,
			TrailActivatePips:   10,
		},
		Risk: RiskConfig{
			MaxDailyLossPercent: 2.0,
			MaxDrawdownPercent:  3.0,
			ErrorBufferSize:     100,
		},
		Sizing: SizingConfig{
			Method:           "FIXED",
			RiskPercent:      1.0,
			MinRiskPercent:   0.25,
			MaxRiskPercent:   2.0,
			TargetVolPips:    12,
			ATRPeriod:        14,
			KellyFraction:    0.25,
			KellyLookback:    50,
			KellyMinSamples:  20,
			KellyDefaultRisk: 0.5,
			TotalRiskBudget:  3.0,
		},
		Trailing: TrailingConfig{
			Enabled:              true,
			Algorithm:            "ATR",
			ATRPeriod:            14,
			ATRMultiplier:        2.0,
			ChandelierLookback:   22,
			ChandelierMultiplier: 3.0,
			ParabolicAFStep:      0.02,
			ParabolicAFMax:       0.2,
			FixedPips:            20,
			ActivationR:          1.0,
			MinStopDistancePips:  5,
		},
		TimeExit: TimeExitConfig{
			WeekendExitEnabled: true,
			WeekendCutoffHour:  21,
			SessionExitEnabled: false,
			SessionEndHour:     21,
			MaxHoldTime:        48 * time.Hour,
		},
		Compliance: ComplianceConfig{
			Enabled:        false,
			CutoffHour:     20,
			CutoffMinute:   0,
			WarningWindow:  30 * time.Minute,
			LeverageCapped: false,
			MaxLeverage:    30,
		},
		Predictor: PredictorConfig{
			RSIPeriod:     14,
			RSIOverbought: 70,
			RSIOversold:   30,
			ShortMAPeriod: 10,
			LongMAPeriod:  30,
			ATRPeriod:     14,
			StopATRMult:   1.5,
			TargetATRMult: 2.5,
		},
		Feed: FeedConfig{
			Timeout:  10 * time.Second,
			CacheTTL: 30 * time.Second,
		},
		Broker: BrokerConfig{Testnet: true},
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by CONFIG_FILE (or ./config.yaml when present), then environment overrides,
// then validation. A missing file is not an error; a malformed one is.
func Load() (*Config, error) {
	// .env is optional; plain environment variables always work.
	_ = godotenv.Load()

	cfg := Default()

	path := getEnv("CONFIG_FILE", "./config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus cross-field checks.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var errs []string
	if c.Sizing.MinRiskPercent > c.Sizing.MaxRiskPercent {
		errs = append(errs, "sizing.min_risk_percent must not exceed sizing.max_risk_percent")
	}
	if c.Predictor.RSIOversold >= c.Predictor.RSIOverbought {
		errs = append(errs, "predictor.rsi_oversold must be below predictor.rsi_overbought")
	}
	if c.Predictor.ShortMAPeriod >= c.Predictor.LongMAPeriod {
		errs = append(errs, "predictor.short_ma_period must be below predictor.long_ma_period")
	}
	if c.Trading.HoursStart >= c.Trading.HoursEnd {
		errs = append(errs, "trading.hours_start must be before trading.hours_end")
	}
	if c.Mode == "LIVE" && (c.Broker.APIKey == "" || c.Broker.SecretKey == "") {
		errs = append(errs, "broker.api_key and broker.secret_key must be set for LIVE mode")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides lets the environment override the operationally
// sensitive fields without editing the YAML file.
func applyEnvOverrides(c *Config) {
	if v := getEnv("PAIRS", ""); v != "" {
		parts := strings.Split(v, ",")
		pairs := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				pairs = append(pairs, p)
			}
		}
		if len(pairs) > 0 {
			c.Pairs = pairs
		}
	}
	c.Mode = getEnv("EXECUTION_MODE", c.Mode)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.InitialBalance = getEnvAsFloat("INITIAL_BALANCE", c.InitialBalance)
	c.Risk.MaxDailyLossPercent = getEnvAsFloat("MAX_DAILY_LOSS_PERCENT", c.Risk.MaxDailyLossPercent)
	c.Risk.MaxDrawdownPercent = getEnvAsFloat("MAX_DRAWDOWN_PERCENT", c.Risk.MaxDrawdownPercent)
	c.Trading.MaxConcurrentTrades = getEnvAsInt("MAX_CONCURRENT_TRADES", c.Trading.MaxConcurrentTrades)
	c.Trading.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", c.Trading.MaxDailyTrades)
	c.Trading.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", c.Trading.MinConfidence)
	c.Sizing.Method = getEnv("SIZING_METHOD", c.Sizing.Method)
	c.Feed.PrimaryURL = getEnv("FEED_PRIMARY_URL", c.Feed.PrimaryURL)
	c.Feed.SecondaryURL = getEnv("FEED_SECONDARY_URL", c.Feed.SecondaryURL)
	c.Broker.APIKey = getEnv("BROKER_API_KEY", c.Broker.APIKey)
	c.Broker.SecretKey = getEnv("BROKER_API_SECRET", c.Broker.SecretKey)
	c.Broker.Testnet = getEnvAsBool("BROKER_TESTNET", c.Broker.Testnet)
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
