// Package config loads the engine's runtime configuration with
// viper, the way the teacher's strong_consistency_config.go and
// cmd/pincex/main.go do: environment-override-capable, with a fully
// populated default so a missing config file is never fatal.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// InstrumentConfig carries the tick/lot metadata and fee schedule
// spec §3 says OrderBook owns. One entry per tradable instrument.
type InstrumentConfig struct {
	Symbol         string          `mapstructure:"symbol"`
	QuotePrecision int32           `mapstructure:"quote_precision"`
	TickSize       decimal.Decimal `mapstructure:"-"`
	LotSize        decimal.Decimal `mapstructure:"-"`
	MakerFeeRate   decimal.Decimal `mapstructure:"-"`
	TakerFeeRate   decimal.Decimal `mapstructure:"-"`

	TickSizeStr     string `mapstructure:"tick_size"`
	LotSizeStr      string `mapstructure:"lot_size"`
	MakerFeeRateStr string `mapstructure:"maker_fee_rate"`
	TakerFeeRateStr string `mapstructure:"taker_fee_rate"`
}

// EngineConfig is the engine's full runtime configuration, per
// SPEC_FULL §2: intake queue capacity, snapshot path/interval, and the
// instrument table.
type EngineConfig struct {
	LogLevel string `mapstructure:"log_level"`

	IntakeQueueCapacity int    `mapstructure:"intake_queue_capacity"`
	SnapshotPath         string `mapstructure:"snapshot_path"`
	SnapshotIntervalSecs int    `mapstructure:"snapshot_interval_seconds"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// defaultInstrument is used when the config carries no instrument
// table at all, so a bare `cmd/matchengine` invocation still boots
// against spec §8's literal scenario instrument.
var defaultInstrument = InstrumentConfig{
	Symbol:          "BTC-USD",
	QuotePrecision:  2,
	TickSizeStr:     "0.01",
	LotSizeStr:      "0.00000001",
	MakerFeeRateStr: "0.0010",
	TakerFeeRateStr: "0.0020",
}

// Load reads configuration from path if non-empty, else searches the
// default locations, falling back to documented defaults when no file
// is found — config absence is never fatal, matching the teacher's
// own "file not found, using defaults" behavior.
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("matchcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/matchcore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if !os.IsNotExist(err) {
				// fall through: viper couldn't find any candidate file, use defaults
			}
		} else if os.IsNotExist(err) {
			// explicit path did not exist; fall back to defaults
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Instruments) == 0 {
		cfg.Instruments = []InstrumentConfig{defaultInstrument}
	}
	for i := range cfg.Instruments {
		if err := resolveDecimals(&cfg.Instruments[i]); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", cfg.Instruments[i].Symbol, err)
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("intake_queue_capacity", 4096)
	v.SetDefault("snapshot_path", "./data/matchcore.snapshot")
	v.SetDefault("snapshot_interval_seconds", 30)
	v.SetDefault("metrics_addr", ":9090")
}

func resolveDecimals(ic *InstrumentConfig) error {
	var err error
	if ic.TickSizeStr == "" {
		ic.TickSizeStr = defaultInstrument.TickSizeStr
	}
	if ic.LotSizeStr == "" {
		ic.LotSizeStr = defaultInstrument.LotSizeStr
	}
	if ic.MakerFeeRateStr == "" {
		ic.MakerFeeRateStr = defaultInstrument.MakerFeeRateStr
	}
	if ic.TakerFeeRateStr == "" {
		ic.TakerFeeRateStr = defaultInstrument.TakerFeeRateStr
	}
	if ic.QuotePrecision == 0 {
		ic.QuotePrecision = defaultInstrument.QuotePrecision
	}
	if ic.TickSize, err = decimal.NewFromString(ic.TickSizeStr); err != nil {
		return fmt.Errorf("bad tick_size: %w", err)
	}
	if ic.LotSize, err = decimal.NewFromString(ic.LotSizeStr); err != nil {
		return fmt.Errorf("bad lot_size: %w", err)
	}
	if ic.MakerFeeRate, err = decimal.NewFromString(ic.MakerFeeRateStr); err != nil {
		return fmt.Errorf("bad maker_fee_rate: %w", err)
	}
	if ic.TakerFeeRate, err = decimal.NewFromString(ic.TakerFeeRateStr); err != nil {
		return fmt.Errorf("bad taker_fee_rate: %w", err)
	}
	return nil
}
