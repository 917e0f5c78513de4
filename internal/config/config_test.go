package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4096, cfg.IntakeQueueCapacity)
	assert.Equal(t, "./data/matchcore.snapshot", cfg.SnapshotPath)
	assert.Equal(t, 30, cfg.SnapshotIntervalSecs)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	require.Len(t, cfg.Instruments, 1)
	inst := cfg.Instruments[0]
	assert.Equal(t, "BTC-USD", inst.Symbol)
	assert.Equal(t, int32(2), inst.QuotePrecision)
	assert.True(t, inst.TickSize.Equal(decimalFromString(t, "0.01")))
	assert.True(t, inst.MakerFeeRate.Equal(decimalFromString(t, "0.0010")))
	assert.True(t, inst.TakerFeeRate.Equal(decimalFromString(t, "0.0020")))
}

func TestLoad_ReadsInstrumentsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matchcore.yaml")
	contents := `
log_level: debug
intake_queue_capacity: 8192
instruments:
  - symbol: ETH-USD
    quote_precision: 2
    tick_size: "0.01"
    lot_size: "0.0001"
    maker_fee_rate: "0.0005"
    taker_fee_rate: "0.0015"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8192, cfg.IntakeQueueCapacity)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, "ETH-USD", cfg.Instruments[0].Symbol)
	assert.True(t, cfg.Instruments[0].MakerFeeRate.Equal(decimalFromString(t, "0.0005")))
}

func TestLoad_InstrumentMissingFeeRatesFallsBackToDefaultFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matchcore.yaml")
	contents := `
instruments:
  - symbol: SOL-USD
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Instruments, 1)
	inst := cfg.Instruments[0]
	assert.Equal(t, "SOL-USD", inst.Symbol)
	assert.True(t, inst.TickSize.Equal(decimalFromString(t, "0.01")))
	assert.True(t, inst.MakerFeeRate.Equal(decimalFromString(t, "0.0010")))
	assert.Equal(t, int32(2), inst.QuotePrecision)
}

func TestLoad_EnvOverridesTakePrecedenceOverDefaults(t *testing.T) {
	t.Setenv("MATCHCORE_LOG_LEVEL", "warn")
	t.Setenv("MATCHCORE_INTAKE_QUEUE_CAPACITY", "2048")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2048, cfg.IntakeQueueCapacity)
}

func TestLoad_BadDecimalFieldReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matchcore.yaml")
	contents := `
instruments:
  - symbol: BAD-USD
    tick_size: "not-a-number"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	dec, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return dec
}
