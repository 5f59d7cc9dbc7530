package app

import (
	"context"
	"path/filepath"
	"testing"

	"venus/internal/backtest"
	"venus/internal/config"
	"venus/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type offlineSource struct{}

func (offlineSource) Name() string { return "binance" }

func (offlineSource) Fetch(context.Context, backtest.FetchRequest) ([]market.Candle, error) {
	return nil, nil
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		App:    config.AppConfig{LogLevel: "warn", HTTPAddr: ":0"},
		Data:   config.DataConfig{Root: filepath.Join(dir, "candles"), ResultsPath: filepath.Join(dir, "runs.db")},
		Market: config.MarketConfig{Source: "binance", RateLimitPerMin: 600, MaxBatch: 500, MaxConcurrent: 1},
		Backtest: config.BacktestConfig{
			VTSymbol:     "BTCUSDT.BINANCE",
			Interval:     "1h",
			Rate:         0.0004,
			Size:         1,
			PriceTick:    0.1,
			Capital:      10000,
			Strategy:     "ma_cross",
			LookbackDays: 7,
		},
		Chart: config.ChartConfig{Width: 800, Height: 400},
	}
}

func offline(config.MarketConfig) map[string]backtest.CandleSource {
	return map[string]backtest.CandleSource{"binance": offlineSource{}}
}

func TestAppBuilder_Build(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAppBuilder(cfg, WithSources(offline)).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	bt := a.Backtest()
	require.NotNil(t, bt.Server())
	require.NotNil(t, bt.Simulator())
	defaults := bt.Simulator().Defaults()
	assert.Equal(t, "BTCUSDT.BINANCE", defaults.VTSymbol)
	assert.Equal(t, "0.0004", defaults.Rate.String())

	out := a.Summary.String()
	assert.Contains(t, out, "ma_cross")
	assert.Contains(t, out, "breakout")
	assert.Contains(t, out, "BTCUSDT.BINANCE")
}

func TestAppBuilder_WithoutHTTP(t *testing.T) {
	a, err := NewAppBuilder(testConfig(t), WithSources(offline), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Backtest().Server())
}

func TestAppBuilder_BadStrategiesPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backtest.StrategiesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewAppBuilder(cfg, WithSources(offline)).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "策略预设")
}
