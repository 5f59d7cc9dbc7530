package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Market.Source)
	assert.Equal(t, defaultBacktestSymbol, cfg.Backtest.VTSymbol)
	assert.Equal(t, defaultBacktestRate, cfg.Backtest.Rate)
	assert.Equal(t, []int{5, 10, 20}, cfg.Chart.MAWindows)
	assert.False(t, cfg.Chart.RenderPNG)
}

func TestLoad_IncludeOrderAndOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "backtest:\n  vt_symbol: ETHUSDT.BINANCE\n  size: 10\nchart:\n  ma_windows: [7, 7, 30, 1]\n")
	path := writeFile(t, dir, "config.yaml", "include: [base.yaml]\nbacktest:\n  size: 3\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT.BINANCE", cfg.Backtest.VTSymbol)
	assert.Equal(t, 3.0, cfg.Backtest.Size)
	assert.Equal(t, []int{7, 30}, cfg.Chart.MAWindows)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_ExplicitZeroIsNotDefaulted(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "backtest:\n  size: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backtest.size")
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"unknown source":   "market:\n  source: ftx\n",
		"bad vt_symbol":    "backtest:\n  vt_symbol: BTCUSDT\n",
		"unknown exchange": "backtest:\n  vt_symbol: BTCUSDT.MOON\n",
		"negative rate":    "backtest:\n  rate: -0.1\n",
		"tiny chart":       "chart:\n  width: 100\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
