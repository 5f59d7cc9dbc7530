package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultDataRoot        = "data/candles"
	defaultResultsPath     = "data/backtest/results.db"
	defaultMarketSource    = "binance"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultMarketTimeout   = 15
	defaultMarketRate      = 480
	defaultMarketMaxBatch  = 1000
	defaultMarketParallel  = 2
	defaultBacktestSymbol  = "BTCUSDT.BINANCE"
	defaultBacktestTF      = "1h"
	defaultBacktestRate    = 0.0004
	defaultBacktestSize    = 1
	defaultBacktestTick    = 0.1
	defaultBacktestCapital = 1_000_000
	defaultBacktestStrat   = "ma_cross"
	defaultLookbackDays    = 30
	defaultStrategiesPath  = "configs/strategies.yaml"
	defaultBacktestWorkers = 1
	defaultChartWidth      = 1600
	defaultChartHeight     = 720
)

var defaultMAWindows = []int{5, 10, 20}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Chart.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.results_path", &d.ResultsPath, defaultResultsPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketTimeout),
		intFieldDefault("market.rate_limit_per_min", &m.RateLimitPerMin, defaultMarketRate),
		intFieldDefault("market.max_batch", &m.MaxBatch, defaultMarketMaxBatch),
		intFieldDefault("market.max_concurrent", &m.MaxConcurrent, defaultMarketParallel),
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.vt_symbol", &b.VTSymbol, defaultBacktestSymbol),
		stringFieldDefault("backtest.interval", &b.Interval, defaultBacktestTF),
		stringFieldDefault("backtest.strategy", &b.Strategy, defaultBacktestStrat),
		stringFieldDefault("backtest.strategies_path", &b.StrategiesPath, defaultStrategiesPath),
		floatFieldDefault("backtest.rate", &b.Rate, defaultBacktestRate),
		floatFieldDefault("backtest.size", &b.Size, defaultBacktestSize),
		floatFieldDefault("backtest.pricetick", &b.PriceTick, defaultBacktestTick),
		floatFieldDefault("backtest.capital", &b.Capital, defaultBacktestCapital),
		intFieldDefault("backtest.lookback_days", &b.LookbackDays, defaultLookbackDays),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultBacktestWorkers),
	)
}

func (c *ChartConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("chart.width", &c.Width, defaultChartWidth),
		intFieldDefault("chart.height", &c.Height, defaultChartHeight),
		fieldDefault{
			key:   "chart.ma_windows",
			need:  func() bool { return len(c.MAWindows) == 0 },
			apply: func() { c.MAWindows = append([]int(nil), defaultMAWindows...) },
		},
	)
	c.MAWindows = normalizeWindows(c.MAWindows)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeWindows(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, 0, len(in))
	seen := make(map[int]bool, len(in))
	for _, w := range in {
		if w <= 1 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
