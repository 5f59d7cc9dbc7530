package config

import (
	"fmt"
	"strings"

	"venus/internal/market"
)

var supportedSources = map[string]bool{
	"binance": true,
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Chart.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	if strings.TrimSpace(d.ResultsPath) == "" {
		return fmt.Errorf("data.results_path cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if !supportedSources[m.Source] {
		return fmt.Errorf("market.source %q is not supported", m.Source)
	}
	if m.RateLimitPerMin < 0 {
		return fmt.Errorf("market.rate_limit_per_min must be >= 0")
	}
	if m.MaxBatch > 1500 {
		return fmt.Errorf("market.max_batch must be <= 1500")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if _, err := market.ParseVTSymbol(b.VTSymbol); err != nil {
		return fmt.Errorf("backtest.vt_symbol: %w", err)
	}
	if strings.TrimSpace(b.Interval) == "" {
		return fmt.Errorf("backtest.interval cannot be empty")
	}
	if b.Rate < 0 || b.Rate >= 1 {
		return fmt.Errorf("backtest.rate must be in [0,1)")
	}
	if b.Slippage < 0 {
		return fmt.Errorf("backtest.slippage must be >= 0")
	}
	if b.Size <= 0 {
		return fmt.Errorf("backtest.size must be > 0")
	}
	if b.PriceTick <= 0 {
		return fmt.Errorf("backtest.pricetick must be > 0")
	}
	if b.Capital <= 0 {
		return fmt.Errorf("backtest.capital must be > 0")
	}
	return nil
}

func (c *ChartConfig) validate() error {
	if c.Width < 320 || c.Height < 240 {
		return fmt.Errorf("chart size %dx%d is too small", c.Width, c.Height)
	}
	return nil
}
