package app

import (
	"fmt"
	"strings"

	"venus/internal/backtest"
	"venus/internal/config"
)

type StartupSummary struct {
	HTTPAddr   string
	Data       DataSummary
	Market     MarketSummary
	Defaults   DefaultsSummary
	Strategies []StrategySummary
}

type DataSummary struct {
	Root        string
	ResultsPath string
}

type MarketSummary struct {
	Source          string
	RESTBaseURL     string
	RateLimitPerMin int
	MaxBatch        int
}

type DefaultsSummary struct {
	VTSymbol     string
	Interval     string
	Strategy     string
	Capital      float64
	Rate         float64
	Slippage     float64
	LookbackDays int
}

type StrategySummary struct {
	Name        string
	Kind        string
	Description string
}

func buildSummary(cfg *config.Config, reg *backtest.StrategyRegistry) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr: cfg.App.HTTPAddr,
		Data:     DataSummary{Root: cfg.Data.Root, ResultsPath: cfg.Data.ResultsPath},
		Market: MarketSummary{
			Source:          cfg.Market.Source,
			RESTBaseURL:     cfg.Market.RESTBaseURL,
			RateLimitPerMin: cfg.Market.RateLimitPerMin,
			MaxBatch:        cfg.Market.MaxBatch,
		},
		Defaults: DefaultsSummary{
			VTSymbol:     cfg.Backtest.VTSymbol,
			Interval:     cfg.Backtest.Interval,
			Strategy:     cfg.Backtest.Strategy,
			Capital:      cfg.Backtest.Capital,
			Rate:         cfg.Backtest.Rate,
			Slippage:     cfg.Backtest.Slippage,
			LookbackDays: cfg.Backtest.LookbackDays,
		},
	}
	if reg != nil {
		for _, p := range reg.Presets() {
			s.Strategies = append(s.Strategies, StrategySummary{Name: p.Name, Kind: p.Kind, Description: p.Description})
		}
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[HTTP]")
	fmt.Fprintf(&b, "  监听地址: %s\n\n", orDash(s.HTTPAddr))

	fmt.Fprintln(&b, "[数据 (DATA)]")
	fmt.Fprintf(&b, "  K 线目录: %s\n", orDash(s.Data.Root))
	fmt.Fprintf(&b, "  结果库:   %s\n\n", orDash(s.Data.ResultsPath))

	fmt.Fprintln(&b, "[行情下载 (MARKET)]")
	fmt.Fprintf(&b, "  数据源: %s (%s)\n", orDash(s.Market.Source), orDash(s.Market.RESTBaseURL))
	fmt.Fprintf(&b, "  限速:   %d 次/分钟，单批 %d 根\n\n", s.Market.RateLimitPerMin, s.Market.MaxBatch)

	fmt.Fprintln(&b, "[回测默认参数 (BACKTEST)]")
	fmt.Fprintf(&b, "  合约: %s  周期: %s  策略: %s\n", orDash(s.Defaults.VTSymbol), orDash(s.Defaults.Interval), orDash(s.Defaults.Strategy))
	fmt.Fprintf(&b, "  资金: %.2f  手续费率: %g  滑点: %g  回看: %d 天\n\n", s.Defaults.Capital, s.Defaults.Rate, s.Defaults.Slippage, s.Defaults.LookbackDays)

	fmt.Fprintln(&b, "[策略预设 (STRATEGIES)]")
	if len(s.Strategies) == 0 {
		fmt.Fprintln(&b, "  (无配置)")
	}
	for _, st := range s.Strategies {
		fmt.Fprintf(&b, "  - %s [%s] %s\n", st.Name, st.Kind, st.Description)
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
