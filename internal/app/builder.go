package app

import (
	"context"
	"fmt"
	"time"

	"venus/internal/backtest"
	"venus/internal/config"
	"venus/internal/logger"
	backtesthttp "venus/internal/transport/http/backtest"

	"github.com/shopspring/decimal"
)

type AppBuilder struct {
	cfg *config.Config

	sourcesFn  func(config.MarketConfig) map[string]backtest.CandleSource
	registryFn func(string) (*backtest.StrategyRegistry, error)
	httpFn     func(backtesthttp.Config) (*backtesthttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSources 替换默认数据源，测试时用离线实现。
func WithSources(fn func(config.MarketConfig) map[string]backtest.CandleSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}

// WithoutHTTP 不创建 HTTP 服务，命令行工具使用。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) {
		b.httpFn = func(backtesthttp.Config) (*backtesthttp.Server, error) { return nil, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourcesFn:  buildSources,
		registryFn: backtest.NewStrategyRegistry,
		httpFn:     backtesthttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildSources(cfg config.MarketConfig) map[string]backtest.CandleSource {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	return map[string]backtest.CandleSource{
		"binance": backtest.NewBinanceSource(cfg.RESTBaseURL, timeout),
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	bt, err := b.buildBacktest(cfg)
	if err != nil {
		return nil, err
	}
	bt.Bind(ctx)
	return &App{
		cfg:      cfg,
		backtest: bt,
		Summary:  buildSummary(cfg, bt.registry),
	}, nil
}

func (b *AppBuilder) buildBacktest(cfg *config.Config) (_ *BacktestService, err error) {
	out := &BacktestService{}
	defer func() {
		if err != nil {
			out.Close()
		}
	}()

	out.store, err = backtest.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	out.results, err = backtest.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}
	out.svc, err = backtest.NewService(backtest.ServiceConfig{
		Store:           out.store,
		Sources:         b.sourcesFn(cfg.Market),
		DefaultExchange: cfg.Market.Source,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		MaxBatch:        cfg.Market.MaxBatch,
		MaxConcurrent:   cfg.Market.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	out.registry, err = b.registryFn(cfg.Backtest.StrategiesPath)
	if err != nil {
		return nil, fmt.Errorf("加载策略预设失败: %w", err)
	}
	out.sim, err = backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:   out.store,
		ResultStore:   out.results,
		Fetcher:       out.svc,
		Registry:      out.registry,
		Defaults:      defaultRunParams(cfg.Backtest),
		Lookback:      time.Duration(cfg.Backtest.LookbackDays) * 24 * time.Hour,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	out.server, err = b.httpFn(backtesthttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Svc:       out.svc,
		Simulator: out.sim,
		Results:   out.results,
		Chart: backtesthttp.ChartConfig{
			Width:     cfg.Chart.Width,
			Height:    cfg.Chart.Height,
			MAWindows: cfg.Chart.MAWindows,
			RenderPNG: cfg.Chart.RenderPNG,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 回测数据目录 %s，结果库 %s", cfg.Data.Root, cfg.Data.ResultsPath)
	return out, nil
}

func defaultRunParams(cfg config.BacktestConfig) backtest.RunParams {
	return backtest.RunParams{
		VTSymbol:  cfg.VTSymbol,
		Interval:  cfg.Interval,
		Rate:      decimal.NewFromFloat(cfg.Rate),
		Slippage:  decimal.NewFromFloat(cfg.Slippage),
		Size:      decimal.NewFromFloat(cfg.Size),
		PriceTick: decimal.NewFromFloat(cfg.PriceTick),
		Capital:   decimal.NewFromFloat(cfg.Capital),
		Strategy:  cfg.Strategy,
	}
}
