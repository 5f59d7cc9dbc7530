package config

import "strings"

// Config 是 venus 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Market   MarketConfig   `toml:"market"`
	Backtest BacktestConfig `toml:"backtest"`
	Chart    ChartConfig    `toml:"chart"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 本地数据目录：K 线库与回测结果库。
type DataConfig struct {
	Root        string `toml:"root"`
	ResultsPath string `toml:"results_path"`
}

// MarketConfig 描述历史 K 线下载源及限速。
type MarketConfig struct {
	Source             string `toml:"source"`
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	RateLimitPerMin    int    `toml:"rate_limit_per_min"`
	MaxBatch           int    `toml:"max_batch"`
	MaxConcurrent      int    `toml:"max_concurrent"`
}

// BacktestConfig 回测默认参数，请求未填写的字段从这里补齐。
type BacktestConfig struct {
	VTSymbol       string  `toml:"vt_symbol"`
	Interval       string  `toml:"interval"`
	Rate           float64 `toml:"rate"`
	Slippage       float64 `toml:"slippage"`
	Size           float64 `toml:"size"`
	PriceTick      float64 `toml:"pricetick"`
	Capital        float64 `toml:"capital"`
	Strategy       string  `toml:"strategy"`
	LookbackDays   int     `toml:"lookback_days"`
	StrategiesPath string  `toml:"strategies_path"`
	MaxConcurrent  int     `toml:"max_concurrent"`
}

type ChartConfig struct {
	Width     int   `toml:"width"`
	Height    int   `toml:"height"`
	MAWindows []int `toml:"ma_windows"`
	RenderPNG bool  `toml:"render_png"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
