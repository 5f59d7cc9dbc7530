package backtest

import (
	"fmt"

	"venus/internal/market"

	talib "github.com/markcheno/go-talib"
)

// Breakout 唐奇安通道突破：收盘突破前 Window 根最高价做多，跌破最低价做空；
// ExitWindow > 0 时反向突破较短通道即平仓。
type Breakout struct {
	Window     int     `mapstructure:"window"`
	ExitWindow int     `mapstructure:"exit_window"`
	Lots       float64 `mapstructure:"lots"`

	upper, lower         []float64
	exitUpper, exitLower []float64
}

func newBreakout(params map[string]any) (Strategy, error) {
	s := &Breakout{Window: 20, Lots: 1}
	if err := decodeParams(params, s); err != nil {
		return nil, fmt.Errorf("breakout 参数错误: %w", err)
	}
	if s.Window < 2 {
		return nil, fmt.Errorf("breakout window 必须 >= 2")
	}
	if s.ExitWindow < 0 || s.ExitWindow >= s.Window {
		return nil, fmt.Errorf("breakout exit_window 需在 [0, window) 内")
	}
	if s.Lots <= 0 {
		return nil, fmt.Errorf("breakout lots 必须 > 0")
	}
	return s, nil
}

func (s *Breakout) Name() string { return "breakout" }

func (s *Breakout) Init(candles market.Candles) error {
	s.upper, s.lower, s.exitUpper, s.exitLower = nil, nil, nil, nil
	if len(candles) <= s.Window {
		return nil
	}
	highs, lows := candles.Highs(), candles.Lows()
	s.upper = talib.Max(highs, s.Window)
	s.lower = talib.Min(lows, s.Window)
	if s.ExitWindow > 0 {
		s.exitUpper = talib.Max(highs, s.ExitWindow)
		s.exitLower = talib.Min(lows, s.ExitWindow)
	}
	return nil
}

// OnBar 用前一根的通道值判断，避免当根最高价参与自身突破。
func (s *Breakout) OnBar(bar BarContext) (Signal, bool) {
	i := bar.Index
	if s.upper == nil || i < s.Window || i >= len(s.upper) {
		return Signal{}, false
	}
	px := bar.Candle.Close
	switch {
	case px > s.upper[i-1] && bar.Position <= 0:
		return Signal{Target: s.Lots, Reason: fmt.Sprintf("突破 %d 周期高点", s.Window)}, true
	case px < s.lower[i-1] && bar.Position >= 0:
		return Signal{Target: -s.Lots, Reason: fmt.Sprintf("跌破 %d 周期低点", s.Window)}, true
	}
	if s.exitUpper != nil {
		if bar.Position > 0 && px < s.exitLower[i-1] {
			return Signal{Target: 0, Reason: fmt.Sprintf("跌破 %d 周期低点离场", s.ExitWindow)}, true
		}
		if bar.Position < 0 && px > s.exitUpper[i-1] {
			return Signal{Target: 0, Reason: fmt.Sprintf("突破 %d 周期高点离场", s.ExitWindow)}, true
		}
	}
	return Signal{}, false
}
