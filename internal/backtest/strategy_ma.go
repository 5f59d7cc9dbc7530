package backtest

import (
	"fmt"

	"venus/internal/market"

	talib "github.com/markcheno/go-talib"
)

// MACross 双均线交叉：快线上穿做多，下穿做空，始终持有 Lots 手。
type MACross struct {
	Fast int     `mapstructure:"fast"`
	Slow int     `mapstructure:"slow"`
	Lots float64 `mapstructure:"lots"`

	fast []float64
	slow []float64
}

func newMACross(params map[string]any) (Strategy, error) {
	s := &MACross{Fast: 5, Slow: 20, Lots: 1}
	if err := decodeParams(params, s); err != nil {
		return nil, fmt.Errorf("ma_cross 参数错误: %w", err)
	}
	if s.Fast < 2 || s.Slow <= s.Fast {
		return nil, fmt.Errorf("ma_cross 需要 2 <= fast < slow（fast=%d slow=%d）", s.Fast, s.Slow)
	}
	if s.Lots <= 0 {
		return nil, fmt.Errorf("ma_cross lots 必须 > 0")
	}
	return s, nil
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) Init(candles market.Candles) error {
	s.fast, s.slow = nil, nil
	if len(candles) <= s.Slow {
		return nil
	}
	closes := candles.Closes()
	s.fast = talib.Sma(closes, s.Fast)
	s.slow = talib.Sma(closes, s.Slow)
	return nil
}

func (s *MACross) OnBar(bar BarContext) (Signal, bool) {
	i := bar.Index
	if s.slow == nil || i < s.Slow || i >= len(s.slow) {
		return Signal{}, false
	}
	prevDiff := s.fast[i-1] - s.slow[i-1]
	diff := s.fast[i] - s.slow[i]
	switch {
	case prevDiff <= 0 && diff > 0 && bar.Position <= 0:
		return Signal{Target: s.Lots, Reason: fmt.Sprintf("SMA%d 上穿 SMA%d", s.Fast, s.Slow)}, true
	case prevDiff >= 0 && diff < 0 && bar.Position >= 0:
		return Signal{Target: -s.Lots, Reason: fmt.Sprintf("SMA%d 下穿 SMA%d", s.Fast, s.Slow)}, true
	}
	return Signal{}, false
}
