package backtest

import (
	"fmt"

	"venus/internal/market"

	"github.com/mitchellh/mapstructure"
)

// BarContext 为策略提供当前 bar 与持仓（正数多头、负数空头）。
type BarContext struct {
	Index    int
	Candle   market.Candle
	Position float64
}

// Signal 目标仓位语义：Target 为期望的净持仓手数。
type Signal struct {
	Target float64
	Reason string
}

// Strategy 逐 bar 推演的回测策略。Init 在回放前调用一次，
// 指标应在此时整体计算，OnBar 只做查表判断。
type Strategy interface {
	Name() string
	Init(candles market.Candles) error
	OnBar(bar BarContext) (Signal, bool)
}

// StrategyFactory 由参数构造策略实例（每次回测一个新实例）。
type StrategyFactory func(params map[string]any) (Strategy, error)

var builtinStrategies = map[string]StrategyFactory{
	"ma_cross": newMACross,
	"breakout": newBreakout,
}

// BuiltinStrategyKinds 返回内置策略类型名。
func BuiltinStrategyKinds() []string {
	return []string{"breakout", "ma_cross"}
}

func lookupStrategyKind(kind string) (StrategyFactory, error) {
	f, ok := builtinStrategies[kind]
	if !ok {
		return nil, fmt.Errorf("未知策略类型: %s", kind)
	}
	return f, nil
}

// decodeParams 把 map 参数弱类型解码进策略结构体（mapstructure 标签）。
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
