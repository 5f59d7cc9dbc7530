package backtest

import (
	"fmt"
	"strings"
	"time"

	"venus/internal/market"
	"venus/internal/pairing"

	"github.com/shopspring/decimal"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Offset 标记一笔成交是开仓还是平仓。
type Offset string

const (
	OffsetOpen  Offset = "open"
	OffsetClose Offset = "close"
)

// RunParams 回测参数快照，字段含义与 vnpy set_parameters 一致。
type RunParams struct {
	VTSymbol       string          `json:"vt_symbol"`
	Interval       string          `json:"interval"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Rate           decimal.Decimal `json:"rate"`
	Slippage       decimal.Decimal `json:"slippage"`
	Size           decimal.Decimal `json:"size"`
	PriceTick      decimal.Decimal `json:"pricetick"`
	Capital        decimal.Decimal `json:"capital"`
	Strategy       string          `json:"strategy"`
	StrategyParams map[string]any  `json:"strategy_params,omitempty"`
}

// Validate 检查参数合法性，并返回解析后的合约代码与周期。
func (p RunParams) Validate() (market.VTSymbol, Timeframe, error) {
	vt, err := market.ParseVTSymbol(p.VTSymbol)
	if err != nil {
		return market.VTSymbol{}, Timeframe{}, err
	}
	tf, err := ParseTimeframe(p.Interval)
	if err != nil {
		return market.VTSymbol{}, Timeframe{}, err
	}
	switch {
	case p.Start.IsZero() || p.End.IsZero():
		return vt, tf, fmt.Errorf("start/end 不能为空")
	case !p.End.After(p.Start):
		return vt, tf, fmt.Errorf("end 必须晚于 start")
	case p.Rate.IsNegative():
		return vt, tf, fmt.Errorf("rate 不能为负")
	case p.Slippage.IsNegative():
		return vt, tf, fmt.Errorf("slippage 不能为负")
	case !p.Size.IsPositive():
		return vt, tf, fmt.Errorf("size 必须 > 0")
	case !p.PriceTick.IsPositive():
		return vt, tf, fmt.Errorf("pricetick 必须 > 0")
	case !p.Capital.IsPositive():
		return vt, tf, fmt.Errorf("capital 必须 > 0")
	case strings.TrimSpace(p.Strategy) == "":
		return vt, tf, fmt.Errorf("strategy 不能为空")
	}
	return vt, tf, nil
}

// Trade 回测产生的一笔成交。
type Trade struct {
	Seq        int               `json:"seq"`
	TradeID    string            `json:"trade_id"`
	Time       time.Time         `json:"time"`
	Direction  pairing.Direction `json:"direction"`
	Offset     Offset            `json:"offset"`
	Price      decimal.Decimal   `json:"price"`
	Volume     decimal.Decimal   `json:"volume"`
	Commission decimal.Decimal   `json:"commission"`
	Reason     string            `json:"reason,omitempty"`
}

// Record 转成配对引擎的输入。
func (t Trade) Record() pairing.TradeRecord {
	return pairing.TradeRecord{
		ID:        t.TradeID,
		Time:      t.Time,
		Direction: t.Direction,
		Price:     t.Price,
		Volume:    t.Volume,
	}
}

func TradeRecords(trades []Trade) []pairing.TradeRecord {
	out := make([]pairing.TradeRecord, len(trades))
	for i, t := range trades {
		out[i] = t.Record()
	}
	return out
}

// RunStats 汇总收益、风控指标，供前端展示。
type RunStats struct {
	Bars              int             `json:"bars"`
	Trades            int             `json:"trades"`
	Legs              int             `json:"legs"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	WinRate           float64         `json:"win_rate"`
	GrossPnL          decimal.Decimal `json:"gross_pnl"`
	Commission        decimal.Decimal `json:"commission"`
	NetPnL            decimal.Decimal `json:"net_pnl"`
	EndBalance        decimal.Decimal `json:"end_balance"`
	ReturnPct         float64         `json:"return_pct"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct    float64         `json:"max_drawdown_pct"`
	AvgHoldingMinutes float64         `json:"avg_holding_minutes"`
	EndPosition       decimal.Decimal `json:"end_position"`
}

// RunResult 一次回测的完整产出。
type RunResult struct {
	Candles []market.Candle        `json:"-"`
	Trades  []Trade                `json:"trades"`
	Legs    []pairing.MatchedLeg   `json:"legs"`
	Open    []pairing.OpenPosition `json:"open,omitempty"`
	Equity  []EquityPoint          `json:"equity,omitempty"`
	Stats   RunStats               `json:"stats"`
}

// EquityPoint 每根 bar 收盘时的盯市权益。
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Run 表示一次模拟任务。
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Params      RunParams `json:"params"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// RunRequest 为 HTTP 提交使用，未填写的字段取配置默认值。
type RunRequest struct {
	VTSymbol       string         `json:"vt_symbol"`
	Interval       string         `json:"interval"`
	StartTS        int64          `json:"start_ts"`
	EndTS          int64          `json:"end_ts"`
	Rate           *float64       `json:"rate"`
	Slippage       *float64       `json:"slippage"`
	Size           *float64       `json:"size"`
	PriceTick      *float64       `json:"pricetick"`
	Capital        *float64       `json:"capital"`
	Strategy       string         `json:"strategy"`
	StrategyParams map[string]any `json:"strategy_params"`
}

// Resolve 以 defaults 为底补齐请求参数；未给时间范围时取 lookback 天。
func (r RunRequest) Resolve(defaults RunParams, lookback time.Duration, now time.Time) RunParams {
	p := defaults
	if s := strings.TrimSpace(r.VTSymbol); s != "" {
		p.VTSymbol = s
	}
	if s := strings.TrimSpace(r.Interval); s != "" {
		p.Interval = s
	}
	if s := strings.TrimSpace(r.Strategy); s != "" {
		p.Strategy = s
	}
	setDec := func(dst *decimal.Decimal, v *float64) {
		if v != nil {
			*dst = decimal.NewFromFloat(*v)
		}
	}
	setDec(&p.Rate, r.Rate)
	setDec(&p.Slippage, r.Slippage)
	setDec(&p.Size, r.Size)
	setDec(&p.PriceTick, r.PriceTick)
	setDec(&p.Capital, r.Capital)
	p.StrategyParams = r.StrategyParams
	p.End = now.UTC()
	if r.EndTS > 0 {
		p.End = time.UnixMilli(r.EndTS).UTC()
	}
	p.Start = p.End.Add(-lookback)
	if r.StartTS > 0 {
		p.Start = time.UnixMilli(r.StartTS).UTC()
	}
	return p
}
