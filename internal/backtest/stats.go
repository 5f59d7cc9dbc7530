package backtest

import (
	"venus/internal/market"
	"venus/internal/pairing"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// computeStats 逐 bar 盯市得到资金曲线，再按配对结果统计胜率与持仓时长。
// 权益 = 初始资金 + 现金流 - 手续费 + 持仓 × 收盘价 × 合约乘数。
func computeStats(params RunParams, candles market.Candles, trades []Trade, paired pairing.Result) ([]EquityPoint, RunStats) {
	stats := RunStats{
		Bars:   len(candles),
		Trades: len(trades),
		Legs:   len(paired.Legs),
	}
	var (
		cash       = decimal.Zero
		commission = decimal.Zero
		pos        = decimal.Zero
		peak       = params.Capital
		maxDD      = decimal.Zero
		maxDDPct   = decimal.Zero
		equity     = params.Capital
		next       int
	)
	curve := make([]EquityPoint, 0, len(candles))
	for _, c := range candles {
		for next < len(trades) && !trades[next].Time.After(c.Time()) {
			t := trades[next]
			notional := t.Price.Mul(t.Volume).Mul(params.Size)
			if t.Direction == pairing.Long {
				cash = cash.Sub(notional)
				pos = pos.Add(t.Volume)
			} else {
				cash = cash.Add(notional)
				pos = pos.Sub(t.Volume)
			}
			commission = commission.Add(t.Commission)
			next++
		}
		mark := pos.Mul(decimal.NewFromFloat(c.Close)).Mul(params.Size)
		equity = params.Capital.Add(cash).Sub(commission).Add(mark)
		curve = append(curve, EquityPoint{Time: c.OpenTime, Equity: equity.InexactFloat64()})
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if peak.IsPositive() {
			if pct := peak.Sub(equity).Div(peak).Mul(hundred); pct.GreaterThan(maxDDPct) {
				maxDDPct = pct
			}
		}
	}

	var holding float64
	for _, leg := range paired.Legs {
		if leg.Profitable() {
			stats.Wins++
		} else {
			stats.Losses++
		}
		holding += leg.Holding().Minutes()
	}
	if n := len(paired.Legs); n > 0 {
		stats.WinRate = float64(stats.Wins) / float64(n)
		stats.AvgHoldingMinutes = holding / float64(n)
	}

	stats.Commission = commission
	stats.NetPnL = equity.Sub(params.Capital)
	stats.GrossPnL = stats.NetPnL.Add(commission)
	stats.EndBalance = equity
	if params.Capital.IsPositive() {
		stats.ReturnPct = stats.NetPnL.Div(params.Capital).Mul(hundred).InexactFloat64()
	}
	stats.MaxDrawdown = maxDD
	stats.MaxDrawdownPct = maxDDPct.InexactFloat64()
	stats.EndPosition = pos
	return curve, stats
}
