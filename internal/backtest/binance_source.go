package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"venus/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const binanceMaxLimit = 1500

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约历史 K 线。
type BinanceSource struct {
	client *futures.Client
	now    func() time.Time
}

func NewBinanceSource(base string, timeout time.Duration) *BinanceSource {
	if base == "" {
		base = "https://fapi.binance.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client, now: time.Now}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = 1000
	}
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.Symbol), "/", ""))
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(req.Interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return dropUnclosed(out, b.now()), nil
}

// dropUnclosed 去掉尚未收盘的最后一根（close_time 仍在未来）。
func dropUnclosed(candles []market.Candle, now time.Time) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > 0 && now.UnixMilli() <= last.CloseTime {
		return candles[:len(candles)-1]
	}
	return candles
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
