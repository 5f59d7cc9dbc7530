package market

import (
	"sort"
	"time"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

type Candles []Candle

// Time 返回开盘时间（UTC）。
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

func (c Candle) Bullish() bool {
	return c.Close >= c.Open
}

func (c Candle) TimeString() string {
	if c.OpenTime <= 0 {
		return "-"
	}
	return c.Time().Format("2006-01-02 15:04")
}

// Closes 抽取收盘价序列，供 talib 指标计算。
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func (cs Candles) Highs() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.High
	}
	return out
}

func (cs Candles) Lows() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Low
	}
	return out
}

// PriceBounds 返回区间最低价与最高价。
func (cs Candles) PriceBounds() (low, high float64) {
	if len(cs) == 0 {
		return 0, 0
	}
	low, high = cs[0].Low, cs[0].High
	for _, c := range cs[1:] {
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}
	return low, high
}

// NormalizeCandles 按 open_time 去重（后出现的覆盖先出现的），升序排列，
// 并丢弃价格非正的脏数据。不修改入参。
func NormalizeCandles(cs []Candle) []Candle {
	if len(cs) == 0 {
		return nil
	}
	byTime := make(map[int64]Candle, len(cs))
	for _, c := range cs {
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			continue
		}
		byTime[c.OpenTime] = c
	}
	out := make([]Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}
