// Package chart 把 K 线与配对后的交易腿渲染为 echarts 页面（可选截图为 PNG）。
package chart

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"venus/internal/market"
	"venus/internal/pairing"
)

// ErrNoHistory 尚未加载 K 线。
var ErrNoHistory = errors.New("chart: no history loaded")

// ErrBeforeHistory 成交时间早于第一根 K 线，无法定位。
var ErrBeforeHistory = errors.New("chart: trade time before first bar")

const (
	colorProfit = "red"
	colorLoss   = "green"
	colorLong   = "yellow"
	colorShort  = "magenta"

	// 标记与 K 线的间距占价格区间的比例，文字再向外 3 倍。
	markerOffsetRatio = 0.001
	labelOffsetFactor = 3
)

// Segment 一条开平仓连线。
type Segment struct {
	OpenIndex  int               `json:"open_index"`
	CloseIndex int               `json:"close_index"`
	OpenPrice  float64           `json:"open_price"`
	ClosePrice float64           `json:"close_price"`
	Direction  pairing.Direction `json:"direction"`
	Profitable bool              `json:"profitable"`
	Color      string            `json:"color"`
}

// Marker 开/平仓箭头及其数量标签。Up 为 true 时箭头朝上。
type Marker struct {
	Index      int     `json:"index"`
	Price      float64 `json:"price"`
	Up         bool    `json:"up"`
	Color      string  `json:"color"`
	Label      string  `json:"label"`
	LabelPrice float64 `json:"label_price"`
	Open       bool    `json:"open"`
}

type Marks struct {
	Segments []Segment `json:"segments"`
	Markers  []Marker  `json:"markers"`
}

// Board 图表派生状态。每次换合约或重跑回测都要 Reset 后整体重建，不做增量更新。
type Board struct {
	symbol     string
	candles    market.Candles
	timeIndex  map[int64]int
	high, low  float64
	priceRange float64
	legs       []pairing.MatchedLeg
	marks      Marks
}

func NewBoard() *Board {
	b := &Board{}
	b.Reset()
	return b
}

func (b *Board) Reset() {
	b.symbol = ""
	b.candles = nil
	b.timeIndex = make(map[int64]int)
	b.high, b.low, b.priceRange = 0, 0, 0
	b.legs = nil
	b.marks = Marks{}
}

// UpdateHistory 载入 K 线并重建时间到下标的映射；会清掉已有的交易标记。
func (b *Board) UpdateHistory(symbol string, candles market.Candles) {
	b.Reset()
	b.symbol = strings.TrimSpace(symbol)
	b.candles = market.NormalizeCandles(candles)
	for i, c := range b.candles {
		b.timeIndex[c.OpenTime] = i
	}
	b.low, b.high = b.candles.PriceBounds()
	b.priceRange = b.high - b.low
}

// UpdateTrades 配对成交并生成连线与标记。失败时清空标记并返回错误。
func (b *Board) UpdateTrades(trades []pairing.TradeRecord) error {
	b.legs = nil
	b.marks = Marks{}
	legs, err := pairing.PairTrades(trades)
	if err != nil {
		return err
	}
	return b.UpdateLegs(legs)
}

// UpdateLegs 直接使用已配对的交易腿（回测结果已持久化配对时使用）。
func (b *Board) UpdateLegs(legs []pairing.MatchedLeg) error {
	b.legs = nil
	b.marks = Marks{}
	if len(b.candles) == 0 {
		if len(legs) == 0 {
			return nil
		}
		return ErrNoHistory
	}
	adj := b.priceRange * markerOffsetRatio
	marks := Marks{
		Segments: make([]Segment, 0, len(legs)),
		Markers:  make([]Marker, 0, len(legs)*2),
	}
	for i, leg := range legs {
		openIx, err := b.IndexOf(leg.OpenTime)
		if err != nil {
			return fmt.Errorf("leg #%d open: %w", i, err)
		}
		closeIx, err := b.IndexOf(leg.CloseTime)
		if err != nil {
			return fmt.Errorf("leg #%d close: %w", i, err)
		}
		seg := Segment{
			OpenIndex:  openIx,
			CloseIndex: closeIx,
			OpenPrice:  leg.OpenPrice.InexactFloat64(),
			ClosePrice: leg.ClosePrice.InexactFloat64(),
			Direction:  leg.Direction,
			Profitable: leg.Profitable(),
			Color:      colorLoss,
		}
		if seg.Profitable {
			seg.Color = colorProfit
		}
		marks.Segments = append(marks.Segments, seg)

		openBar, closeBar := b.candles[openIx], b.candles[closeIx]
		label := fmt.Sprintf("[%s]", leg.Volume.String())
		// 多头：开仓箭头朝上画在低点下方，平仓箭头朝下画在高点上方；空头相反。
		color, openY, closeY, openSide := colorLong, openBar.Low, closeBar.High, 1.0
		if leg.Direction == pairing.Short {
			color, openY, closeY, openSide = colorShort, openBar.High, closeBar.Low, -1.0
		}
		closeSide := -openSide
		marks.Markers = append(marks.Markers,
			Marker{
				Index:      openIx,
				Price:      openY - openSide*adj,
				Up:         openSide > 0,
				Color:      color,
				Label:      label,
				LabelPrice: openY - openSide*adj*labelOffsetFactor,
				Open:       true,
			},
			Marker{
				Index:      closeIx,
				Price:      closeY - closeSide*adj,
				Up:         closeSide > 0,
				Color:      color,
				Label:      label,
				LabelPrice: closeY - closeSide*adj*labelOffsetFactor,
			},
		)
	}
	b.legs = legs
	b.marks = marks
	return nil
}

// IndexOf 把时间映射到 bar 下标：先精确匹配开盘时间，否则取开盘时间 <= t 的最后一根。
func (b *Board) IndexOf(t time.Time) (int, error) {
	if len(b.candles) == 0 {
		return 0, ErrNoHistory
	}
	ms := t.UnixMilli()
	if ix, ok := b.timeIndex[ms]; ok {
		return ix, nil
	}
	ix := sort.Search(len(b.candles), func(i int) bool { return b.candles[i].OpenTime > ms }) - 1
	if ix < 0 {
		return 0, fmt.Errorf("%w: %s", ErrBeforeHistory, t.UTC().Format(time.RFC3339))
	}
	return ix, nil
}

func (b *Board) Symbol() string { return b.symbol }

func (b *Board) Candles() market.Candles { return b.candles }

func (b *Board) Legs() []pairing.MatchedLeg { return b.legs }

func (b *Board) Marks() Marks { return b.marks }

// PriceRange 返回区间最高价、最低价与价差。
func (b *Board) PriceRange() (high, low, span float64) {
	return b.high, b.low, b.priceRange
}
