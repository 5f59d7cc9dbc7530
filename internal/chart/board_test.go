package chart

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"venus/internal/market"
	"venus/internal/pairing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

// bars 生成 n 根小时线，第 i 根 low=100+i, high=110+i。
func bars(n int) market.Candles {
	out := make(market.Candles, n)
	for i := range out {
		open := base.Add(time.Duration(i) * time.Hour).UnixMilli()
		px := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + time.Hour.Milliseconds() - 1,
			Open:      px + 2,
			High:      px + 10,
			Low:       px,
			Close:     px + 5,
			Volume:    float64(10 + i),
		}
	}
	return out
}

func tr(hours float64, dir pairing.Direction, vol, price int64) pairing.TradeRecord {
	return pairing.TradeRecord{
		Time:      base.Add(time.Duration(hours * float64(time.Hour))),
		Direction: dir,
		Price:     decimal.NewFromInt(price),
		Volume:    decimal.NewFromInt(vol),
	}
}

func TestBoard_IndexOf(t *testing.T) {
	b := NewBoard()
	_, err := b.IndexOf(base)
	assert.ErrorIs(t, err, ErrNoHistory)

	b.UpdateHistory("BTCUSDT.BINANCE", bars(5))
	ix, err := b.IndexOf(base.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, ix)

	// 落在 bar 内部取所在那根
	ix, err = b.IndexOf(base.Add(3*time.Hour + 20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, ix)

	// 晚于最后一根仍归到最后一根
	ix, err = b.IndexOf(base.Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, ix)

	_, err = b.IndexOf(base.Add(-time.Minute))
	assert.True(t, errors.Is(err, ErrBeforeHistory))
}

func TestBoard_UpdateTradesLongAndShort(t *testing.T) {
	b := NewBoard()
	b.UpdateHistory("BTCUSDT.BINANCE", bars(10))
	_, low, span := b.PriceRange()
	require.Equal(t, 100.0, low)
	require.Equal(t, 19.0, span)
	adj := span * markerOffsetRatio

	err := b.UpdateTrades([]pairing.TradeRecord{
		tr(1, pairing.Long, 2, 103),
		tr(3, pairing.Short, 2, 101), // 亏损多头
		tr(5, pairing.Short, 1, 108),
		tr(7.5, pairing.Long, 1, 104), // 盈利空头
	})
	require.NoError(t, err)

	marks := b.Marks()
	require.Len(t, marks.Segments, 2)
	require.Len(t, marks.Markers, 4)
	assert.Len(t, b.Legs(), 2)

	long := marks.Segments[0]
	assert.Equal(t, 1, long.OpenIndex)
	assert.Equal(t, 3, long.CloseIndex)
	assert.False(t, long.Profitable)
	assert.Equal(t, colorLoss, long.Color)

	short := marks.Segments[1]
	assert.Equal(t, 5, short.OpenIndex)
	assert.Equal(t, 7, short.CloseIndex)
	assert.True(t, short.Profitable)
	assert.Equal(t, colorProfit, short.Color)

	openL, closeL := marks.Markers[0], marks.Markers[1]
	assert.Equal(t, colorLong, openL.Color)
	assert.True(t, openL.Up)
	assert.InDelta(t, 101-adj, openL.Price, 1e-9)
	assert.InDelta(t, 101-3*adj, openL.LabelPrice, 1e-9)
	assert.False(t, closeL.Up)
	assert.InDelta(t, 113+adj, closeL.Price, 1e-9)
	assert.Equal(t, "[2]", closeL.Label)

	openS, closeS := marks.Markers[2], marks.Markers[3]
	assert.Equal(t, colorShort, openS.Color)
	assert.False(t, openS.Up)
	assert.InDelta(t, 115+adj, openS.Price, 1e-9)
	assert.True(t, closeS.Up)
	assert.InDelta(t, 107-adj, closeS.Price, 1e-9)
	assert.InDelta(t, 107-3*adj, closeS.LabelPrice, 1e-9)
}

func TestBoard_UpdateTradesErrors(t *testing.T) {
	b := NewBoard()
	b.UpdateHistory("X.SHFE", bars(3))

	err := b.UpdateTrades([]pairing.TradeRecord{tr(0, pairing.Long, 0, 100)})
	assert.ErrorIs(t, err, pairing.ErrInvalidVolume)
	assert.Empty(t, b.Marks().Segments)

	err = b.UpdateTrades([]pairing.TradeRecord{tr(-2, pairing.Long, 1, 100), tr(1, pairing.Short, 1, 100)})
	assert.ErrorIs(t, err, ErrBeforeHistory)
	assert.Empty(t, b.Marks().Markers)

	empty := NewBoard()
	assert.NoError(t, empty.UpdateTrades(nil))
	assert.ErrorIs(t, empty.UpdateTrades([]pairing.TradeRecord{tr(0, pairing.Long, 1, 1), tr(1, pairing.Short, 1, 1)}), ErrNoHistory)
}

func TestBoard_HistoryResetsMarks(t *testing.T) {
	b := NewBoard()
	b.UpdateHistory("A.SSE", bars(4))
	require.NoError(t, b.UpdateTrades([]pairing.TradeRecord{tr(0, pairing.Long, 1, 100), tr(2, pairing.Short, 1, 104)}))
	require.Len(t, b.Marks().Segments, 1)

	b.UpdateHistory("B.SSE", bars(4))
	assert.Equal(t, "B.SSE", b.Symbol())
	assert.Empty(t, b.Marks().Segments)
	assert.Nil(t, b.Legs())
}

func TestBoard_Render(t *testing.T) {
	b := NewBoard()
	var buf bytes.Buffer
	assert.ErrorIs(t, b.Render(&buf, RenderOptions{}), ErrNoHistory)

	b.UpdateHistory("BTCUSDT.BINANCE", bars(30))
	require.NoError(t, b.UpdateTrades([]pairing.TradeRecord{
		tr(2, pairing.Long, 1, 105),
		tr(12, pairing.Short, 1, 118),
	}))
	html, err := b.RenderHTML(RenderOptions{MAWindows: []int{5, 10}, Equity: []float64{1, 2, 3}})
	require.NoError(t, err)
	out := string(html)
	assert.True(t, strings.Contains(out, "BTCUSDT.BINANCE"))
	assert.Contains(t, out, "MA5")
	assert.Contains(t, out, "MA10")
	assert.Contains(t, out, "leg-1")
	assert.Contains(t, out, "dashed")
	assert.Contains(t, out, "Equity")
}
