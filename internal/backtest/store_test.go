package backtest

import (
	"context"
	"testing"
	"time"

	"venus/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hourMs = time.Hour.Milliseconds()

// hourly 生成从 startHour 开始的 n 根小时线，收盘价递增。
func hourly(startHour, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := int64(startHour+i) * hourMs
		px := 100 + float64(startHour+i)
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      px,
			High:      px + 2,
			Low:       px - 2,
			Close:     px + 1,
			Volume:    10,
		}
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_InsertQueryAndManifest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	n, err := st.InsertCandles(ctx, "BTCUSDT", "1h", hourly(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// 覆盖写
	upd := hourly(3, 1)
	upd[0].Close = 999
	_, err = st.InsertCandles(ctx, "BTCUSDT", "1h", upd)
	require.NoError(t, err)

	all, err := st.RangeCandles(ctx, "BTCUSDT", "1h", 1*hourMs, 5*hourMs)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 999.0, all[2].Close)

	latest, err := st.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 4*hourMs, latest[0].OpenTime)
	assert.Equal(t, 5*hourMs, latest[1].OpenTime)

	m, err := st.Manifest(ctx, "btcusdt", "1H")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, int64(5), m.Rows)
	assert.Equal(t, 1*hourMs, m.MinTime)
	assert.Equal(t, 5*hourMs, m.MaxTime)

	_, err = st.RangeCandles(ctx, "BTCUSDT", "1h", 0, 0)
	assert.Error(t, err)
}

func TestStore_CheckIntegrity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tf, _ := ParseTimeframe("1h")

	data := append(hourly(0, 3), hourly(5, 2)...)
	_, err := st.InsertCandles(ctx, "ETHUSDT", "1h", data)
	require.NoError(t, err)

	rep, err := st.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 9*hourMs)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rep.Expected)
	assert.Equal(t, int64(5), rep.Present)
	assert.False(t, rep.Complete())
	require.Len(t, rep.Gaps, 2)
	assert.Equal(t, Gap{From: 3 * hourMs, To: 4 * hourMs, Count: 2}, rep.Gaps[0])
	assert.Equal(t, Gap{From: 7 * hourMs, To: 9 * hourMs, Count: 3}, rep.Gaps[1])
	assert.Equal(t, int64(5), rep.Missing())

	rep, err = st.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 2*hourMs)
	require.NoError(t, err)
	assert.True(t, rep.Complete())
}
