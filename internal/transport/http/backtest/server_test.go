package backtesthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"venus/internal/backtest"
	"venus/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(time.Hour / time.Millisecond)

type emptySource struct{}

func (emptySource) Name() string { return "binance" }

func (emptySource) Fetch(context.Context, backtest.FetchRequest) ([]market.Candle, error) {
	return nil, nil
}

func zigzag(startHour, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := int64(startHour+i) * hourMs
		px := 100 + float64(i%7)*3
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      px - 1,
			High:      px + 2,
			Low:       px - 2,
			Close:     px,
			Volume:    5,
		}
	}
	return out
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := backtest.NewStore(filepath.Join(dir, "candles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.InsertCandles(context.Background(), "BTCUSDT", "1h", zigzag(1000, 48))
	require.NoError(t, err)

	results, err := backtest.NewResultStore(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:   store,
		Sources: map[string]backtest.CandleSource{"binance": emptySource{}},
	})
	require.NoError(t, err)
	reg, err := backtest.NewStrategyRegistry("")
	require.NoError(t, err)
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore: store,
		ResultStore: results,
		Fetcher:     svc,
		Registry:    reg,
		Defaults: backtest.RunParams{
			VTSymbol:  "BTCUSDT.BINANCE",
			Interval:  "1h",
			Rate:      decimal.Zero,
			Slippage:  decimal.Zero,
			Size:      decimal.NewFromInt(1),
			PriceTick: decimal.RequireFromString("0.01"),
			Capital:   decimal.NewFromInt(10000),
			Strategy:  "ma_cross",
		},
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{Addr: ":0", Svc: svc, Simulator: sim, Chart: ChartConfig{Width: 800, Height: 500}})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_RunLifecycle(t *testing.T) {
	srv := newTestServer(t)

	body := `{"start_ts": 3600000000, "end_ts": 3769200000, "strategy": "ma_cross", "strategy_params": {"fast": 2, "slow": 4}}`
	rec := do(t, srv, http.MethodPost, "/api/backtest/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started struct {
		Run backtest.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.Run.ID)

	var detail struct {
		Run backtest.Run `json:"run"`
	}
	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/api/backtest/runs/"+started.Run.ID, "")
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &detail) != nil {
			return false
		}
		return detail.Run.Status == backtest.RunStatusDone || detail.Run.Status == backtest.RunStatusFailed
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, backtest.RunStatusDone, detail.Run.Status, detail.Run.Message)
	assert.Equal(t, 48, detail.Run.Stats.Bars)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+started.Run.ID+"/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades struct {
		Trades []backtest.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Equal(t, detail.Run.Stats.Trades, len(trades.Trades))

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+started.Run.ID+"/legs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+started.Run.ID+"/chart", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+started.Run.ID+"/chart?format=png", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), started.Run.ID)
}

func TestServer_RunErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/backtest/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/nope/trades", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/nope/chart", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/backtest/runs", `{"strategy": "martingale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/backtest/runs", `{"strategy": "ma_cross", "strategy_params": {"fast": 1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/backtest/runs", `{"vt_symbol": "BTCUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Pairing(t *testing.T) {
	srv := newTestServer(t)
	body := `[
		{"time": "2025-01-02T09:30:00Z", "direction": "long", "price": 100, "volume": 10},
		{"time": "2025-01-02T10:30:00Z", "direction": "short", "price": 105, "volume": 4},
		{"time": "2025-01-02T11:30:00Z", "direction": "short", "price": 95, "volume": 8}
	]`

	rec := do(t, srv, http.MethodPost, "/api/pairing?size=2&open=1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep struct {
		Legs []struct {
			Direction string `json:"direction"`
			Volume    string `json:"volume"`
			PnL       string `json:"pnl"`
		} `json:"legs"`
		Open []struct {
			Direction string `json:"direction"`
			Volume    string `json:"volume"`
		} `json:"open"`
		Summary struct {
			Legs     int    `json:"legs"`
			Wins     int    `json:"wins"`
			TotalPnL string `json:"total_pnl"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Len(t, rep.Legs, 2)
	assert.Equal(t, "4", rep.Legs[0].Volume)
	assert.Equal(t, "40", rep.Legs[0].PnL)
	assert.Equal(t, "6", rep.Legs[1].Volume)
	assert.Equal(t, "-60", rep.Legs[1].PnL)
	require.Len(t, rep.Open, 1)
	assert.Equal(t, "short", rep.Open[0].Direction)
	assert.Equal(t, "2", rep.Open[0].Volume)
	assert.Equal(t, 1, rep.Summary.Wins)
	assert.Equal(t, "-20", rep.Summary.TotalPnL)

	rec = do(t, srv, http.MethodPost, "/api/pairing?format=yaml", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "close_price:")

	rec = do(t, srv, http.MethodPost, "/api/pairing", `[{"time": 1, "side": "flat", "price": 1, "volume": 1}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/pairing?size=-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Catalog(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/backtest/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ma_cross")
	assert.Contains(t, rec.Body.String(), "breakout")

	rec = do(t, srv, http.MethodGet, "/api/backtest/timeframes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"1h"`)

	rec = do(t, srv, http.MethodGet, "/api/backtest/candles?symbol=BTCUSDT&timeframe=1h&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Candles []market.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Candles, 10)

	rec = do(t, srv, http.MethodGet, "/api/backtest/candles?symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/backtest/fetch/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
