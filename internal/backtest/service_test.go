package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"venus/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSource 按请求区间从内存数据中切片返回。
type fakeSource struct {
	mu    sync.Mutex
	data  []market.Candle
	calls int
	block chan struct{}
	err   error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []market.Candle
	for _, c := range f.data {
		if c.OpenTime >= req.Start && (req.End == 0 || c.OpenTime <= req.End) {
			out = append(out, c)
			if len(out) == req.Limit {
				break
			}
		}
	}
	return out, nil
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string { return m.Called().String(0) }

func (m *mockSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	args := m.Called(ctx, req)
	candles, _ := args.Get(0).([]market.Candle)
	return candles, args.Error(1)
}

func newTestService(t *testing.T, src CandleSource, batch int) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:           newTestStore(t),
		Sources:         map[string]CandleSource{"binance": src},
		RateLimitPerMin: 600000,
		MaxBatch:        batch,
		MaxConcurrent:   2,
	})
	require.NoError(t, err)
	return svc
}

func TestService_FetchFillsGaps(t *testing.T) {
	src := &fakeSource{data: hourly(0, 24)}
	svc := newTestService(t, src, 5)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 23 * hourMs})
	require.NoError(t, err)
	assert.Equal(t, int64(24), job.Total)

	done, err := svc.WaitJob(context.Background(), job.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, done.Status)
	assert.Equal(t, int64(24), done.Completed)
	assert.Empty(t, done.Missing)
	assert.GreaterOrEqual(t, src.calls, 5)

	candles, err := svc.RangeCandles(context.Background(), "BTCUSDT", "1h", 1, 23*hourMs)
	require.NoError(t, err)
	assert.Len(t, candles, 23)

	// 数据已完整时直接完成，不再调用数据源
	calls := src.calls
	again, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 23 * hourMs})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, again.Status)
	assert.Equal(t, calls, src.calls)
	assert.Len(t, svc.JobsSnapshot(), 2)
}

func TestService_OneJobPerSymbolTimeframe(t *testing.T) {
	src := &fakeSource{data: hourly(0, 10), block: make(chan struct{})}
	svc := newTestService(t, src, 100)

	first, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 9 * hourMs})
	require.NoError(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "btcusdt", Timeframe: "1H", Start: 0, End: 9 * hourMs})
	assert.True(t, errors.Is(err, ErrJobRunning))

	active, ok := svc.ActiveJob("BTCUSDT", "1h")
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	// 其它周期不受影响
	other, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "4h", Start: 0, End: 8 * hourMs})
	require.NoError(t, err)

	close(src.block)
	_, err = svc.WaitJob(context.Background(), first.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)
	_, err = svc.WaitJob(context.Background(), other.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)

	_, ok = svc.ActiveJob("BTCUSDT", "1h")
	assert.False(t, ok)
	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 9 * hourMs})
	assert.NoError(t, err)
}

func TestService_SourceErrorFailsJob(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	svc := newTestService(t, src, 100)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 3 * hourMs})
	require.NoError(t, err)
	done, err := svc.WaitJob(context.Background(), job.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, done.Status)
	assert.Contains(t, done.Message, "boom")
}

func TestService_PartialWhenSourceRunsDry(t *testing.T) {
	src := &fakeSource{data: hourly(0, 3)}
	svc := newTestService(t, src, 100)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: 0, End: 5 * hourMs})
	require.NoError(t, err)
	done, err := svc.WaitJob(context.Background(), job.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPartial, done.Status)
	require.Len(t, done.Missing, 1)
	assert.Equal(t, int64(3), done.Missing[0].Count)
}

func TestService_RejectsBadParams(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, 100)
	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1h", Start: 0, End: hourMs})
	assert.Error(t, err)
	_, err = svc.SubmitFetch(FetchParams{Symbol: "X", Timeframe: "2h", Start: 0, End: hourMs})
	assert.Error(t, err)
	_, err = svc.SubmitFetch(FetchParams{Symbol: "X", Exchange: "okx", Timeframe: "1h", Start: 0, End: hourMs})
	assert.Error(t, err)
	_, err = svc.SubmitFetch(FetchParams{Symbol: "X", Timeframe: "1h", Start: hourMs, End: hourMs})
	assert.Error(t, err)
}

func TestDropUnclosed(t *testing.T) {
	cs := hourly(0, 3)
	now := time.UnixMilli(2*hourMs + 10)
	out := dropUnclosed(cs, now)
	assert.Len(t, out, 2)
	out = dropUnclosed(cs, time.UnixMilli(3*hourMs))
	assert.Len(t, out, 3)
}

func TestService_FetchRequestUsesSourceInterval(t *testing.T) {
	step := 4 * hourMs
	candles := make([]market.Candle, 4)
	for i := range candles {
		open := int64(i) * step
		candles[i] = market.Candle{OpenTime: open, CloseTime: open + step - 1, Open: 100, High: 101, Low: 99, Close: 100}
	}
	src := &mockSource{}
	src.On("Name").Return("binance").Maybe()
	src.On("Fetch", mock.Anything, mock.MatchedBy(func(req FetchRequest) bool {
		return req.Symbol == "ETHUSDT" && req.Interval == "4h" && req.Start == 0 && req.Limit == 4
	})).Return(candles, nil).Once()

	svc := newTestService(t, src, 100)
	job, err := svc.SubmitFetch(FetchParams{Symbol: "ETHUSDT", Timeframe: "4h", Start: 0, End: 3 * step})
	require.NoError(t, err)
	done, err := svc.WaitJob(context.Background(), job.ID, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, done.Status)
	assert.Equal(t, int64(4), done.Completed)
	src.AssertExpectations(t)
}
