package backtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"venus/internal/logger"
	"venus/internal/market"
	"venus/internal/pairing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SimulatorConfig struct {
	CandleStore   *Store
	ResultStore   *ResultStore
	Fetcher       *Service
	Registry      *StrategyRegistry
	Defaults      RunParams
	Lookback      time.Duration
	MaxConcurrent int
	// PollInterval 等待下载任务时的轮询间隔，默认 1s。
	PollInterval time.Duration
}

const statusWriteTimeout = 5 * time.Second

// Simulator 把历史 K 线交给策略逐 bar 推演，成交经 FIFO 配对后落库。
type Simulator struct {
	store    *Store
	results  *ResultStore
	fetcher  *Service
	registry *StrategyRegistry
	defaults RunParams
	lookback time.Duration
	poll     time.Duration

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("strategy registry 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Simulator{
		store:    cfg.CandleStore,
		results:  cfg.ResultStore,
		fetcher:  cfg.Fetcher,
		registry: cfg.Registry,
		defaults: cfg.Defaults,
		lookback: lookback,
		poll:     poll,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Simulator) Results() *ResultStore { return s.results }

func (s *Simulator) Registry() *StrategyRegistry { return s.registry }

// Defaults 返回配置中的默认回测参数。
func (s *Simulator) Defaults() RunParams { return s.defaults }

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	params := req.Resolve(s.defaults, s.lookback, time.Now())
	if _, _, err := params.Validate(); err != nil {
		return Run{}, err
	}
	if _, _, err := s.registry.Build(params.Strategy, params.StrategyParams); err != nil {
		return Run{}, err
	}
	now := time.Now()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.results.CreateRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, params)
	return run, nil
}

func (s *Simulator) runLoop(runID string, params RunParams) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx().Done():
			s.markFailed(runID, "服务已关闭")
			return
		}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.setStatus(ctx, runID, RunStatusRunning, "准备数据…")
	res, err := s.Execute(ctx, params, func(msg string) {
		s.setStatus(ctx, runID, RunStatusRunning, msg)
	})
	if err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		s.markFailed(runID, err.Error())
		return
	}
	if err := s.results.SaveResult(ctx, runID, res); err != nil {
		logger.Errorf("[backtest] run %s 保存结果失败: %v", runID, err)
		s.markFailed(runID, err.Error())
		return
	}
	st := res.Stats
	logger.Infof("[backtest] run %s 完成：%s 成交=%d 配对=%d 净盈亏=%s 收益率=%.2f%%",
		runID, params.VTSymbol, st.Trades, st.Legs, st.NetPnL.StringFixed(2), st.ReturnPct)
}

func (s *Simulator) setStatus(ctx context.Context, runID, status, msg string) {
	if err := s.results.UpdateRunStatus(ctx, runID, status, msg); err != nil {
		logger.Debugf("update run status failed: %v", err)
	}
}

// markFailed 基础 ctx 可能已取消（关闭中），失败状态用独立的短超时写入。
func (s *Simulator) markFailed(runID, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx()), statusWriteTimeout)
	defer cancel()
	s.setStatus(ctx, runID, RunStatusFailed, msg)
}

// Execute 同步执行一次回测：补齐数据、构造策略、回放并配对。
// progress 可为空。
func (s *Simulator) Execute(ctx context.Context, params RunParams, progress func(string)) (RunResult, error) {
	vt, tf, err := params.Validate()
	if err != nil {
		return RunResult{}, err
	}
	strat, merged, err := s.registry.Build(params.Strategy, params.StrategyParams)
	if err != nil {
		return RunResult{}, err
	}
	params.StrategyParams = merged
	if progress == nil {
		progress = func(string) {}
	}
	start, end := tf.AlignRange(params.Start.UnixMilli(), params.End.UnixMilli())
	if err := s.ensureData(ctx, vt, tf, start, end, progress); err != nil {
		return RunResult{}, err
	}
	candles, err := s.store.RangeCandles(ctx, vt.Symbol, tf.Key, start, end)
	if err != nil {
		return RunResult{}, err
	}
	progress(fmt.Sprintf("回放 %d 根 %s K 线", len(candles), tf.Key))
	return Replay(params, strat, candles)
}

// ensureData 本地数据不完整时提交下载任务并等待；同 key 已有任务时直接等待它。
func (s *Simulator) ensureData(ctx context.Context, vt market.VTSymbol, tf Timeframe, start, end int64, progress func(string)) error {
	report, err := s.store.CheckIntegrity(ctx, vt.Symbol, tf.Key, tf, start, end)
	if err != nil {
		return err
	}
	if report.Complete() {
		return nil
	}
	if s.fetcher == nil {
		logger.Warnf("[backtest] %s %s 缺 %d 根 K 线且未配置下载服务", vt.Symbol, tf.Key, report.Missing())
		return nil
	}
	job, err := s.fetcher.SubmitFetch(FetchParamsFor(vt, tf.Key, start, end))
	if errors.Is(err, ErrJobRunning) {
		running, ok := s.fetcher.ActiveJob(vt.Symbol, tf.Key)
		if !ok {
			job, err = s.fetcher.SubmitFetch(FetchParamsFor(vt, tf.Key, start, end))
		} else {
			job, err = running, nil
		}
	}
	if err != nil {
		return err
	}
	final, err := s.fetcher.WaitJob(ctx, job.ID, s.poll, func(j FetchJob) {
		msg := fmt.Sprintf("下载 %s %s: %s", j.Params.Symbol, j.Params.Timeframe, j.Status)
		if j.Total > 0 {
			msg = fmt.Sprintf("下载 %s %s: %.1f%%", j.Params.Symbol, j.Params.Timeframe, j.Progress()*100)
		}
		progress(msg)
	})
	if err != nil {
		return err
	}
	switch final.Status {
	case JobStatusFailed:
		return fmt.Errorf("下载 %s %s 失败: %s", vt.Symbol, tf.Key, final.Message)
	case JobStatusPartial:
		logger.Warnf("[backtest] %s %s 数据不完整，按已有数据回放：%s", vt.Symbol, tf.Key, final.Message)
	}
	return nil
}

// Replay 纯函数：按 bar 收盘价（加减滑点并按最小变动价位取整）成交，
// 反手拆成平仓与开仓两笔。成交序列随后做 FIFO 配对并汇总统计。
func Replay(params RunParams, strat Strategy, candles market.Candles) (RunResult, error) {
	if len(candles) == 0 {
		return RunResult{}, fmt.Errorf("区间内没有 K 线")
	}
	if err := strat.Init(candles); err != nil {
		return RunResult{}, fmt.Errorf("策略 %s 初始化失败: %w", strat.Name(), err)
	}
	var (
		trades []Trade
		pos    = decimal.Zero
	)
	emit := func(c market.Candle, dir pairing.Direction, off Offset, vol decimal.Decimal, reason string) {
		price := fillPrice(c.Close, dir, params.Slippage, params.PriceTick)
		seq := len(trades)
		trades = append(trades, Trade{
			Seq:        seq,
			TradeID:    strconv.Itoa(seq + 1),
			Time:       c.Time(),
			Direction:  dir,
			Offset:     off,
			Price:      price,
			Volume:     vol,
			Commission: price.Mul(vol).Mul(params.Size).Mul(params.Rate),
			Reason:     reason,
		})
	}
	for i, c := range candles {
		sig, ok := strat.OnBar(BarContext{Index: i, Candle: c, Position: pos.InexactFloat64()})
		if !ok {
			continue
		}
		target := decimal.NewFromFloat(sig.Target)
		delta := target.Sub(pos)
		if delta.IsZero() {
			continue
		}
		dir := pairing.Long
		if delta.IsNegative() {
			dir = pairing.Short
		}
		remaining := delta.Abs()
		if !pos.IsZero() && pos.Sign() != delta.Sign() {
			closing := decimal.Min(remaining, pos.Abs())
			emit(c, dir, OffsetClose, closing, sig.Reason)
			remaining = remaining.Sub(closing)
		}
		if remaining.IsPositive() {
			emit(c, dir, OffsetOpen, remaining, sig.Reason)
		}
		pos = target
	}
	paired, err := pairing.Pair(TradeRecords(trades))
	if err != nil {
		return RunResult{}, err
	}
	equity, stats := computeStats(params, candles, trades, paired)
	return RunResult{
		Candles: candles,
		Trades:  trades,
		Legs:    paired.Legs,
		Open:    paired.Open,
		Equity:  equity,
		Stats:   stats,
	}, nil
}

// fillPrice 买入加滑点、卖出减滑点，再按 pricetick 四舍五入。
func fillPrice(close float64, dir pairing.Direction, slippage, tick decimal.Decimal) decimal.Decimal {
	price := decimal.NewFromFloat(close)
	if dir == pairing.Long {
		price = price.Add(slippage)
	} else {
		price = price.Sub(slippage)
	}
	if tick.IsPositive() {
		price = price.Div(tick).Round(0).Mul(tick)
		if !price.IsPositive() {
			price = tick
		}
	}
	return price
}
