package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"venus/internal/logger"
	"venus/internal/market"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrJobRunning 同一 symbol@timeframe 已有下载任务在运行。
var ErrJobRunning = errors.New("已有任务在运行中")

// ServiceConfig 配置 FetchService。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 负责管理任务、协调拉取与写库。
type Service struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	sem     chan struct{}

	mu     sync.RWMutex
	jobs   map[string]*FetchJob
	active map[string]string // symbol@tf -> job id

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, 1),
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		active:          make(map[string]string),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultExchange == "" {
		for k := range svc.sources {
			svc.defaultExchange = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) Store() *Store { return s.store }

// SubmitFetch 提交拉取任务；若区间已完整只做一致性检查。
// 同一 symbol@timeframe 同时只允许一个任务，重复提交返回 ErrJobRunning。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	params.Timeframe = tf.Key
	exchange := strings.ToLower(params.Exchange)
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[exchange]
	if src == nil {
		return FetchJob{}, fmt.Errorf("未知数据源: %s", params.Exchange)
	}
	params.Exchange = exchange
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	params.Start = start
	params.End = end

	key := storeKey(params.Symbol, tf.Key)
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	if running, ok := s.active[key]; ok {
		s.mu.Unlock()
		return FetchJob{}, fmt.Errorf("%w: %s (job=%s)", ErrJobRunning, key, running)
	}
	s.active[key] = job.ID
	s.jobs[job.ID] = job
	s.mu.Unlock()

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, tf.Key, tf, start, end)
	if err != nil {
		s.finishJob(job.ID, JobStatusFailed, err.Error(), nil)
		return FetchJob{}, err
	}
	s.updateJob(job.ID, func(j *FetchJob) {
		j.Total = report.Expected
		j.Completed = minInt64(report.Present, report.Expected)
		j.Missing = append([]Gap(nil), report.Gaps...)
	})
	logger.Infof("[backtest] 任务 %s 提交：%s %s [%d,%d] 预计=%d 缺口=%d", job.ID, params.Symbol, tf.Key, start, end, report.Expected, len(report.Gaps))

	if report.Expected == 0 || report.Complete() {
		s.finishJob(job.ID, JobStatusDone, "数据已完整，无需重新拉取", report.Gaps)
		snap, _ := s.JobSnapshot(job.ID)
		return snap, nil
	}

	go s.runJob(job.ID, tf, report, src)
	snap, _ := s.JobSnapshot(job.ID)
	return snap, nil
}

func (s *Service) runJob(jobID string, tf Timeframe, report IntegrityReport, source CandleSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.finishJob(jobID, JobStatusFailed, "服务已关闭", nil)
		return
	}
	defer func() { <-s.sem }()

	job, ok := s.JobSnapshot(jobID)
	if !ok {
		return
	}
	logger.Infof("[backtest] 任务 %s 开始，缺口=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	step := tf.durationMillis()
	var warnings []string

	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := ctx.Err(); err != nil {
				s.finishJob(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				s.finishJob(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			data, err := source.Fetch(ctx, FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To + step - 1,
				Limit:    remaining,
			})
			if err != nil {
				s.finishJob(jobID, JobStatusFailed, fmt.Sprintf("%s 拉取失败: %v", source.Name(), err), nil)
				return
			}
			data = market.NormalizeCandles(data)
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Symbol, tf.Key, data)
			if err != nil {
				s.finishJob(jobID, JobStatusFailed, fmt.Sprintf("写入失败: %v", err), nil)
				return
			}
			last := data[len(data)-1].OpenTime
			s.updateJob(jobID, func(j *FetchJob) {
				j.Completed = minInt64(j.Completed+int64(inserted), j.Total)
				j.UpdatedAt = time.Now()
				j.Warnings = append([]string(nil), warnings...)
			})
			if last+step <= cursor {
				break
			}
			cursor = last + step
		}
	}

	finalReport, err := s.store.CheckIntegrity(ctx, params.Symbol, tf.Key, tf, params.Start, params.End)
	status := JobStatusDone
	message := "拉取完成"
	if err != nil {
		status = JobStatusFailed
		message = "完整性检查失败: " + err.Error()
	} else if !finalReport.Complete() {
		status = JobStatusPartial
		message = "已完成，但仍存在缺口"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Completed = minInt64(finalReport.Present, j.Total)
		if len(warnings) > 0 {
			j.Warnings = append([]string(nil), warnings...)
		}
	})
	s.finishJob(jobID, status, message, finalReport.Gaps)
	logger.Infof("[backtest] 任务 %s 完成，状态=%s，缺口=%d", jobID, status, len(finalReport.Gaps))
}

// finishJob 写入终态并释放 symbol@tf 占用。
func (s *Service) finishJob(jobID, status, message string, gaps []Gap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	job.Message = message
	job.Missing = append([]Gap(nil), gaps...)
	job.UpdatedAt = time.Now()
	key := storeKey(job.Params.Symbol, job.Params.Timeframe)
	if s.active[key] == jobID {
		delete(s.active, key)
	}
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// ActiveJob 返回 symbol@timeframe 上正在进行的任务。
func (s *Service) ActiveJob(symbol, timeframe string) (FetchJob, bool) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return FetchJob{}, false
	}
	s.mu.RLock()
	id, ok := s.active[storeKey(symbol, tf.Key)]
	s.mu.RUnlock()
	if !ok {
		return FetchJob{}, false
	}
	return s.JobSnapshot(id)
}

// JobsSnapshot 返回所有任务的拷贝列表（最新提交在前）。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// WaitJob 轮询直到任务结束或 ctx 取消，onProgress 可为空。
func (s *Service) WaitJob(ctx context.Context, id string, interval time.Duration, onProgress func(FetchJob)) (FetchJob, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, ok := s.JobSnapshot(id)
		if !ok {
			return FetchJob{}, fmt.Errorf("job %s not found", id)
		}
		if onProgress != nil {
			onProgress(snap)
		}
		if snap.Finished() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe 不能为空")
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return Manifest{}, err
	}
	return s.store.Manifest(ctx, symbol, tf.Key)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return s.store.QueryCandles(ctx, symbol, tf.Key, start, end, limit)
}

// RangeCandles 返回闭区间内的全部 K 线。
func (s *Service) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return s.store.RangeCandles(ctx, symbol, tf.Key, start, end)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
