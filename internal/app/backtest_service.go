package app

import (
	"context"

	"venus/internal/backtest"
	backtesthttp "venus/internal/transport/http/backtest"
)

// BacktestService 管理回测数据、服务与 HTTP 暴露。
type BacktestService struct {
	store    *backtest.Store
	results  *backtest.ResultStore
	svc      *backtest.Service
	registry *backtest.StrategyRegistry
	sim      *backtest.Simulator
	server   *backtesthttp.Server
}

// Bind 把宿主 ctx 交给下载与模拟任务，ctx 结束时后台任务随之取消。
func (b *BacktestService) Bind(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

func (b *BacktestService) Service() *backtest.Service { return b.svc }

func (b *BacktestService) Simulator() *backtest.Simulator { return b.sim }

func (b *BacktestService) Results() *backtest.ResultStore { return b.results }

func (b *BacktestService) Server() *backtesthttp.Server { return b.server }

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}
