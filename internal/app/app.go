package app

import (
	"context"
	"fmt"

	"venus/internal/config"
	"venus/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg      *config.Config
	backtest *BacktestService
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动回测 HTTP 服务，阻塞到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.backtest == nil {
		return fmt.Errorf("backtest service not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.backtest.Close()

	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Bind(ctx)
	if a.backtest.server != nil {
		group.Go(func() error {
			if err := a.backtest.server.Start(ctx); err != nil {
				return fmt.Errorf("backtest http server error: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// Backtest 暴露回测服务，供命令行工具直接调用。
func (a *App) Backtest() *BacktestService {
	if a == nil {
		return nil
	}
	return a.backtest
}

// Close 在未调用 Run 时释放资源。
func (a *App) Close() {
	if a != nil {
		a.backtest.Close()
	}
}
