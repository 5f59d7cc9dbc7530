package backtesthttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"venus/internal/backtest"
	"venus/internal/chart"
	"venus/internal/logger"
	"venus/internal/market"
	"venus/internal/pairing"
	"venus/internal/tradeio"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr    string
	svc     *backtest.Service
	sim     *backtest.Simulator
	results *backtest.ResultStore
	chart   ChartConfig
	router  *gin.Engine
}

// ChartConfig 图表渲染参数。
type ChartConfig struct {
	Width     int
	Height    int
	MAWindows []int
	RenderPNG bool
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr      string
	Svc       *backtest.Service
	Simulator *backtest.Simulator
	Results   *backtest.ResultStore
	Chart     ChartConfig
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:    cfg.Addr,
		svc:     cfg.Svc,
		sim:     cfg.Simulator,
		results: cfg.Results,
		chart:   cfg.Chart,
		router:  router,
	}
	if s.results == nil && s.sim != nil {
		s.results = s.sim.Results()
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.router.POST("/api/pairing", s.handlePairing)

	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.GET("/timeframes", s.handleTimeframes)
	api.GET("/strategies", s.handleStrategies)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/legs", s.handleRunLegs)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[http] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// writeError 400 校验失败，404 不存在，其余 500。
func writeError(c *gin.Context, status int, err error) {
	if errors.Is(err, backtest.ErrRunNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol"`
		VTSymbol  string `json:"vt_symbol"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	params := backtest.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	}
	if req.VTSymbol != "" {
		vt, err := market.ParseVTSymbol(req.VTSymbol)
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		params = backtest.FetchParamsFor(vt, req.Timeframe, req.StartTS, req.EndTS)
	}
	job, err := s.svc.SubmitFetch(params)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, backtest.ErrJobRunning) {
			status = http.StatusConflict
		}
		writeError(c, status, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	job, ok := s.svc.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "progress": job.Progress()})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleTimeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": backtest.SupportedTimeframes()})
}

func (s *Server) handleStrategies(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	reg := s.sim.Registry()
	c.JSON(http.StatusOK, gin.H{"strategies": reg.Presets(), "version": reg.Version(), "defaults": s.sim.Defaults()})
}

func (s *Server) handleRunStart(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) requireResults(c *gin.Context) bool {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return false
	}
	return true
}

func (s *Server) handleRunList(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	id := c.Param("id")
	if _, err := s.results.GetRun(c.Request.Context(), id); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunLegs(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	id := c.Param("id")
	if _, err := s.results.GetRun(c.Request.Context(), id); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	legs, err := s.results.ListLegs(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"legs": legs})
}

// handleRunChart 用回测的 K 线与成交重建图表，format=png 时截图。
func (s *Server) handleRunChart(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	ctx := c.Request.Context()
	run, res, err := s.results.LoadResult(ctx, c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if run.Status != backtest.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": "回测尚未完成", "status": run.Status})
		return
	}
	vt, tf, err := run.Params.Validate()
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	start, end := tf.AlignRange(run.Params.Start.UnixMilli(), run.Params.End.UnixMilli())
	candles, err := s.svc.RangeCandles(ctx, vt.Symbol, tf.Key, start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	board := chart.NewBoard()
	board.UpdateHistory(vt.String(), candles)
	if err := board.UpdateTrades(backtest.TradeRecords(res.Trades)); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	html, err := board.RenderHTML(chart.RenderOptions{
		Title:     vt.String() + " " + tf.Key,
		Subtitle:  runSubtitle(run),
		Width:     s.chart.Width,
		Height:    s.chart.Height,
		MAWindows: s.chart.MAWindows,
		Equity:    alignEquity(board.Candles(), res.Equity),
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if strings.EqualFold(c.Query("format"), "png") {
		if !s.chart.RenderPNG {
			c.JSON(http.StatusBadRequest, gin.H{"error": "未启用 PNG 渲染"})
			return
		}
		png, err := chart.RenderPNG(ctx, html, s.chart.Width, s.chart.Height)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func runSubtitle(run backtest.Run) string {
	st := run.Stats
	return run.Params.Strategy + " | 配对 " + strconv.Itoa(st.Legs) +
		" | 胜率 " + strconv.FormatFloat(st.WinRate*100, 'f', 1, 64) + "%" +
		" | 净盈亏 " + st.NetPnL.StringFixed(2)
}

func alignEquity(candles market.Candles, points []backtest.EquityPoint) []float64 {
	if len(points) == 0 {
		return nil
	}
	byTime := make(map[int64]float64, len(points))
	for _, p := range points {
		byTime[p.Time] = p.Equity
	}
	out := make([]float64, len(candles))
	last := 0.0
	for i, c := range candles {
		if v, ok := byTime[c.OpenTime]; ok {
			last = v
		}
		out[i] = last
	}
	return out
}

// handlePairing 对提交的成交做一次 FIFO 配对。size 给出时附带盈亏，open=1 附带剩余持仓。
func (s *Server) handlePairing(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 8<<20))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	trades, err := tradeio.Decode(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	res, err := pairing.Pair(trades)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	var size *decimal.Decimal
	if v := strings.TrimSpace(c.Query("size")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size 非法"})
			return
		}
		size = &d
	}
	includeOpen := c.Query("open") == "1" || strings.EqualFold(c.Query("open"), "true")
	report := tradeio.BuildReport(res, size, includeOpen)

	if strings.EqualFold(c.Query("format"), "yaml") {
		var buf strings.Builder
		if err := tradeio.Encode(&buf, report, "yaml"); err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", []byte(buf.String()))
		return
	}
	c.JSON(http.StatusOK, report)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 回测服务监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
