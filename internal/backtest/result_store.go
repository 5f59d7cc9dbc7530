package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"venus/internal/pairing"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound run id 不存在。
var ErrRunNotFound = errors.New("run not found")

type runModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	VTSymbol      string         `gorm:"column:vt_symbol;index"`
	Interval      string         `gorm:"column:interval"`
	Strategy      string         `gorm:"column:strategy"`
	Status        string         `gorm:"column:status"`
	Message       string         `gorm:"column:message"`
	StartTS       int64          `gorm:"column:start_ts"`
	EndTS         int64          `gorm:"column:end_ts"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	OpenJSON      datatypes.JSON `gorm:"column:open_json;type:TEXT"`
	EquityJSON    datatypes.JSON `gorm:"column:equity_json;type:TEXT"`
	NetPnL        float64        `gorm:"column:net_pnl"`
	ReturnPct     float64        `gorm:"column:return_pct"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
	CompletedAt   *int64         `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string `gorm:"column:run_id;index:idx_trade_run,priority:1"`
	Seq        int    `gorm:"column:seq;index:idx_trade_run,priority:2"`
	TradeID    string `gorm:"column:trade_id"`
	TS         int64  `gorm:"column:ts"`
	Direction  string `gorm:"column:direction"`
	Offset     string `gorm:"column:offset"`
	Price      string `gorm:"column:price"`
	Volume     string `gorm:"column:volume"`
	Commission string `gorm:"column:commission"`
	Reason     string `gorm:"column:reason"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type legModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string `gorm:"column:run_id;index:idx_leg_run,priority:1"`
	Seq          int    `gorm:"column:seq;index:idx_leg_run,priority:2"`
	Direction    string `gorm:"column:direction"`
	OpenTS       int64  `gorm:"column:open_ts"`
	OpenPrice    string `gorm:"column:open_price"`
	CloseTS      int64  `gorm:"column:close_ts"`
	ClosePrice   string `gorm:"column:close_price"`
	Volume       string `gorm:"column:volume"`
	OpenSeq      int    `gorm:"column:open_seq"`
	CloseSeq     int    `gorm:"column:close_seq"`
	OpenTradeID  string `gorm:"column:open_trade_id"`
	CloseTradeID string `gorm:"column:close_trade_id"`
}

func (legModel) TableName() string { return "backtest_legs" }

// ResultStore 保存回测任务、成交与配对结果（gorm + sqlite）。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &legModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 写入新任务。
func (s *ResultStore) CreateRun(ctx context.Context, run Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	m := runModel{
		ID:            run.ID,
		VTSymbol:      run.Params.VTSymbol,
		Interval:      run.Params.Interval,
		Strategy:      run.Params.Strategy,
		Status:        run.Status,
		Message:       run.Message,
		StartTS:       run.Params.Start.UnixMilli(),
		EndTS:         run.Params.End.UnixMilli(),
		ParamsJSON:    datatypes.JSON(params),
		StatsJSON:     datatypes.JSON([]byte("{}")),
		CreatedAtUnix: run.CreatedAt.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRunStatus 更新状态与提示信息；终态会记录完成时间。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	updates := map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// SaveResult 在一个事务里写入成交、配对与统计，并把任务置为 done。
func (s *ResultStore) SaveResult(ctx context.Context, id string, res RunResult) error {
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	open, err := json.Marshal(res.Open)
	if err != nil {
		return err
	}
	equity, err := json.Marshal(res.Equity)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&legModel{}).Error; err != nil {
			return err
		}
		if len(res.Trades) > 0 {
			rows := make([]tradeModel, 0, len(res.Trades))
			for _, t := range res.Trades {
				rows = append(rows, newTradeModel(id, t))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		if len(res.Legs) > 0 {
			rows := make([]legModel, 0, len(res.Legs))
			for i, l := range res.Legs {
				rows = append(rows, newLegModel(id, i, l))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		now := time.Now().UnixMilli()
		upd := tx.Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":       RunStatusDone,
			"message":      "",
			"stats_json":   datatypes.JSON(stats),
			"open_json":    datatypes.JSON(open),
			"equity_json":  datatypes.JSON(equity),
			"net_pnl":      res.Stats.NetPnL.InexactFloat64(),
			"return_pct":   res.Stats.ReturnPct,
			"updated_at":   now,
			"completed_at": now,
		})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

// GetRun 读取任务；不存在时返回 ErrRunNotFound。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return Run{}, err
	}
	return m.toRun()
}

// ListRuns 按创建时间倒序返回最近的任务。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, m := range rows {
		run, err := m.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) ListTrades(ctx context.Context, id string) ([]Trade, error) {
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toTrade())
	}
	return out, nil
}

func (s *ResultStore) ListLegs(ctx context.Context, id string) ([]pairing.MatchedLeg, error) {
	var rows []legModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]pairing.MatchedLeg, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLeg())
	}
	return out, nil
}

// LoadResult 还原已完成任务的成交、配对与资金曲线（不含 K 线）。
func (s *ResultStore) LoadResult(ctx context.Context, id string) (Run, RunResult, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return Run{}, RunResult{}, err
	}
	var m runModel
	if err := s.db.WithContext(ctx).Select("open_json", "equity_json").Where("id = ?", id).First(&m).Error; err != nil {
		return Run{}, RunResult{}, err
	}
	res := RunResult{Stats: run.Stats}
	if res.Trades, err = s.ListTrades(ctx, id); err != nil {
		return Run{}, RunResult{}, err
	}
	if res.Legs, err = s.ListLegs(ctx, id); err != nil {
		return Run{}, RunResult{}, err
	}
	if err := decodeJSONColumn(m.OpenJSON, &res.Open); err != nil {
		return Run{}, RunResult{}, err
	}
	if err := decodeJSONColumn(m.EquityJSON, &res.Equity); err != nil {
		return Run{}, RunResult{}, err
	}
	return run, res, nil
}

func (m runModel) toRun() (Run, error) {
	run := Run{
		ID:        m.ID,
		Status:    m.Status,
		Message:   m.Message,
		CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt: time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.CompletedAt != nil {
		run.CompletedAt = time.UnixMilli(*m.CompletedAt)
	}
	if err := decodeJSONColumn(m.ParamsJSON, &run.Params); err != nil {
		return Run{}, fmt.Errorf("run %s params: %w", m.ID, err)
	}
	if err := decodeJSONColumn(m.StatsJSON, &run.Stats); err != nil {
		return Run{}, fmt.Errorf("run %s stats: %w", m.ID, err)
	}
	return run, nil
}

func decodeJSONColumn(data datatypes.JSON, out any) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func newTradeModel(runID string, t Trade) tradeModel {
	return tradeModel{
		RunID:      runID,
		Seq:        t.Seq,
		TradeID:    t.TradeID,
		TS:         t.Time.UnixMilli(),
		Direction:  string(t.Direction),
		Offset:     string(t.Offset),
		Price:      t.Price.String(),
		Volume:     t.Volume.String(),
		Commission: t.Commission.String(),
		Reason:     t.Reason,
	}
}

func (m tradeModel) toTrade() Trade {
	return Trade{
		Seq:        m.Seq,
		TradeID:    m.TradeID,
		Time:       time.UnixMilli(m.TS).UTC(),
		Direction:  pairing.Direction(m.Direction),
		Offset:     Offset(m.Offset),
		Price:      parseDecimal(m.Price),
		Volume:     parseDecimal(m.Volume),
		Commission: parseDecimal(m.Commission),
		Reason:     m.Reason,
	}
}

func newLegModel(runID string, seq int, l pairing.MatchedLeg) legModel {
	return legModel{
		RunID:        runID,
		Seq:          seq,
		Direction:    string(l.Direction),
		OpenTS:       l.OpenTime.UnixMilli(),
		OpenPrice:    l.OpenPrice.String(),
		CloseTS:      l.CloseTime.UnixMilli(),
		ClosePrice:   l.ClosePrice.String(),
		Volume:       l.Volume.String(),
		OpenSeq:      l.OpenSeq,
		CloseSeq:     l.CloseSeq,
		OpenTradeID:  l.OpenTradeID,
		CloseTradeID: l.CloseTradeID,
	}
}

func (m legModel) toLeg() pairing.MatchedLeg {
	return pairing.MatchedLeg{
		OpenTime:     time.UnixMilli(m.OpenTS).UTC(),
		OpenPrice:    parseDecimal(m.OpenPrice),
		CloseTime:    time.UnixMilli(m.CloseTS).UTC(),
		ClosePrice:   parseDecimal(m.ClosePrice),
		Direction:    pairing.Direction(m.Direction),
		Volume:       parseDecimal(m.Volume),
		OpenSeq:      m.OpenSeq,
		CloseSeq:     m.CloseSeq,
		OpenTradeID:  m.OpenTradeID,
		CloseTradeID: m.CloseTradeID,
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
