package backtest

import (
	"context"
)

// Gap 表示 [From, To] 区间（均为 open_time，含端点）缺失的 K 线。
type Gap struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Count int64 `json:"count"`
}

// IntegrityReport 本地数据相对周期网格的完整度。
type IntegrityReport struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Expected  int64  `json:"expected"`
	Present   int64  `json:"present"`
	Gaps      []Gap  `json:"gaps,omitempty"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

func (r IntegrityReport) Missing() int64 {
	var n int64
	for _, g := range r.Gaps {
		n += g.Count
	}
	return n
}

// CheckIntegrity 对比 [start,end] 网格与库内 open_time，给出缺口列表。
// 不在网格上的 open_time 不计入 Present。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
		Expected:  tf.ExpectedCandles(start, end),
	}
	times, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return report, err
	}
	report.Present, report.Gaps = findGaps(times, start, end, tf.durationMillis())
	return report, nil
}

func findGaps(times []int64, start, end, step int64) (int64, []Gap) {
	if step <= 0 || end < start {
		return 0, nil
	}
	var (
		present int64
		gaps    []Gap
	)
	cursor := start
	addGap := func(from, to int64) {
		if to < from {
			return
		}
		gaps = append(gaps, Gap{From: from, To: to, Count: (to-from)/step + 1})
	}
	for _, ts := range times {
		if ts < cursor || (ts-start)%step != 0 {
			continue
		}
		addGap(cursor, ts-step)
		present++
		cursor = ts + step
	}
	addGap(cursor, end)
	return present, gaps
}
