package backtest

import (
	"time"

	"venus/internal/market"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次下载请求；Exchange 为空时用默认数据源。
type FetchParams struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchParamsFor 由本地代码构造下载参数。
func FetchParamsFor(vt market.VTSymbol, timeframe string, start, end int64) FetchParams {
	return FetchParams{
		Exchange:  vt.SourceName(),
		Symbol:    vt.Symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
	}
}

// FetchJob 下载任务状态，对外只暴露副本。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	out.Missing = append([]Gap(nil), j.Missing...)
	return out
}

func (j FetchJob) Finished() bool {
	switch j.Status {
	case JobStatusDone, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}

func (j FetchJob) Progress() float64 {
	if j.Total <= 0 {
		return 0
	}
	p := float64(j.Completed) / float64(j.Total)
	if p > 1 {
		p = 1
	}
	return p
}
