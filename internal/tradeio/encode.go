package tradeio

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"venus/internal/pairing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// LegReport 一条交易腿，给定合约乘数时附带盈亏。
type LegReport struct {
	pairing.MatchedLeg `yaml:",inline"`
	PnL                *decimal.Decimal `json:"pnl,omitempty" yaml:"pnl,omitempty"`
}

type Summary struct {
	Legs     int             `json:"legs" yaml:"legs"`
	Wins     int             `json:"wins" yaml:"wins"`
	Losses   int             `json:"losses" yaml:"losses"`
	TotalPnL decimal.Decimal `json:"total_pnl" yaml:"total_pnl"`
}

type Report struct {
	Legs    []LegReport            `json:"legs" yaml:"legs"`
	Open    []pairing.OpenPosition `json:"open,omitempty" yaml:"open,omitempty"`
	Summary *Summary               `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// BuildReport size 为 nil 时不计算盈亏与汇总。
func BuildReport(res pairing.Result, size *decimal.Decimal, includeOpen bool) Report {
	rep := Report{Legs: make([]LegReport, 0, len(res.Legs))}
	var sum *Summary
	if size != nil {
		sum = &Summary{Legs: len(res.Legs), TotalPnL: decimal.Zero}
	}
	for _, leg := range res.Legs {
		lr := LegReport{MatchedLeg: leg}
		if size != nil {
			pnl := leg.PnL(*size)
			lr.PnL = &pnl
			sum.TotalPnL = sum.TotalPnL.Add(pnl)
			if leg.Profitable() {
				sum.Wins++
			} else {
				sum.Losses++
			}
		}
		rep.Legs = append(rep.Legs, lr)
	}
	if includeOpen {
		rep.Open = res.Open
	}
	rep.Summary = sum
	return rep
}

// Encode 按 format（json|yaml）输出。
func Encode(w io.Writer, v any, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("不支持的输出格式: %s", format)
	}
}

// EncodeLegs 只输出交易腿列表。
func EncodeLegs(w io.Writer, legs []pairing.MatchedLeg, format string) error {
	if legs == nil {
		legs = []pairing.MatchedLeg{}
	}
	return Encode(w, legs, format)
}
