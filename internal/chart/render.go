package chart

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"venus/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#ef4444"
	colorBear          = "#22c55e"
	colorEquity        = "#38bdf8"

	defaultWidth  = 1600
	defaultHeight = 720
	volumeHeight  = 220
	equityHeight  = 240
)

var maPalette = []string{"#fbbf24", "#3b82f6", "#f472b6", "#a78bfa", "#22d3ee"}

type RenderOptions struct {
	Title     string
	Subtitle  string
	Width     int
	Height    int
	MAWindows []int
	// Equity 与 K 线等长的权益序列，为空则不画资金曲线。
	Equity []float64
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	return o
}

// Render 输出包含 K 线、均线、交易连线与标记、成交量（及资金曲线）的 HTML 页面。
func (b *Board) Render(w io.Writer, o RenderOptions) error {
	if len(b.candles) == 0 {
		return ErrNoHistory
	}
	o = o.withDefaults()
	title := o.Title
	if title == "" {
		title = b.symbol
	}
	xAxis := buildXAxis(b.candles)

	// 国内习惯红涨绿跌
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(o.Width, o.Height)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      o.Subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(yAxisOpts(b.low, b.high)),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries("K线", buildKlineSeries(b.candles))

	if ma := buildMALines(xAxis, b.candles, o.MAWindows); ma != nil {
		kline.Overlap(ma)
	}
	if len(b.marks.Segments) > 0 {
		kline.Overlap(buildSegmentLines(xAxis, b.marks.Segments), buildMarkerScatter(xAxis, b.marks.Markers))
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = title
	page.AddCharts(kline, buildVolumeChart(xAxis, b.candles, o.Width))
	if len(o.Equity) > 0 {
		page.AddCharts(buildEquityChart(xAxis, o.Equity, o.Width))
	}
	return page.Render(w)
}

// RenderHTML Render 的便捷版本。
func (b *Board) RenderHTML(o RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Render(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(width, height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", width),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func yAxisOpts(low, high float64) opts.YAxis {
	padding := (high - low) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(high)*0.01)
	}
	return opts.YAxis{
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		Min:       round(low-padding, 4),
		Max:       round(high+padding, 4),
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
}

func buildXAxis(candles market.Candles) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.TimeString()
	}
	return x
}

func buildKlineSeries(candles market.Candles) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	return data
}

// buildMALines 每个窗口一条 SMA，窗口内数据不足的位置留空。
func buildMALines(xAxis []string, candles market.Candles, windows []int) *charts.Line {
	closes := candles.Closes()
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	added := 0
	for i, window := range windows {
		if window <= 1 || window > len(closes) {
			continue
		}
		sma := talib.Sma(closes, window)
		data := make([]opts.LineData, len(closes))
		for j := range data {
			if j < window-1 || math.IsNaN(sma[j]) {
				data[j] = opts.LineData{Value: nil}
				continue
			}
			data[j] = opts.LineData{Value: round(sma[j], 4)}
		}
		color := maPalette[i%len(maPalette)]
		line.AddSeries(fmt.Sprintf("MA%d", window), data, charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 1.5}))
		added++
	}
	if added == 0 {
		return nil
	}
	return line
}

// buildSegmentLines 每条连线一个系列，只在两端有值，靠 connectNulls 连成虚线。
func buildSegmentLines(xAxis []string, segments []Segment) *charts.Line {
	line := charts.NewLine()
	line.SetXAxis(xAxis)
	for i, seg := range segments {
		data := make([]opts.LineData, len(xAxis))
		for j := range data {
			data[j] = opts.LineData{Value: nil}
		}
		data[seg.OpenIndex] = opts.LineData{Value: seg.OpenPrice}
		data[seg.CloseIndex] = opts.LineData{Value: seg.ClosePrice}
		line.AddSeries(fmt.Sprintf("leg-%d", i+1), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(true)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: seg.Color, Width: 1.5, Type: "dashed"}),
		)
	}
	return line
}

// buildMarkerScatter 多/空各一组箭头，标签单独一组（无图形，只显示文字）。
func buildMarkerScatter(xAxis []string, markers []Marker) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	groups := map[string][]opts.ScatterData{}
	labels := map[string][]opts.ScatterData{}
	for _, m := range markers {
		rotate := 0
		if !m.Up {
			rotate = 180
		}
		groups[m.Color] = append(groups[m.Color], opts.ScatterData{
			Value:        []any{m.Index, round(m.Price, 6)},
			Symbol:       "triangle",
			SymbolSize:   10,
			SymbolRotate: rotate,
		})
		labels[m.Color] = append(labels[m.Color], opts.ScatterData{
			Name:   m.Label,
			Value:  []any{m.Index, round(m.LabelPrice, 6)},
			Symbol: "none",
		})
	}
	for _, color := range []string{colorLong, colorShort} {
		name := "多头"
		if color == colorShort {
			name = "空头"
		}
		if pts := groups[color]; len(pts) > 0 {
			scatter.AddSeries(name, pts, charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
		}
		if pts := labels[color]; len(pts) > 0 {
			scatter.AddSeries(name+"数量", pts,
				charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
				charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Color: color, Formatter: "{b}"}),
			)
		}
	}
	return scatter
}

func buildVolumeChart(xAxis []string, candles market.Candles, width int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(width, volumeHeight)),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, c := range candles {
		color := colorBear
		if c.Bullish() {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value:     c.Volume,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func buildEquityChart(xAxis []string, equity []float64, width int) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(width, equityHeight)),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
		}),
	)
	data := make([]opts.LineData, len(xAxis))
	for i := range data {
		if i < len(equity) {
			data[i] = opts.LineData{Value: round(equity[i], 2)}
		} else {
			data[i] = opts.LineData{Value: nil}
		}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
