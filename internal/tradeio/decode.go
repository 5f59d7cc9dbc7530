// Package tradeio 读写成交记录与配对结果（JSON 输入，JSON/YAML 输出）。
package tradeio

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"venus/internal/pairing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

//go:embed trades.schema.json
var tradesSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("trades.schema.json", bytes.NewReader(tradesSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("trades.schema.json")
	})
	return schema, schemaErr
}

// 小于该值的数字时间戳按秒处理，否则按毫秒。
const secondsCutoff = 100_000_000_000

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Decode 解析成交数组。字段别名：time|datetime|ts、direction|side、volume|qty；
// 数字可写成字符串。无时区的时间按 UTC 解释。
func Decode(raw []byte) ([]pairing.TradeRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("json 内容为空")
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("json 格式无效")
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("trades schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(raw)
	out := make([]pairing.TradeRecord, 0, len(parsed.Array()))
	var decodeErr error
	parsed.ForEach(func(_, value gjson.Result) bool {
		rec, err := decodeTrade(value)
		if err != nil {
			decodeErr = fmt.Errorf("trade #%d: %w", len(out), err)
			return false
		}
		out = append(out, rec)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func decodeTrade(value gjson.Result) (pairing.TradeRecord, error) {
	var rec pairing.TradeRecord
	if id := value.Get("id"); id.Exists() {
		rec.ID = strings.TrimSpace(id.String())
	}
	ts, err := parseTime(firstOf(value, "time", "datetime", "ts"))
	if err != nil {
		return rec, err
	}
	rec.Time = ts
	if rec.Direction, err = pairing.ParseDirection(firstOf(value, "direction", "side").String()); err != nil {
		return rec, err
	}
	if rec.Price, err = parseDecimal(value.Get("price")); err != nil {
		return rec, fmt.Errorf("price: %w", err)
	}
	if rec.Volume, err = parseDecimal(firstOf(value, "volume", "qty")); err != nil {
		return rec, fmt.Errorf("volume: %w", err)
	}
	return rec, nil
}

func firstOf(value gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := value.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseDecimal(v gjson.Result) (decimal.Decimal, error) {
	text := strings.TrimSpace(v.String())
	if v.Type == gjson.Number {
		text = v.Raw
	}
	return decimal.NewFromString(text)
}

func parseTime(v gjson.Result) (time.Time, error) {
	text := strings.TrimSpace(v.String())
	if v.Type == gjson.Number {
		text = v.Raw
	}
	if text == "" {
		return time.Time{}, fmt.Errorf("time 为空")
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		if n < secondsCutoff {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", text)
}
