package market

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidVTSymbol = errors.New("invalid vt_symbol")

// 支持的交易所后缀。
var knownExchanges = map[string]bool{
	"BINANCE": true,
	"CFFEX":   true,
	"SHFE":    true,
	"DCE":     true,
	"CZCE":    true,
	"INE":     true,
	"GFEX":    true,
	"SSE":     true,
	"SZSE":    true,
	"SH":      true,
	"SZ":      true,
}

// VTSymbol 本地代码，格式 SYMBOL.EXCHANGE，例如 BTCUSDT.BINANCE、rb2405.SHFE。
type VTSymbol struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

func ParseVTSymbol(raw string) (VTSymbol, error) {
	s := strings.TrimSpace(raw)
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return VTSymbol{}, fmt.Errorf("%w: %q 缺少交易所后缀", ErrInvalidVTSymbol, raw)
	}
	sym, exch := s[:idx], strings.ToUpper(s[idx+1:])
	if !knownExchanges[exch] {
		return VTSymbol{}, fmt.Errorf("%w: 未知交易所 %q", ErrInvalidVTSymbol, exch)
	}
	if exch == "BINANCE" {
		sym = strings.ToUpper(strings.ReplaceAll(sym, "/", ""))
	}
	return VTSymbol{Symbol: sym, Exchange: exch}, nil
}

func (v VTSymbol) String() string {
	return v.Symbol + "." + v.Exchange
}

// SourceName 返回下载该合约使用的数据源名。
func (v VTSymbol) SourceName() string {
	return strings.ToLower(v.Exchange)
}
