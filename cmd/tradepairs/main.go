// tradepairs 读取成交 JSON（文件或 stdin），输出 FIFO 配对后的交易腿。
//
//	tradepairs -in trades.json -size 10 -open -format yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"venus/internal/logger"
	"venus/internal/pairing"
	"venus/internal/tradeio"

	"github.com/shopspring/decimal"
)

func main() {
	in := flag.String("in", "", "成交文件路径，空或 - 表示 stdin")
	open := flag.Bool("open", false, "输出剩余未平持仓")
	size := flag.String("size", "", "合约乘数，给出时计算每条腿的盈亏")
	format := flag.String("format", "json", "输出格式 json|yaml")
	flag.Parse()

	if err := run(*in, *size, *format, *open, os.Stdin, os.Stdout); err != nil {
		logger.Errorf("tradepairs: %v", err)
		os.Exit(1)
	}
}

func run(in, size, format string, includeOpen bool, stdin io.Reader, out io.Writer) error {
	raw, err := readInput(in, stdin)
	if err != nil {
		return err
	}
	trades, err := tradeio.Decode(raw)
	if err != nil {
		return err
	}
	res, err := pairing.Pair(trades)
	if err != nil {
		return err
	}
	var mult *decimal.Decimal
	if s := strings.TrimSpace(size); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("size 非法: %q", size)
		}
		mult = &d
	}
	if mult == nil && !includeOpen {
		return tradeio.EncodeLegs(out, res.Legs, format)
	}
	return tradeio.Encode(out, tradeio.BuildReport(res, mult, includeOpen), format)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
