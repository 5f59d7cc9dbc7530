// Package pairing rebuilds open→close position legs from a chronological
// stream of executed trades using FIFO lot matching per side.
package pairing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidVolume    = errors.New("trade volume must be positive")
	ErrInvalidDirection = errors.New("unknown trade direction")
)

// Direction is the side that initiated a trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return d
	}
}

// ParseDirection accepts long/buy/多 and short/sell/空 in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "多":
		return Long, nil
	case "short", "sell", "空":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// TradeRecord is one executed trade. ID is optional and only carried through
// to the legs for attribution.
type TradeRecord struct {
	ID        string          `json:"id,omitempty" yaml:"id,omitempty"`
	Time      time.Time       `json:"time" yaml:"time"`
	Direction Direction       `json:"direction" yaml:"direction"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Volume    decimal.Decimal `json:"volume" yaml:"volume"`
}

// MatchedLeg is one open→close pairing of volume. Direction is the side of
// the opening trade; OpenSeq/CloseSeq index the input sequence.
type MatchedLeg struct {
	OpenTime     time.Time       `json:"open_time" yaml:"open_time"`
	OpenPrice    decimal.Decimal `json:"open_price" yaml:"open_price"`
	CloseTime    time.Time       `json:"close_time" yaml:"close_time"`
	ClosePrice   decimal.Decimal `json:"close_price" yaml:"close_price"`
	Direction    Direction       `json:"direction" yaml:"direction"`
	Volume       decimal.Decimal `json:"volume" yaml:"volume"`
	OpenSeq      int             `json:"open_seq" yaml:"open_seq"`
	CloseSeq     int             `json:"close_seq" yaml:"close_seq"`
	OpenTradeID  string          `json:"open_trade_id,omitempty" yaml:"open_trade_id,omitempty"`
	CloseTradeID string          `json:"close_trade_id,omitempty" yaml:"close_trade_id,omitempty"`
}

// Profitable reports whether the close price moved in the leg's favour.
// Break-even counts as profitable.
func (l MatchedLeg) Profitable() bool {
	if l.Direction == Short {
		return l.ClosePrice.LessThanOrEqual(l.OpenPrice)
	}
	return l.ClosePrice.GreaterThanOrEqual(l.OpenPrice)
}

// PnL returns the leg's gross profit for a contract multiplier of size.
func (l MatchedLeg) PnL(size decimal.Decimal) decimal.Decimal {
	diff := l.ClosePrice.Sub(l.OpenPrice)
	if l.Direction == Short {
		diff = diff.Neg()
	}
	return diff.Mul(l.Volume).Mul(size)
}

func (l MatchedLeg) Holding() time.Duration {
	return l.CloseTime.Sub(l.OpenTime)
}

// OpenPosition is the unmatched remainder of a trade at end of stream.
type OpenPosition struct {
	Seq       int             `json:"seq" yaml:"seq"`
	TradeID   string          `json:"trade_id,omitempty" yaml:"trade_id,omitempty"`
	Time      time.Time       `json:"time" yaml:"time"`
	Direction Direction       `json:"direction" yaml:"direction"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Volume    decimal.Decimal `json:"volume" yaml:"volume"`
}

// Result holds the legs in generation order and the still-open lots in the
// order they were opened.
type Result struct {
	Legs []MatchedLeg   `json:"legs" yaml:"legs"`
	Open []OpenPosition `json:"open,omitempty" yaml:"open,omitempty"`
}

type lot struct {
	seq   int
	trade TradeRecord
}

// Validate checks every record before any pairing happens.
func Validate(trades []TradeRecord) error {
	for i, t := range trades {
		if !t.Direction.Valid() {
			return fmt.Errorf("trade #%d: %w: %q", i, ErrInvalidDirection, t.Direction)
		}
		if !t.Volume.IsPositive() {
			return fmt.Errorf("trade #%d: %w: %s", i, ErrInvalidVolume, t.Volume)
		}
	}
	return nil
}

// PairTrades matches trades in the order given and returns the legs.
func PairTrades(trades []TradeRecord) ([]MatchedLeg, error) {
	res, err := Pair(trades)
	if err != nil {
		return nil, err
	}
	return res.Legs, nil
}

// Pair is PairTrades plus the open positions left at the end of the stream.
func Pair(trades []TradeRecord) (Result, error) {
	if err := Validate(trades); err != nil {
		return Result{}, err
	}
	var pendingLong, pendingShort lotQueue
	legs := make([]MatchedLeg, 0, len(trades))

	for seq, rec := range trades {
		t := lot{seq: seq, trade: rec}

		same, opposite := &pendingLong, &pendingShort
		if t.trade.Direction == Short {
			same, opposite = &pendingShort, &pendingLong
		}

		for t.trade.Volume.IsPositive() && !opposite.empty() {
			o := opposite.front()
			matched := decimal.Min(o.trade.Volume, t.trade.Volume)
			legs = append(legs, MatchedLeg{
				OpenTime:     o.trade.Time,
				OpenPrice:    o.trade.Price,
				CloseTime:    t.trade.Time,
				ClosePrice:   t.trade.Price,
				Direction:    o.trade.Direction,
				Volume:       matched,
				OpenSeq:      o.seq,
				CloseSeq:     t.seq,
				OpenTradeID:  o.trade.ID,
				CloseTradeID: t.trade.ID,
			})
			o.trade.Volume = o.trade.Volume.Sub(matched)
			t.trade.Volume = t.trade.Volume.Sub(matched)
			if !o.trade.Volume.IsPositive() {
				opposite.popFront()
			}
		}

		if t.trade.Volume.IsPositive() {
			same.pushBack(t)
		}
	}

	return Result{Legs: legs, Open: openPositions(pendingLong.drain(), pendingShort.drain())}, nil
}

// openPositions merges both queues back into input order.
func openPositions(longs, shorts []lot) []OpenPosition {
	if len(longs)+len(shorts) == 0 {
		return nil
	}
	out := make([]OpenPosition, 0, len(longs)+len(shorts))
	i, j := 0, 0
	for i < len(longs) || j < len(shorts) {
		var l lot
		if j >= len(shorts) || (i < len(longs) && longs[i].seq < shorts[j].seq) {
			l = longs[i]
			i++
		} else {
			l = shorts[j]
			j++
		}
		out = append(out, OpenPosition{
			Seq:       l.seq,
			TradeID:   l.trade.ID,
			Time:      l.trade.Time,
			Direction: l.trade.Direction,
			Price:     l.trade.Price,
			Volume:    l.trade.Volume,
		})
	}
	return out
}
