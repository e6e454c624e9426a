// Package ledger implements position accounting over an append-only trade
// stream. Positions use a signed-quantity weighted-average-cost model:
// positive quantity is a long position, negative is short, and the average
// price tracks the cost basis of whichever side is open.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the known values
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Position is the accounting state for one symbol in one portfolio.
// A flat position is the zero value: Quantity 0 and AvgPrice 0.
type Position struct {
	Quantity int64
	AvgPrice decimal.Decimal
}

// Flat reports whether the position holds no shares
func (p Position) Flat() bool {
	return p.Quantity == 0
}

// Long reports whether the position holds a positive share count
func (p Position) Long() bool {
	return p.Quantity > 0
}

// Short reports whether the position holds a negative share count
func (p Position) Short() bool {
	return p.Quantity < 0
}

// MarketValue returns quantity times price. Negative for short positions.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns the profit the position would realize if closed
// at the given price. For longs this is (price - avg) * qty; the same
// formula holds for shorts because quantity is negative.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Quantity == 0 {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns the absolute capital tied up in the position
func (p Position) CostBasis() decimal.Decimal {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return p.AvgPrice.Mul(decimal.NewFromInt(qty))
}

// Trade is a single fill applied to a position. Quantity is always
// positive; direction comes from Side.
type Trade struct {
	Side     Side
	Quantity int64
	Price    decimal.Decimal
}

// Validate checks trade fields before they reach the accounting logic
func (t Trade) Validate() error {
	if !t.Side.Valid() {
		return fmt.Errorf("invalid trade side %q", t.Side)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive, got %d", t.Quantity)
	}
	if t.Price.Sign() <= 0 {
		return fmt.Errorf("trade price must be positive, got %s", t.Price)
	}
	return nil
}

// Apply transitions a position by one trade and returns the new position
// together with the realized profit or loss of the trade. Opening or
// extending a position realizes nothing; closing quantity against an
// opposite position realizes (exit - entry) * closed quantity with the
// sign convention that profit is positive.
//
// A trade larger than the open opposite position flips it: the open
// quantity is closed at the trade price and the remainder opens a new
// position on the other side with the trade price as its cost basis.
func Apply(pos Position, t Trade) (Position, decimal.Decimal, error) {
	if err := t.Validate(); err != nil {
		return pos, decimal.Zero, err
	}

	switch t.Side {
	case SideBuy:
		if pos.Quantity >= 0 {
			return extend(pos, t.Quantity, t.Price), decimal.Zero, nil
		}
		return reduce(pos, t.Quantity, t.Price)

	case SideSell:
		if pos.Quantity > 0 {
			return reduce(pos, t.Quantity, t.Price)
		}
		return extend(pos, -t.Quantity, t.Price), decimal.Zero, nil
	}

	return pos, decimal.Zero, fmt.Errorf("invalid trade side %q", t.Side)
}

// extend adds signedQty shares on the same side the position already
// holds (or opens a flat position) and re-weights the average price.
func extend(pos Position, signedQty int64, price decimal.Decimal) Position {
	oldQty := decimal.NewFromInt(abs(pos.Quantity))
	addQty := decimal.NewFromInt(abs(signedQty))
	newAbs := oldQty.Add(addQty)

	totalCost := pos.AvgPrice.Mul(oldQty).Add(price.Mul(addQty))

	return Position{
		Quantity: pos.Quantity + signedQty,
		AvgPrice: totalCost.Div(newAbs),
	}
}

// reduce closes up to abs(pos.Quantity) shares at the trade price,
// realizing pnl, and flips to the opposite side if the trade quantity
// exceeds the open position.
func reduce(pos Position, tradeQty int64, price decimal.Decimal) (Position, decimal.Decimal, error) {
	open := abs(pos.Quantity)
	closed := tradeQty
	if closed > open {
		closed = open
	}

	// Long close profits when price rose, short close when it fell
	perShare := price.Sub(pos.AvgPrice)
	if pos.Quantity < 0 {
		perShare = pos.AvgPrice.Sub(price)
	}
	pnl := perShare.Mul(decimal.NewFromInt(closed))

	remainder := tradeQty - open

	switch {
	case remainder < 0:
		// Partial close keeps the entry basis
		newQty := pos.Quantity + closed
		if pos.Quantity > 0 {
			newQty = pos.Quantity - closed
		}
		return Position{Quantity: newQty, AvgPrice: pos.AvgPrice}, pnl, nil

	case remainder == 0:
		// Exact close resets the basis entirely
		return Position{}, pnl, nil

	default:
		// Flip: the surplus opens the opposite side at the trade price
		newQty := remainder
		if pos.Quantity > 0 {
			newQty = -remainder
		}
		return Position{Quantity: newQty, AvgPrice: price}, pnl, nil
	}
}

// Replay folds a trade sequence into a final position and the total
// realized pnl. Trades must be in execution order; replaying the same
// sequence always yields the same result.
func Replay(trades []Trade) (Position, decimal.Decimal, error) {
	var pos Position
	total := decimal.Zero

	for i, t := range trades {
		next, pnl, err := Apply(pos, t)
		if err != nil {
			return pos, total, fmt.Errorf("trade %d: %w", i, err)
		}
		pos = next
		total = total.Add(pnl)
	}

	return pos, total, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
