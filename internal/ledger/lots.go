package ledger

import (
	"github.com/shopspring/decimal"
)

// Lot is an open parcel of shares acquired in a single trade, used for
// first-in-first-out attribution in reports. Lots are a reporting view
// only; the authoritative position state comes from Apply.
type Lot struct {
	Quantity int64
	Price    decimal.Decimal
}

// Matching pairs a closing trade quantity with the opening lot it
// consumed, along with the pnl attributed to that pairing.
type Matching struct {
	Quantity   int64
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	PnL        decimal.Decimal
}

// LotBook tracks open lots for one symbol in FIFO order. A long book
// holds buy lots consumed by sells; after a flip the book holds lots of
// the opposite side.
type LotBook struct {
	lots  []Lot
	short bool
}

// Lots returns the currently open lots, oldest first
func (b *LotBook) Lots() []Lot {
	out := make([]Lot, len(b.lots))
	copy(out, b.lots)
	return out
}

// Short reports whether the open lots are short parcels
func (b *LotBook) Short() bool {
	return b.short
}

// Add applies one trade to the book and returns the FIFO matchings it
// produced. Opening trades produce no matchings.
func (b *LotBook) Add(t Trade) []Matching {
	opening := (t.Side == SideBuy) != b.short

	if len(b.lots) == 0 {
		b.short = t.Side == SideSell
		b.lots = append(b.lots, Lot{Quantity: t.Quantity, Price: t.Price})
		return nil
	}

	if opening {
		b.lots = append(b.lots, Lot{Quantity: t.Quantity, Price: t.Price})
		return nil
	}

	var matchings []Matching
	remaining := t.Quantity

	for remaining > 0 && len(b.lots) > 0 {
		lot := &b.lots[0]
		matched := remaining
		if lot.Quantity < matched {
			matched = lot.Quantity
		}

		perShare := t.Price.Sub(lot.Price)
		if b.short {
			perShare = lot.Price.Sub(t.Price)
		}

		matchings = append(matchings, Matching{
			Quantity:   matched,
			OpenPrice:  lot.Price,
			ClosePrice: t.Price,
			PnL:        perShare.Mul(decimal.NewFromInt(matched)),
		})

		lot.Quantity -= matched
		remaining -= matched
		if lot.Quantity == 0 {
			b.lots = b.lots[1:]
		}
	}

	// Surplus beyond all open lots flips the book
	if remaining > 0 {
		b.short = !b.short
		b.lots = []Lot{{Quantity: remaining, Price: t.Price}}
	}

	return matchings
}

// MatchFIFO replays a trade sequence through a lot book and returns all
// matchings in order plus the lots still open at the end.
func MatchFIFO(trades []Trade) ([]Matching, []Lot) {
	var book LotBook
	var all []Matching

	for _, t := range trades {
		all = append(all, book.Add(t)...)
	}

	return all, book.Lots()
}
