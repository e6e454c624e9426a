package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(qty int64, price string) Trade {
	return Trade{Side: SideBuy, Quantity: qty, Price: dec(price)}
}

func sell(qty int64, price string) Trade {
	return Trade{Side: SideSell, Quantity: qty, Price: dec(price)}
}

func TestApply_OpenLong(t *testing.T) {
	pos, pnl, err := Apply(Position{}, buy(10, "100"))
	require.NoError(t, err)

	assert.Equal(t, int64(10), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("100")))
	assert.True(t, pnl.IsZero())
}

func TestApply_ExtendLongWeightedAverage(t *testing.T) {
	pos, _, err := Apply(Position{}, buy(10, "100"))
	require.NoError(t, err)

	pos, pnl, err := Apply(pos, buy(10, "110"))
	require.NoError(t, err)

	assert.Equal(t, int64(20), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("105")), "avg = %s", pos.AvgPrice)
	assert.True(t, pnl.IsZero())
}

func TestApply_PartialSellKeepsAverage(t *testing.T) {
	pos := Position{Quantity: 20, AvgPrice: dec("105")}

	pos, pnl, err := Apply(pos, sell(5, "120"))
	require.NoError(t, err)

	assert.Equal(t, int64(15), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("105")))
	// (120 - 105) * 5
	assert.True(t, pnl.Equal(dec("75")), "pnl = %s", pnl)
}

func TestApply_ExactCloseResetsAverage(t *testing.T) {
	pos := Position{Quantity: 15, AvgPrice: dec("105")}

	pos, pnl, err := Apply(pos, sell(15, "90"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), pos.Quantity)
	assert.True(t, pos.AvgPrice.IsZero(), "flat position must carry no basis, got %s", pos.AvgPrice)
	// (90 - 105) * 15
	assert.True(t, pnl.Equal(dec("-225")), "pnl = %s", pnl)
}

func TestApply_SellFlipsLongToShort(t *testing.T) {
	pos := Position{Quantity: 10, AvgPrice: dec("100")}

	pos, pnl, err := Apply(pos, sell(25, "110"))
	require.NoError(t, err)

	// 10 shares closed at +10 each, 15 shares open short at 110
	assert.Equal(t, int64(-15), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("110")))
	assert.True(t, pnl.Equal(dec("100")), "pnl = %s", pnl)
}

func TestApply_OpenAndExtendShort(t *testing.T) {
	pos, pnl, err := Apply(Position{}, sell(10, "50"))
	require.NoError(t, err)
	assert.Equal(t, int64(-10), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("50")))
	assert.True(t, pnl.IsZero())

	pos, pnl, err = Apply(pos, sell(30, "54"))
	require.NoError(t, err)
	assert.Equal(t, int64(-40), pos.Quantity)
	// (10*50 + 30*54) / 40 = 53
	assert.True(t, pos.AvgPrice.Equal(dec("53")), "avg = %s", pos.AvgPrice)
	assert.True(t, pnl.IsZero())
}

func TestApply_CoverShortAtProfit(t *testing.T) {
	pos := Position{Quantity: -40, AvgPrice: dec("53")}

	pos, pnl, err := Apply(pos, buy(15, "48"))
	require.NoError(t, err)

	assert.Equal(t, int64(-25), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("53")))
	// Short profits when the cover price is below the entry: (53 - 48) * 15
	assert.True(t, pnl.Equal(dec("75")), "pnl = %s", pnl)
}

func TestApply_CoverShortAtLoss(t *testing.T) {
	pos := Position{Quantity: -10, AvgPrice: dec("50")}

	pos, pnl, err := Apply(pos, buy(10, "60"))
	require.NoError(t, err)

	assert.True(t, pos.Flat())
	assert.True(t, pos.AvgPrice.IsZero())
	assert.True(t, pnl.Equal(dec("-100")), "pnl = %s", pnl)
}

func TestApply_BuyFlipsShortToLong(t *testing.T) {
	pos := Position{Quantity: -10, AvgPrice: dec("50")}

	pos, pnl, err := Apply(pos, buy(18, "45"))
	require.NoError(t, err)

	assert.Equal(t, int64(8), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec("45")))
	// (50 - 45) * 10
	assert.True(t, pnl.Equal(dec("50")), "pnl = %s", pnl)
}

func TestApply_RejectsInvalidTrades(t *testing.T) {
	cases := []struct {
		name  string
		trade Trade
	}{
		{"zero quantity", Trade{Side: SideBuy, Quantity: 0, Price: dec("10")}},
		{"negative quantity", Trade{Side: SideSell, Quantity: -5, Price: dec("10")}},
		{"zero price", Trade{Side: SideBuy, Quantity: 5, Price: decimal.Zero}},
		{"negative price", Trade{Side: SideBuy, Quantity: 5, Price: dec("-1")}},
		{"unknown side", Trade{Side: "HOLD", Quantity: 5, Price: dec("10")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orig := Position{Quantity: 7, AvgPrice: dec("33")}
			pos, pnl, err := Apply(orig, tc.trade)
			require.Error(t, err)
			assert.Equal(t, orig, pos, "rejected trade must not change the position")
			assert.True(t, pnl.IsZero())
		})
	}
}

func TestApply_FractionalAverage(t *testing.T) {
	pos, _, err := Apply(Position{}, buy(3, "10"))
	require.NoError(t, err)

	pos, _, err = Apply(pos, buy(1, "11"))
	require.NoError(t, err)

	// (3*10 + 11) / 4 = 10.25, exact in decimal arithmetic
	assert.True(t, pos.AvgPrice.Equal(dec("10.25")), "avg = %s", pos.AvgPrice)

	_, pnl, err := Apply(pos, sell(4, "10.25"))
	require.NoError(t, err)
	assert.True(t, pnl.IsZero(), "closing at basis realizes nothing, got %s", pnl)
}

func TestReplay_Deterministic(t *testing.T) {
	trades := []Trade{
		buy(10, "100"),
		buy(10, "110"),
		sell(5, "120"),
		sell(15, "90"),
		sell(10, "50"),
		buy(10, "60"),
	}

	pos1, pnl1, err := Replay(trades)
	require.NoError(t, err)

	pos2, pnl2, err := Replay(trades)
	require.NoError(t, err)

	assert.Equal(t, pos1, pos2)
	assert.True(t, pnl1.Equal(pnl2))

	// 75 - 225 - 100 over the whole sequence
	assert.True(t, pos1.Flat())
	assert.True(t, pnl1.Equal(dec("-250")), "total pnl = %s", pnl1)
}

func TestReplay_ResumesFromAnyPrefix(t *testing.T) {
	trades := []Trade{
		buy(5, "100"),
		sell(8, "110"),
		buy(7, "104"),
		sell(4, "96"),
		sell(5, "120"),
		buy(2, "128"),
	}

	full, fullPnL, err := Replay(trades)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), full.Quantity)
	assert.True(t, full.AvgPrice.Equal(dec("120")))
	// 50 + 18 - 32 - 16 across the flips and the partial cover
	assert.True(t, fullPnL.Equal(dec("20")), "total pnl = %s", fullPnL)

	// Folding the tail onto any replayed prefix must land on the same
	// state as replaying everything at once.
	for split := 0; split <= len(trades); split++ {
		pos, pnl, err := Replay(trades[:split])
		require.NoError(t, err)

		for _, tr := range trades[split:] {
			var realized decimal.Decimal
			pos, realized, err = Apply(pos, tr)
			require.NoError(t, err)
			pnl = pnl.Add(realized)
		}

		assert.Equal(t, full, pos, "split at %d", split)
		assert.True(t, pnl.Equal(fullPnL), "split at %d: pnl = %s", split, pnl)
	}
}

func TestReplay_ReportsFailingTradeIndex(t *testing.T) {
	trades := []Trade{
		buy(10, "100"),
		{Side: SideSell, Quantity: 0, Price: dec("100")},
	}

	_, _, err := Replay(trades)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade 1")
}

func TestPosition_Derived(t *testing.T) {
	long := Position{Quantity: 10, AvgPrice: dec("100")}
	assert.True(t, long.MarketValue(dec("110")).Equal(dec("1100")))
	assert.True(t, long.UnrealizedPnL(dec("110")).Equal(dec("100")))
	assert.True(t, long.CostBasis().Equal(dec("1000")))

	short := Position{Quantity: -10, AvgPrice: dec("100")}
	assert.True(t, short.MarketValue(dec("110")).Equal(dec("-1100")))
	// Short loses when the price rises
	assert.True(t, short.UnrealizedPnL(dec("110")).Equal(dec("-100")))
	assert.True(t, short.CostBasis().Equal(dec("1000")))

	var flat Position
	assert.True(t, flat.UnrealizedPnL(dec("110")).IsZero())
}

func TestMatchFIFO_LongAttribution(t *testing.T) {
	trades := []Trade{
		buy(10, "100"),
		buy(10, "110"),
		sell(15, "120"),
	}

	matchings, open := MatchFIFO(trades)
	require.Len(t, matchings, 2)

	assert.Equal(t, int64(10), matchings[0].Quantity)
	assert.True(t, matchings[0].OpenPrice.Equal(dec("100")))
	assert.True(t, matchings[0].PnL.Equal(dec("200")))

	assert.Equal(t, int64(5), matchings[1].Quantity)
	assert.True(t, matchings[1].OpenPrice.Equal(dec("110")))
	assert.True(t, matchings[1].PnL.Equal(dec("50")))

	require.Len(t, open, 1)
	assert.Equal(t, int64(5), open[0].Quantity)
	assert.True(t, open[0].Price.Equal(dec("110")))
}

func TestMatchFIFO_ShortAttribution(t *testing.T) {
	trades := []Trade{
		sell(10, "50"),
		buy(4, "45"),
	}

	matchings, open := MatchFIFO(trades)
	require.Len(t, matchings, 1)

	assert.Equal(t, int64(4), matchings[0].Quantity)
	assert.True(t, matchings[0].PnL.Equal(dec("20")))

	require.Len(t, open, 1)
	assert.Equal(t, int64(6), open[0].Quantity)
}

func TestMatchFIFO_FlipOpensOppositeLot(t *testing.T) {
	trades := []Trade{
		buy(10, "100"),
		sell(25, "110"),
	}

	var book LotBook
	for _, tr := range trades {
		book.Add(tr)
	}

	assert.True(t, book.Short())
	lots := book.Lots()
	require.Len(t, lots, 1)
	assert.Equal(t, int64(15), lots[0].Quantity)
	assert.True(t, lots[0].Price.Equal(dec("110")))
}

func TestMatchFIFO_AgreesWithReplayTotals(t *testing.T) {
	trades := []Trade{
		buy(10, "100"),
		buy(10, "120"),
		sell(12, "130"),
		sell(8, "90"),
		buy(5, "80"),
	}

	// The attribution differs per lot but once everything is closed out
	// the grand total only depends on cash in versus cash out, so both
	// methods must agree.
	closed := append(append([]Trade{}, trades...), sell(5, "100"))
	_, totalA, err := Replay(closed)
	require.NoError(t, err)

	closedMatch, openLots := MatchFIFO(closed)
	require.Empty(t, openLots)
	totalB := decimal.Zero
	for _, m := range closedMatch {
		totalB = totalB.Add(m.PnL)
	}

	assert.True(t, totalA.Equal(totalB), "replay=%s fifo=%s", totalA, totalB)
}
