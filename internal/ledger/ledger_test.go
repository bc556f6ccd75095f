package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) // a Monday

func entryFill(id, symbol string, side signal.Side, qty, price, margin float64) Fill {
	return Fill{
		ID:        id,
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Kind:      FillKindEntry,
		Quantity:  qty,
		Price:     price,
		Leverage:  1,
		Margin:    margin,
		StopPrice: price * 0.95,
		Time:      t0,
	}
}

func closeFill(id, symbol string, side signal.Side, qty, price float64) Fill {
	return Fill{
		ID:       id,
		OrderID:  id,
		Symbol:   symbol,
		Side:     side,
		Kind:     FillKindClose,
		Quantity: qty,
		Price:    price,
		Reason:   "target",
		Time:     t0.Add(time.Hour),
	}
}

// TestApplyFill_EntryOpensPosition tests that an entry fill creates an
// isolated position with the fill's protective levels
func TestApplyFill_EntryOpensPosition(t *testing.T) {
	led := New(10000, t0)

	applied, err := led.ApplyFill(entryFill("f1", "BTCUSDT", signal.SideLong, 0.03, 50000, 1500))
	require.NoError(t, err)
	assert.True(t, applied)

	require.True(t, led.HasPosition("BTCUSDT"))
	pos := led.Positions["BTCUSDT"]
	assert.Equal(t, signal.SideLong, pos.Side)
	assert.Equal(t, 0.03, pos.Quantity)
	assert.Equal(t, MarginModeIsolated, pos.MarginMode)
	assert.Equal(t, 1500.0, pos.Margin)
	assert.Equal(t, 1, led.OpenCount())
	assert.Equal(t, 1500.0, led.UsedMargin())
	assert.Equal(t, 8500.0, led.AvailableMargin())
}

// TestApplyFill_ReplayIsIdempotent tests that applying the same fill twice
// leaves the ledger unchanged
func TestApplyFill_ReplayIsIdempotent(t *testing.T) {
	led := New(10000, t0)
	fill := entryFill("f1", "BTCUSDT", signal.SideLong, 0.03, 50000, 1500)

	applied, err := led.ApplyFill(fill)
	require.NoError(t, err)
	assert.True(t, applied)

	before := led.Positions["BTCUSDT"].Quantity

	applied, err = led.ApplyFill(fill)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, before, led.Positions["BTCUSDT"].Quantity)
	assert.Equal(t, 1, led.OpenCount())
}

// TestApplyFill_CloseRealizesPnL tests long and short close accounting
func TestApplyFill_CloseRealizesPnL(t *testing.T) {
	led := New(10000, t0)

	_, err := led.ApplyFill(entryFill("e1", "BTCUSDT", signal.SideLong, 0.03, 50000, 1500))
	require.NoError(t, err)
	_, err = led.ApplyFill(closeFill("c1", "BTCUSDT", signal.SideLong, 0.03, 51000))
	require.NoError(t, err)

	// long: (51000 - 50000) * 0.03 = +30
	assert.InDelta(t, 10030, led.Account.Equity, 1e-9)
	assert.False(t, led.HasPosition("BTCUSDT"))

	_, err = led.ApplyFill(entryFill("e2", "ETHUSDT", signal.SideShort, 1, 3000, 300))
	require.NoError(t, err)
	_, err = led.ApplyFill(closeFill("c2", "ETHUSDT", signal.SideShort, 1, 3050))
	require.NoError(t, err)

	// short: price moved up 50 against a 1-unit short
	assert.InDelta(t, 9980, led.Account.Equity, 1e-9)
	assert.InDelta(t, -20, led.Account.RealizedPnLDay, 1e-9)
}

// TestApplyFill_PartialClose tests that a partial close scales quantity and
// margin proportionally
func TestApplyFill_PartialClose(t *testing.T) {
	led := New(10000, t0)

	_, err := led.ApplyFill(entryFill("e1", "BTCUSDT", signal.SideLong, 0.04, 50000, 2000))
	require.NoError(t, err)
	_, err = led.ApplyFill(closeFill("c1", "BTCUSDT", signal.SideLong, 0.01, 52000))
	require.NoError(t, err)

	require.True(t, led.HasPosition("BTCUSDT"))
	pos := led.Positions["BTCUSDT"]
	assert.InDelta(t, 0.03, pos.Quantity, 1e-9)
	assert.InDelta(t, 1500, pos.Margin, 1e-9)
	assert.InDelta(t, 10020, led.Account.Equity, 1e-9)
}

// TestApplyFill_CloseWithoutPosition tests that an unmatched close fails
func TestApplyFill_CloseWithoutPosition(t *testing.T) {
	led := New(10000, t0)

	applied, err := led.ApplyFill(closeFill("c1", "BTCUSDT", signal.SideLong, 0.01, 52000))
	assert.Error(t, err)
	assert.False(t, applied)
}

// TestApplyFill_SecondEntrySameSymbol tests that a second entry on an open
// symbol is refused (no pyramiding at the ledger level)
func TestApplyFill_SecondEntrySameSymbol(t *testing.T) {
	led := New(10000, t0)

	_, err := led.ApplyFill(entryFill("e1", "BTCUSDT", signal.SideLong, 0.03, 50000, 1500))
	require.NoError(t, err)

	_, err = led.ApplyFill(entryFill("e2", "BTCUSDT", signal.SideLong, 0.03, 50100, 1500))
	assert.Error(t, err)
}

// TestApplyFill_PartialEntrySameOrder tests averaging in a continuation fill
// of the same entry order
func TestApplyFill_PartialEntrySameOrder(t *testing.T) {
	led := New(10000, t0)

	first := entryFill("e1", "BTCUSDT", signal.SideLong, 0.02, 50000, 1000)
	second := entryFill("e1b", "BTCUSDT", signal.SideLong, 0.02, 50100, 1000)
	second.OrderID = "e1"

	_, err := led.ApplyFill(first)
	require.NoError(t, err)
	_, err = led.ApplyFill(second)
	require.NoError(t, err)

	pos := led.Positions["BTCUSDT"]
	assert.InDelta(t, 0.04, pos.Quantity, 1e-9)
	assert.InDelta(t, 50050, pos.EntryPrice, 1e-6)
	assert.InDelta(t, 2000, pos.Margin, 1e-9)
}

// TestRollover_DayAndWeek tests UTC day and ISO week boundary resets
func TestRollover_DayAndWeek(t *testing.T) {
	led := New(10000, t0)
	led.Account.RealizedPnLDay = -50
	led.Account.RealizedPnLWeek = -120
	led.Account.Equity = 9830

	// same day: nothing rolls
	assert.False(t, led.Rollover(t0.Add(2*time.Hour)))

	// next UTC day, same ISO week
	assert.True(t, led.Rollover(t0.Add(24*time.Hour)))
	assert.Equal(t, 9830.0, led.Account.StartOfDayEquity)
	assert.Equal(t, 0.0, led.Account.RealizedPnLDay)
	assert.Equal(t, -120.0, led.Account.RealizedPnLWeek)

	// next ISO week
	assert.True(t, led.Rollover(t0.Add(7*24*time.Hour)))
	assert.Equal(t, 9830.0, led.Account.StartOfWeekEquity)
	assert.Equal(t, 0.0, led.Account.RealizedPnLWeek)
}

// TestDrawdown_Fractions tests daily/weekly drawdown math
func TestDrawdown_Fractions(t *testing.T) {
	led := New(10000, t0)
	led.Account.Equity = 9900

	assert.InDelta(t, 0.01, led.DailyDrawdown(), 1e-9)
	assert.InDelta(t, 0.01, led.WeeklyDrawdown(), 1e-9)

	// gains never report negative drawdown
	led.Account.Equity = 10100
	assert.Equal(t, 0.0, led.DailyDrawdown())
}

// TestSetEquity_SeedsReferences tests that the first authoritative equity
// seeds the drawdown reference points
func TestSetEquity_SeedsReferences(t *testing.T) {
	led := New(0, t0)

	led.SetEquity(10000, t0)
	assert.Equal(t, 10000.0, led.Account.StartOfDayEquity)
	assert.Equal(t, 10000.0, led.Account.StartOfWeekEquity)
	assert.Equal(t, 10000.0, led.Account.HighWaterMark)

	// later corrections leave the references alone
	led.SetEquity(9900, t0.Add(time.Hour))
	assert.Equal(t, 10000.0, led.Account.StartOfDayEquity)
}

// TestCheckInvariants tests the global invariant checks
func TestCheckInvariants(t *testing.T) {
	led := New(10000, t0)
	_, err := led.ApplyFill(entryFill("e1", "BTCUSDT", signal.SideLong, 0.03, 50000, 1500))
	require.NoError(t, err)

	assert.NoError(t, led.CheckInvariants(3, 2.0))

	// concurrency breach
	assert.Error(t, led.CheckInvariants(0, 2.0))

	// margin breach against equity x cap
	assert.Error(t, led.CheckInvariants(3, 0.1))
}

// TestUpdateMark tests unrealized PnL tracking
func TestUpdateMark(t *testing.T) {
	led := New(10000, t0)
	_, err := led.ApplyFill(entryFill("e1", "BTCUSDT", signal.SideShort, 0.1, 50000, 5000))
	require.NoError(t, err)

	led.UpdateMark("BTCUSDT", 49000)
	assert.InDelta(t, 100, led.Positions["BTCUSDT"].UnrealizedPnL, 1e-9)

	// unknown symbol is a no-op
	led.UpdateMark("ETHUSDT", 3000)
}
