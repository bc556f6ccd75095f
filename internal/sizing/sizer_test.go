package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

func testBudget() config.RiskBudget {
	return config.RiskBudget{
		RiskPerTrade:          0.0015,
		LeverageCap:           2.0,
		MaxConcurrent:         3,
		DailyDrawdownLimit:    0.01,
		WeeklyDrawdownLimit:   0.03,
		LiquidationBuffer:     0.20,
		MaintenanceMarginRate: 0.005,
		MaxAllocPerSymbol:     0.30,
	}
}

func testLimits() exchange.InstrumentLimits {
	return exchange.InstrumentLimits{
		Symbol:      "BTCUSDT",
		MinQty:      0.001,
		MaxQty:      100,
		QtyStep:     0.001,
		MinNotional: 5,
		MaxLeverage: 100,
	}
}

func testIntent(side signal.Side, stopDistance float64) signal.TradeIntent {
	return signal.TradeIntent{
		ID:           "intent-1",
		Symbol:       "BTCUSDT",
		Side:         side,
		StopDistance: stopDistance,
		Volatility:   stopDistance,
		SignalTime:   time.Now(),
	}
}

// TestSize_RiskDerivedQuantity verifies quantity = equity x risk / stop distance
func TestSize_RiskDerivedQuantity(t *testing.T) {
	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 500),
		Equity:          10000,
		AvailableMargin: 10000,
		RefPrice:        50000,
		Budget:          testBudget(),
		Limits:          testLimits(),
		TakeProfitMult:  2.0,
	})

	require.Nil(t, rej)
	require.NotNil(t, order)
	// 10000 * 0.0015 = 15 risked; 15 / 500 = 0.03
	assert.InDelta(t, 0.03, order.Quantity, 1e-9)
	assert.InDelta(t, 15.0, order.RiskToStop(), 1e-6)
	assert.Equal(t, 49500.0, order.StopPrice)
	assert.Equal(t, "isolated", order.MarginMode)
	assert.Equal(t, 1.0, order.Leverage)
	assert.InDelta(t, 1500.0, order.Notional, 1e-9)
	assert.InDelta(t, 1500.0, order.Margin, 1e-9)
	// TP at 2x volatility above entry
	assert.Equal(t, 51000.0, order.TakeProfitPrice)
}

// TestSize_QuantityFlooredToStep verifies rounding never exceeds configured risk
func TestSize_QuantityFlooredToStep(t *testing.T) {
	budget := testBudget()
	budget.RiskPerTrade = 0.001

	limits := testLimits()
	limits.QtyStep = 0.01
	limits.MinNotional = 0

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 3),
		Equity:          10000,
		AvailableMargin: 10000,
		RefPrice:        100,
		Budget:          budget,
		Limits:          limits,
	})

	require.Nil(t, rej)
	// raw 10 / 3 = 3.3333..., floored to 3.33, never 3.34
	assert.InDelta(t, 3.33, order.Quantity, 1e-9)
	assert.LessOrEqual(t, order.RiskToStop(), 10.0+1e-9)
}

// TestSize_ShortStopAboveEntry verifies short stops sit above the reference price
func TestSize_ShortStopAboveEntry(t *testing.T) {
	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideShort, 500),
		Equity:          10000,
		AvailableMargin: 10000,
		RefPrice:        50000,
		Budget:          testBudget(),
		Limits:          testLimits(),
		TakeProfitMult:  2.0,
	})

	require.Nil(t, rej)
	assert.Equal(t, 50500.0, order.StopPrice)
	assert.Equal(t, 49000.0, order.TakeProfitPrice)
	assert.Greater(t, order.LiquidationPrice, order.StopPrice)
}

// TestSize_RejectsBelowMinQuantity verifies tiny accounts cannot trade
func TestSize_RejectsBelowMinQuantity(t *testing.T) {
	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 500),
		Equity:          100, // 0.15 risked -> 0.0003 qty, below 0.001 min
		AvailableMargin: 100,
		RefPrice:        50000,
		Budget:          testBudget(),
		Limits:          testLimits(),
	})

	assert.Nil(t, order)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonBelowMinNotional, rej.Reason)
}

// TestSize_RejectsBelowMinNotional verifies the exchange notional floor applies
func TestSize_RejectsBelowMinNotional(t *testing.T) {
	limits := testLimits()
	limits.MinNotional = 100

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 5),
		Equity:          10000, // 15 risked / 5 = 3 qty, notional 30 at ref 10
		AvailableMargin: 10000,
		RefPrice:        10,
		Budget:          testBudget(),
		Limits:          limits,
	})

	assert.Nil(t, order)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonBelowMinNotional, rej.Reason)
}

// TestSize_RejectsNotionalOverLeverageCap verifies notional never exceeds
// equity times the leverage cap
func TestSize_RejectsNotionalOverLeverageCap(t *testing.T) {
	budget := testBudget()
	budget.RiskPerTrade = 0.5 // absurd risk to force a huge quantity

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 10),
		Equity:          10000, // qty capped at MaxQty 100, notional 30000 > 20000
		AvailableMargin: 10000,
		RefPrice:        300,
		Budget:          budget,
		Limits:          testLimits(),
	})

	assert.Nil(t, order)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonMarginInfeasible, rej.Reason)
}

// TestSize_LeverageMovesQuantityDoesNot verifies margin pressure raises
// leverage toward the cap instead of shrinking the order
func TestSize_LeverageMovesQuantityDoesNot(t *testing.T) {
	budget := testBudget()
	budget.RiskPerTrade = 0.015
	budget.MaxAllocPerSymbol = 0 // no per-symbol cap in this scenario

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 50),
		Equity:          10000, // 150 risked / 50 = 3 qty, notional 1500
		AvailableMargin: 1000,  // forces leverage 1.5
		RefPrice:        500,
		Budget:          budget,
		Limits:          testLimits(),
	})

	require.Nil(t, rej)
	assert.InDelta(t, 3.0, order.Quantity, 1e-9)
	assert.InDelta(t, 1.5, order.Leverage, 1e-9)
	assert.InDelta(t, 1000.0, order.Margin, 1e-9)
}

// TestSize_RejectsWhenNoLeverageFits verifies rejection when even the cap
// cannot cover the required margin
func TestSize_RejectsWhenNoLeverageFits(t *testing.T) {
	budget := testBudget()
	budget.RiskPerTrade = 0.015
	budget.MaxAllocPerSymbol = 0

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 50),
		Equity:          10000, // notional 1500 needs margin 750 at cap 2x
		AvailableMargin: 500,
		RefPrice:        500,
		Budget:          budget,
		Limits:          testLimits(),
	})

	assert.Nil(t, order)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonMarginInfeasible, rej.Reason)
}

// TestSize_RejectsStopNearLiquidation verifies the liquidation buffer check
func TestSize_RejectsStopNearLiquidation(t *testing.T) {
	budget := testBudget()
	budget.RiskPerTrade = 0.072
	budget.MaxAllocPerSymbol = 0

	order, rej := Size(Inputs{
		Intent:          testIntent(signal.SideLong, 45),
		Equity:          10000, // 720 risked / 45 = 16 qty, notional 1600
		AvailableMargin: 800,   // leverage 2 -> liquidation near 50.5
		RefPrice:        100,
		Budget:          budget,
		Limits:          testLimits(),
	})

	assert.Nil(t, order)
	require.NotNil(t, rej)
	// stop 55 sits 4.5 from estimated liquidation 50.5, buffer demands 20
	assert.Equal(t, ReasonLiquidationTooClose, rej.Reason)
}

// TestEstimateLiquidationPrice_Sides verifies the liquidation estimate sits on
// the correct side of entry
func TestEstimateLiquidationPrice_Sides(t *testing.T) {
	long := EstimateLiquidationPrice(100, signal.SideLong, 2, 0.005)
	short := EstimateLiquidationPrice(100, signal.SideShort, 2, 0.005)

	assert.InDelta(t, 50.5, long, 1e-9)
	assert.InDelta(t, 149.5, short, 1e-9)
	assert.Less(t, long, 100.0)
	assert.Greater(t, short, 100.0)
}

// TestFloorToStep verifies floor semantics at step boundaries
func TestFloorToStep(t *testing.T) {
	assert.InDelta(t, 0.03, floorToStep(0.0305, 0.001), 1e-12)
	assert.InDelta(t, 0.03, floorToStep(0.03, 0.001), 1e-12)
	assert.InDelta(t, 2.0, floorToStep(2.0005, 0.001), 1e-12)
	assert.InDelta(t, 7.0, floorToStep(7.0, 0), 1e-12)
}
