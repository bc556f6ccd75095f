// Package sizing turns a trade intent into a correctly sized, leverage- and
// liquidation-aware order. Size is a pure function of its inputs: no clock,
// no exchange, no ledger access.
package sizing

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

// RejectionReason is a typed sizing rejection code
type RejectionReason string

const (
	ReasonBelowMinNotional    RejectionReason = "below_minimum_notional"
	ReasonMarginInfeasible    RejectionReason = "margin_infeasible"
	ReasonLiquidationTooClose RejectionReason = "liquidation_too_close"
)

// Rejection explains why an intent could not be sized
type Rejection struct {
	Reason RejectionReason
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// SizedOrder is a fully specified order ready for the risk limiter
type SizedOrder struct {
	Intent           signal.TradeIntent
	Symbol           string
	Side             signal.Side
	Quantity         float64
	Leverage         float64
	MarginMode       string
	EntryPrice       float64 // reference price used for sizing
	StopPrice        float64
	TakeProfitPrice  float64
	Margin           float64
	Notional         float64
	LiquidationPrice float64
}

// RiskToStop returns the loss realized if the stop is hit at the sized quantity
func (o *SizedOrder) RiskToStop() float64 {
	return math.Abs(o.EntryPrice-o.StopPrice) * o.Quantity
}

// Inputs collects everything Size needs
type Inputs struct {
	Intent          signal.TradeIntent
	Equity          float64
	AvailableMargin float64
	RefPrice        float64 // latest known reference price
	Budget          config.RiskBudget
	Limits          exchange.InstrumentLimits
	TakeProfitMult  float64 // TP distance as multiple of intent volatility
}

// Size computes a risk-derived order size.
//
// quantity = floor((equity x risk_fraction) / stop_distance) to the exchange
// step; never rounded up, since rounding up would exceed the configured risk.
// Quantity is never altered afterwards to fit margin: margin feasibility is
// resolved by moving leverage toward the cap, and if no leverage within the
// cap fits, the intent is rejected.
func Size(in Inputs) (*SizedOrder, *Rejection) {
	intent := in.Intent

	riskAmount := in.Equity * in.Budget.RiskPerTrade
	rawQty := riskAmount / intent.StopDistance

	qty := floorToStep(rawQty, in.Limits.QtyStep)
	if qty < in.Limits.MinQty || qty <= 0 {
		return nil, &Rejection{
			Reason: ReasonBelowMinNotional,
			Detail: fmt.Sprintf("quantity %.8f below exchange minimum %.8f", qty, in.Limits.MinQty),
		}
	}
	if in.Limits.MaxQty > 0 && qty > in.Limits.MaxQty {
		qty = floorToStep(in.Limits.MaxQty, in.Limits.QtyStep)
	}

	notional := qty * in.RefPrice
	if in.Limits.MinNotional > 0 && notional < in.Limits.MinNotional {
		return nil, &Rejection{
			Reason: ReasonBelowMinNotional,
			Detail: fmt.Sprintf("notional %.2f below exchange minimum %.2f", notional, in.Limits.MinNotional),
		}
	}

	// Hard notional cap from the global leverage invariant:
	// margin x leverage = notional, so notional may never exceed equity x cap.
	if maxNotional := in.Equity * in.Budget.LeverageCap; notional > maxNotional {
		return nil, &Rejection{
			Reason: ReasonMarginInfeasible,
			Detail: fmt.Sprintf("notional %.2f exceeds equity x leverage cap %.2f", notional, maxNotional),
		}
	}

	leverage, rej := fitLeverage(notional, in)
	if rej != nil {
		return nil, rej
	}
	margin := notional / leverage

	entry := in.RefPrice
	var stop float64
	if intent.Side == signal.SideLong {
		stop = entry - intent.StopDistance
	} else {
		stop = entry + intent.StopDistance
	}
	if stop <= 0 {
		return nil, &Rejection{
			Reason: ReasonLiquidationTooClose,
			Detail: fmt.Sprintf("stop price %.4f not positive at reference %.4f", stop, entry),
		}
	}

	liq := EstimateLiquidationPrice(entry, intent.Side, leverage, in.Budget.MaintenanceMarginRate)

	// Stop must sit strictly between entry and the liquidation price, with at
	// least the configured buffer (as a fraction of entry) of clearance.
	buffer := in.Budget.LiquidationBuffer * entry
	if stopBeyondLiquidation(intent.Side, stop, liq) || math.Abs(liq-stop) < buffer {
		return nil, &Rejection{
			Reason: ReasonLiquidationTooClose,
			Detail: fmt.Sprintf("stop %.4f within %.4f of estimated liquidation %.4f (buffer %.4f)",
				stop, math.Abs(liq-stop), liq, buffer),
		}
	}

	var takeProfit float64
	if in.TakeProfitMult > 0 && intent.Volatility > 0 {
		if intent.Side == signal.SideLong {
			takeProfit = entry + in.TakeProfitMult*intent.Volatility
		} else {
			takeProfit = entry - in.TakeProfitMult*intent.Volatility
		}
	}

	return &SizedOrder{
		Intent:           intent,
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		Quantity:         qty,
		Leverage:         leverage,
		MarginMode:       "isolated",
		EntryPrice:       entry,
		StopPrice:        stop,
		TakeProfitPrice:  takeProfit,
		Margin:           margin,
		Notional:         notional,
		LiquidationPrice: liq,
	}, nil
}

// fitLeverage picks the lowest leverage whose implied margin fits both the
// available margin and the per-symbol allocation cap, then verifies it stays
// within the leverage cap. Leverage moves, quantity does not.
func fitLeverage(notional float64, in Inputs) (float64, *Rejection) {
	marginCeiling := in.AvailableMargin
	if alloc := in.Equity * in.Budget.MaxAllocPerSymbol; in.Budget.MaxAllocPerSymbol > 0 && alloc < marginCeiling {
		marginCeiling = alloc
	}
	if marginCeiling <= 0 {
		return 0, &Rejection{
			Reason: ReasonMarginInfeasible,
			Detail: "no margin available",
		}
	}

	leverage := 1.0
	if notional > marginCeiling {
		leverage = notional / marginCeiling
	}
	cap := in.Budget.LeverageCap
	if in.Limits.MaxLeverage > 0 && in.Limits.MaxLeverage < cap {
		cap = in.Limits.MaxLeverage
	}
	if leverage > cap {
		return 0, &Rejection{
			Reason: ReasonMarginInfeasible,
			Detail: fmt.Sprintf("required margin %.2f exceeds ceiling %.2f even at leverage cap %.1fx",
				notional/cap, marginCeiling, cap),
		}
	}
	return leverage, nil
}

// EstimateLiquidationPrice gives a conservative isolated-margin liquidation
// estimate for USDT-M perpetuals. It intentionally underestimates safety.
func EstimateLiquidationPrice(entry float64, side signal.Side, leverage, maintenanceMarginRate float64) float64 {
	if side == signal.SideLong {
		return entry * (1 - 1/leverage + maintenanceMarginRate)
	}
	return entry * (1 + 1/leverage - maintenanceMarginRate)
}

func stopBeyondLiquidation(side signal.Side, stop, liq float64) bool {
	if side == signal.SideLong {
		return stop <= liq
	}
	return stop >= liq
}

func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+1e-9) * step
}
