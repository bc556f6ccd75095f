package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/monitoring"
)

// reconcilePass compares the ledger against the exchange's authoritative
// view and drives the kill switch from the outcome. It fails closed: when
// the exchange cannot be queried before the timeout, no state transition
// toward ACTIVE happens and a RECONCILING switch stays RECONCILING.
//
// The returned error is non-nil only for persistence failures, which are
// process-fatal.
func (c *Coordinator) reconcilePass(ctx context.Context) error {
	now := time.Now()
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Execution.ReconciliationTimeout())
	defer cancel()

	positions, err := c.effecter.OpenPositions(rctx)
	if err != nil {
		c.reconcileFailed("query positions", err, now)
		return nil
	}
	balance, err := c.effecter.AccountBalance(rctx)
	if err != nil {
		c.reconcileFailed("query balance", err, now)
		return nil
	}
	c.errWindow.Reset()
	if c.health != nil {
		c.health.SetConnected(true)
	}

	exchPositions := make(map[string]exchange.PositionInfo, len(positions))
	for _, p := range positions {
		exchPositions[p.Symbol] = p
	}

	var mismatches []string
	tolerance := c.cfg.Execution.QuantityTolerance

	// Ledger positions the exchange no longer has, or holds at a different
	// size. A disappearance explained by a stop or take-profit execution is
	// applied as a close fill, not flagged.
	for _, pos := range c.led.PositionList() {
		ep, ok := exchPositions[pos.Symbol]
		if !ok {
			fill, found, exitErr := c.effecter.ResolveExit(rctx, pos)
			if exitErr != nil {
				c.reconcileFailed(fmt.Sprintf("resolve exit for %s", pos.Symbol), exitErr, now)
				return nil
			}
			if found {
				if err := c.applyFill(fill); err != nil {
					return err
				}
				continue
			}
			mismatches = append(mismatches,
				fmt.Sprintf("position %s in ledger but not on exchange", pos.Symbol))
			continue
		}
		if math.Abs(ep.Quantity-pos.Quantity) > tolerance {
			mismatches = append(mismatches,
				fmt.Sprintf("position %s quantity ledger=%.8f exchange=%.8f", pos.Symbol, pos.Quantity, ep.Quantity))
			continue
		}
		if ep.MarkPrice > 0 {
			c.led.UpdateMark(pos.Symbol, ep.MarkPrice)
		}
	}

	// Exchange positions the ledger does not know about
	for symbol := range exchPositions {
		if !c.led.HasPosition(symbol) {
			mismatches = append(mismatches,
				fmt.Sprintf("unexpected position %s on exchange", symbol))
		}
	}

	if len(mismatches) > 0 {
		for _, m := range mismatches {
			c.log.Error("reconciliation mismatch: %s", m)
		}
		monitoring.RecordReconciliationMismatch()
		if hErr := c.ks.HaltAuto(killswitch.ReasonReconciliationMismatch, "reconciler", now); hErr != nil {
			c.log.LogError("halt on reconciliation mismatch", hErr)
			return hErr
		}
		return nil
	}

	// Equity anomaly between consecutive passes halts before the anomalous
	// value reaches sizing.
	if killswitch.EquityAnomaly(c.lastReconEquity, balance.Equity, c.cfg.Execution.AnomalyThreshold) {
		c.log.Error("equity anomaly: %.2f -> %.2f", c.lastReconEquity, balance.Equity)
		if hErr := c.ks.HaltAuto(killswitch.ReasonEquityAnomaly, "reconciler", now); hErr != nil {
			c.log.LogError("halt on equity anomaly", hErr)
			return hErr
		}
		c.lastReconEquity = balance.Equity
		return nil
	}
	c.lastReconEquity = balance.Equity

	c.led.SetEquity(balance.Equity, now)
	c.led.Rollover(now)

	// Drawdown limits are enforced here, where equity is authoritative
	if dd := c.led.DailyDrawdown(); dd >= c.cfg.Risk.DailyDrawdownLimit {
		c.log.Error("daily drawdown %.4f breached limit %.4f", dd, c.cfg.Risk.DailyDrawdownLimit)
		if hErr := c.ks.HaltAuto(killswitch.ReasonDailyDrawdown, "reconciler", now); hErr != nil {
			return hErr
		}
	} else if dd := c.led.WeeklyDrawdown(); dd >= c.cfg.Risk.WeeklyDrawdownLimit {
		c.log.Error("weekly drawdown %.4f breached limit %.4f", dd, c.cfg.Risk.WeeklyDrawdownLimit)
		if hErr := c.ks.HaltAuto(killswitch.ReasonWeeklyDrawdown, "reconciler", now); hErr != nil {
			return hErr
		}
	}

	if err := c.persistLedger(); err != nil {
		return err
	}

	// A clean pass while RECONCILING re-arms the switch
	if c.ks.State() == killswitch.StateReconciling {
		if tErr := c.ks.Transition(killswitch.StateActive, killswitch.ReasonReconciliationClean, "reconciler", now); tErr != nil {
			return tErr
		}
	}

	monitoring.UpdateAccount(balance.Equity, c.led.OpenCount())
	if c.health != nil {
		c.health.RecordReconciliation(now, balance.Equity)
	}
	return nil
}

// reconcileFailed records a failed pass. The kill switch is left wherever it
// was; an in-progress RECONCILING stays RECONCILING until a pass completes.
func (c *Coordinator) reconcileFailed(op string, err error, now time.Time) {
	c.log.LogError("reconciliation: "+op, err)
	if c.health != nil {
		c.health.SetConnected(false)
		c.health.AddError(fmt.Sprintf("reconciliation: %s: %v", op, err))
	}
	c.noteExchangeError(err, now)
}
