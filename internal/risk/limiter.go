// Package risk gates sized orders against the concurrency, drawdown, and
// margin policy. The limiter itself holds no state: the coordinator calls
// Evaluate inside the same exclusive critical section that performs the
// ledger write for an approved order, so the checks can never go stale
// between evaluation and admission.
package risk

import (
	"fmt"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

// CheckID identifies the failing check in a rejection
type CheckID string

const (
	CheckKillSwitch    CheckID = "kill_switch"
	CheckSymbolOpen    CheckID = "symbol_already_open"
	CheckMaxConcurrent CheckID = "max_concurrent_positions"
	CheckDailyDD       CheckID = "daily_drawdown_limit"
	CheckWeeklyDD      CheckID = "weekly_drawdown_limit"
	CheckMarginMode    CheckID = "margin_mode"
)

// Rejection carries the identity of the failing check
type Rejection struct {
	Check  CheckID
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Check, r.Detail)
}

// Limiter evaluates sized orders against the fixed risk budget
type Limiter struct {
	budget config.RiskBudget
}

// NewLimiter creates a limiter for a risk budget
func NewLimiter(budget config.RiskBudget) *Limiter {
	return &Limiter{budget: budget}
}

// Evaluate runs the admission checks in order, short-circuiting on the first
// failure. A nil return admits the order; the caller must then write the
// ledger before leaving the critical section.
func (l *Limiter) Evaluate(order *sizing.SizedOrder, led *ledger.Ledger, ksState killswitch.State) *Rejection {
	// (1) kill switch must permit trading
	if ksState != killswitch.StateActive {
		return &Rejection{
			Check:  CheckKillSwitch,
			Detail: fmt.Sprintf("kill switch state is %s", ksState),
		}
	}

	// (2) no pyramiding unless explicitly configured
	if !l.budget.AllowPyramiding && led.HasPosition(order.Symbol) {
		return &Rejection{
			Check:  CheckSymbolOpen,
			Detail: fmt.Sprintf("position already open on %s", order.Symbol),
		}
	}

	// (3) concurrency limit
	if led.OpenCount() >= l.budget.MaxConcurrent {
		return &Rejection{
			Check:  CheckMaxConcurrent,
			Detail: fmt.Sprintf("open positions %d at limit %d", led.OpenCount(), l.budget.MaxConcurrent),
		}
	}

	// (4) projected daily drawdown: realized so far plus worst-case loss on
	// everything open plus the risk this entry adds
	worstCase := led.WorstCaseOpenLoss() + order.RiskToStop()
	if dd := projectedDrawdown(led.Account.StartOfDayEquity, led.Account.Equity, worstCase); dd >= l.budget.DailyDrawdownLimit {
		return &Rejection{
			Check:  CheckDailyDD,
			Detail: fmt.Sprintf("projected daily drawdown %.4f breaches limit %.4f", dd, l.budget.DailyDrawdownLimit),
		}
	}

	// (5) projected weekly drawdown
	if dd := projectedDrawdown(led.Account.StartOfWeekEquity, led.Account.Equity, worstCase); dd >= l.budget.WeeklyDrawdownLimit {
		return &Rejection{
			Check:  CheckWeeklyDD,
			Detail: fmt.Sprintf("projected weekly drawdown %.4f breaches limit %.4f", dd, l.budget.WeeklyDrawdownLimit),
		}
	}

	// (6) isolated margin only
	if order.MarginMode != string(ledger.MarginModeIsolated) {
		return &Rejection{
			Check:  CheckMarginMode,
			Detail: fmt.Sprintf("margin mode %q is not isolated", order.MarginMode),
		}
	}

	return nil
}

func projectedDrawdown(reference, equity, worstCaseLoss float64) float64 {
	if reference <= 0 {
		return 0
	}
	dd := (reference - (equity - worstCaseLoss)) / reference
	if dd < 0 {
		return 0
	}
	return dd
}
