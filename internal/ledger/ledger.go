// Package ledger holds the durable record of equity, positions, and drawdown
// counters. The ledger is not internally locked: it is owned by the execution
// coordinator's single mutation goroutine, and everything else sees read-only
// copies taken under that goroutine.
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

// MarginMode of a position. Only isolated is supported.
type MarginMode string

const MarginModeIsolated MarginMode = "isolated"

// FillKind distinguishes entry fills from closing fills
type FillKind string

const (
	FillKindEntry FillKind = "entry"
	FillKindClose FillKind = "close"
)

// Fill is a confirmed execution event. Applying the same fill twice must
// leave the ledger unchanged after the second application; the fill ID is
// the idempotency key.
type Fill struct {
	ID               string      `json:"id"`
	OrderID          string      `json:"order_id"`
	Symbol           string      `json:"symbol"`
	Side             signal.Side `json:"side"`
	Kind             FillKind    `json:"kind"`
	Quantity         float64     `json:"quantity"`
	Price            float64     `json:"price"`
	Fee              float64     `json:"fee"`
	Leverage         float64     `json:"leverage,omitempty"`
	Margin           float64     `json:"margin,omitempty"`
	StopPrice        float64     `json:"stop_price,omitempty"`
	TakeProfitPrice  float64     `json:"take_profit_price,omitempty"`
	LiquidationPrice float64     `json:"liquidation_price,omitempty"`
	Reason           string      `json:"reason,omitempty"` // close fills: stop, target, manual, kill_switch
	Time             time.Time   `json:"time"`
}

// Position is an open isolated-margin position
type Position struct {
	Symbol           string      `json:"symbol"`
	Side             signal.Side `json:"side"`
	EntryPrice       float64     `json:"entry_price"`
	Quantity         float64     `json:"quantity"`
	Leverage         float64     `json:"leverage"`
	MarginMode       MarginMode  `json:"margin_mode"`
	Margin           float64     `json:"margin"`
	StopPrice        float64     `json:"stop_price"`
	TakeProfitPrice  float64     `json:"take_profit_price"`
	LiquidationPrice float64     `json:"liquidation_price"`
	OpenedAt         time.Time   `json:"opened_at"`
	EntryOrderID     string      `json:"entry_order_id"`
	MarkPrice        float64     `json:"mark_price"`
	UnrealizedPnL    float64     `json:"unrealized_pnl"`
}

// RiskToStop returns the loss this position realizes if its stop is hit
func (p *Position) RiskToStop() float64 {
	return math.Abs(p.EntryPrice-p.StopPrice) * p.Quantity
}

// AccountSnapshot holds equity and drawdown counters
type AccountSnapshot struct {
	Equity            float64   `json:"equity"`
	HighWaterMark     float64   `json:"high_water_mark"`
	StartOfDayEquity  float64   `json:"start_of_day_equity"`
	StartOfWeekEquity float64   `json:"start_of_week_equity"`
	RealizedPnLDay    float64   `json:"realized_pnl_day"`
	RealizedPnLWeek   float64   `json:"realized_pnl_week"`
	CurrentDay        string    `json:"current_day"`  // 2006-01-02, UTC
	CurrentWeek       string    `json:"current_week"` // ISO year-week, UTC
	UpdatedAt         time.Time `json:"updated_at"`
}

// Ledger is the account's full internal belief about itself
type Ledger struct {
	Account      AccountSnapshot      `json:"account"`
	Positions    map[string]*Position `json:"positions"`
	AppliedFills map[string]time.Time `json:"applied_fills"`
}

// New creates an empty ledger with starting equity
func New(equity float64, now time.Time) *Ledger {
	l := &Ledger{
		Account: AccountSnapshot{
			Equity:            equity,
			HighWaterMark:     equity,
			StartOfDayEquity:  equity,
			StartOfWeekEquity: equity,
			UpdatedAt:         now,
		},
		Positions:    make(map[string]*Position),
		AppliedFills: make(map[string]time.Time),
	}
	l.Account.CurrentDay = dayKey(now)
	l.Account.CurrentWeek = weekKey(now)
	return l
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// OpenCount returns the number of open positions
func (l *Ledger) OpenCount() int {
	return len(l.Positions)
}

// HasPosition reports whether a symbol has an open position
func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.Positions[symbol]
	return ok
}

// UsedMargin sums isolated margin across open positions
func (l *Ledger) UsedMargin() float64 {
	var total float64
	for _, p := range l.Positions {
		total += p.Margin
	}
	return total
}

// AvailableMargin returns equity not committed to open positions
func (l *Ledger) AvailableMargin() float64 {
	avail := l.Account.Equity - l.UsedMargin()
	if avail < 0 {
		return 0
	}
	return avail
}

// WorstCaseOpenLoss sums risk-to-stop across all open positions
func (l *Ledger) WorstCaseOpenLoss() float64 {
	var total float64
	for _, p := range l.Positions {
		total += p.RiskToStop()
	}
	return total
}

// DailyDrawdown returns the current drawdown fraction from start-of-day equity
func (l *Ledger) DailyDrawdown() float64 {
	return drawdown(l.Account.StartOfDayEquity, l.Account.Equity)
}

// WeeklyDrawdown returns the current drawdown fraction from start-of-week equity
func (l *Ledger) WeeklyDrawdown() float64 {
	return drawdown(l.Account.StartOfWeekEquity, l.Account.Equity)
}

func drawdown(reference, equity float64) float64 {
	if reference <= 0 {
		return 0
	}
	dd := (reference - equity) / reference
	if dd < 0 {
		return 0
	}
	return dd
}

// ApplyFill applies a confirmed fill. Returns false when the fill was already
// applied (replay), in which case the ledger is left untouched.
func (l *Ledger) ApplyFill(f Fill) (bool, error) {
	if f.ID == "" {
		return false, fmt.Errorf("fill has no ID")
	}
	if _, seen := l.AppliedFills[f.ID]; seen {
		return false, nil
	}

	switch f.Kind {
	case FillKindEntry:
		if err := l.applyEntry(f); err != nil {
			return false, err
		}
	case FillKindClose:
		if err := l.applyClose(f); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unknown fill kind %q", f.Kind)
	}

	l.AppliedFills[f.ID] = f.Time
	l.Account.Equity -= f.Fee
	if l.Account.Equity > l.Account.HighWaterMark {
		l.Account.HighWaterMark = l.Account.Equity
	}
	l.Account.UpdatedAt = f.Time
	return true, nil
}

func (l *Ledger) applyEntry(f Fill) error {
	if existing, ok := l.Positions[f.Symbol]; ok {
		// Partial entry continuation on the same order: average in
		if existing.EntryOrderID == f.OrderID {
			total := existing.Quantity + f.Quantity
			existing.EntryPrice = (existing.EntryPrice*existing.Quantity + f.Price*f.Quantity) / total
			existing.Quantity = total
			existing.Margin += f.Margin
			return nil
		}
		return fmt.Errorf("entry fill for %s but position already open", f.Symbol)
	}

	l.Positions[f.Symbol] = &Position{
		Symbol:           f.Symbol,
		Side:             f.Side,
		EntryPrice:       f.Price,
		Quantity:         f.Quantity,
		Leverage:         f.Leverage,
		MarginMode:       MarginModeIsolated,
		Margin:           f.Margin,
		StopPrice:        f.StopPrice,
		TakeProfitPrice:  f.TakeProfitPrice,
		LiquidationPrice: f.LiquidationPrice,
		OpenedAt:         f.Time,
		EntryOrderID:     f.OrderID,
		MarkPrice:        f.Price,
	}
	return nil
}

func (l *Ledger) applyClose(f Fill) error {
	pos, ok := l.Positions[f.Symbol]
	if !ok {
		return fmt.Errorf("close fill for %s but no open position", f.Symbol)
	}
	if f.Quantity > pos.Quantity+1e-12 {
		return fmt.Errorf("close quantity %.8f exceeds open %.8f on %s", f.Quantity, pos.Quantity, f.Symbol)
	}

	direction := 1.0
	if pos.Side == signal.SideShort {
		direction = -1.0
	}
	realized := (f.Price - pos.EntryPrice) * f.Quantity * direction

	l.Account.Equity += realized
	l.Account.RealizedPnLDay += realized
	l.Account.RealizedPnLWeek += realized

	if f.Quantity >= pos.Quantity-1e-12 {
		delete(l.Positions, f.Symbol)
	} else {
		fraction := f.Quantity / pos.Quantity
		pos.Margin -= pos.Margin * fraction
		pos.Quantity -= f.Quantity
	}
	return nil
}

// UpdateMark refreshes a position's mark price and unrealized PnL
func (l *Ledger) UpdateMark(symbol string, price float64) {
	pos, ok := l.Positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	direction := 1.0
	if pos.Side == signal.SideShort {
		direction = -1.0
	}
	pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Quantity * direction
}

// Rollover resets daily/weekly counters when the UTC day or ISO week changed.
// Returns true when anything rolled.
func (l *Ledger) Rollover(now time.Time) bool {
	rolled := false
	if day := dayKey(now); day != l.Account.CurrentDay {
		l.Account.CurrentDay = day
		l.Account.StartOfDayEquity = l.Account.Equity
		l.Account.RealizedPnLDay = 0
		rolled = true
	}
	if week := weekKey(now); week != l.Account.CurrentWeek {
		l.Account.CurrentWeek = week
		l.Account.StartOfWeekEquity = l.Account.Equity
		l.Account.RealizedPnLWeek = 0
		rolled = true
	}
	return rolled
}

// SetEquity replaces equity from an authoritative balance fetch. Used by the
// coordinator after reconciliation confirmed the value; never called from
// intent processing.
func (l *Ledger) SetEquity(equity float64, now time.Time) {
	l.Account.Equity = equity
	if equity > l.Account.HighWaterMark {
		l.Account.HighWaterMark = equity
	}
	// First authoritative equity seeds the drawdown references
	if l.Account.StartOfDayEquity == 0 {
		l.Account.StartOfDayEquity = equity
	}
	if l.Account.StartOfWeekEquity == 0 {
		l.Account.StartOfWeekEquity = equity
	}
	l.Account.UpdatedAt = now
}

// CheckInvariants verifies the global invariants that must hold at every
// observable instant. Used by tests and the reconciliation pass.
func (l *Ledger) CheckInvariants(maxConcurrent int, leverageCap float64) error {
	if l.OpenCount() > maxConcurrent {
		return fmt.Errorf("open position count %d exceeds limit %d", l.OpenCount(), maxConcurrent)
	}
	if cap := l.Account.Equity * leverageCap; l.UsedMargin() > cap+1e-9 {
		return fmt.Errorf("used margin %.2f exceeds equity x leverage cap %.2f", l.UsedMargin(), cap)
	}
	for sym, p := range l.Positions {
		if p.MarginMode != MarginModeIsolated {
			return fmt.Errorf("position %s is not isolated margin", sym)
		}
	}
	return nil
}

// PositionList returns positions as a stable-order slice for reporting
func (l *Ledger) PositionList() []*Position {
	out := make([]*Position, 0, len(l.Positions))
	for _, p := range l.Positions {
		out = append(out, p)
	}
	return out
}
