// Package executor owns order effecting, the per-account coordination loop,
// and reconciliation against the exchange's authoritative state.
package executor

import (
	"context"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

// OrderEffecter abstracts live versus simulated execution. Everything
// downstream of the fill, ledger application, risk accounting, persistence
// and reconciliation, runs identically against either implementation.
type OrderEffecter interface {
	// Mode returns "live" or "dry-run"
	Mode() string

	// Execute submits the entry order and blocks until a fill, a terminal
	// rejection, or the fill timeout. Partial fills at timeout are returned
	// as fills for the executed quantity after cancelling the remainder.
	Execute(ctx context.Context, order *sizing.SizedOrder) (*ledger.Fill, error)

	// ClosePosition submits a reduce-only market close and blocks until
	// filled. reason is recorded on the resulting fill.
	ClosePosition(ctx context.Context, pos *ledger.Position, reason string) (*ledger.Fill, error)

	// OpenPositions returns the authoritative open-position view
	OpenPositions(ctx context.Context) ([]exchange.PositionInfo, error)

	// AccountBalance returns the authoritative equity and margin view
	AccountBalance(ctx context.Context) (*exchange.AccountBalance, error)

	// InstrumentLimits returns the order constraints for a symbol
	InstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error)

	// ResolveExit looks for an exit that closed pos on the exchange side
	// (stop or take-profit trigger). Returns the close fill when one is
	// found, or found=false when the disappearance is unexplained.
	ResolveExit(ctx context.Context, pos *ledger.Position) (fill *ledger.Fill, found bool, err error)

	// UpdatePrice feeds a reference price. The simulated effecter uses it
	// to trigger paper stops and take-profits; the live effecter ignores it.
	UpdatePrice(symbol string, price float64)

	// Close releases effecter resources
	Close() error
}
