package signal

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/errors"
)

// Side represents the direction of a trade intent
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the closing direction for a side
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// TradeIntent is a single-use directional signal produced by an external
// signal source. It is immutable once created; the coordinator consumes it
// exactly once (sized and executed, or rejected).
type TradeIntent struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	StopDistance float64   `json:"stop_distance"` // absolute price distance to the stop
	Volatility   float64   `json:"volatility"`    // strategy-provided measure (e.g. ATR)
	SignalTime   time.Time `json:"signal_time"`
}

// Validate checks intent fields before sizing. A failed validation rejects
// only this intent; it has no system-wide effect.
func (i TradeIntent) Validate() *errors.AgentError {
	if i.Symbol == "" {
		return errors.NewValidationError("signal", "validate", "symbol is required")
	}
	if i.Side != SideLong && i.Side != SideShort {
		return errors.NewValidationError("signal", "validate",
			fmt.Sprintf("invalid side %q", i.Side))
	}
	if i.StopDistance <= 0 {
		return errors.NewValidationError("signal", "validate",
			fmt.Sprintf("stop distance must be positive, got %f", i.StopDistance))
	}
	if i.Volatility < 0 {
		return errors.NewValidationError("signal", "validate",
			fmt.Sprintf("volatility must not be negative, got %f", i.Volatility))
	}
	if i.SignalTime.IsZero() {
		return errors.NewValidationError("signal", "validate", "signal time is required")
	}
	return nil
}
