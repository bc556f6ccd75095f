package exchange

import (
	"context"
	"time"
)

// Gateway defines the narrow contract the execution core consumes.
// Implementations must surface transient vs fatal failures distinguishably
// (see Error and the classification helpers in errors.go).
type Gateway interface {
	// Name returns the exchange name
	Name() string

	// SubmitOrder submits a market order, optionally carrying attached
	// take-profit / stop-loss trigger prices
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// CancelOrder cancels an order and confirms the cancellation
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus queries the authoritative status of an order
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error)

	// RecentOrders returns recent orders for a symbol, newest first,
	// including terminal ones. Used to resolve exchange-side exits.
	RecentOrders(ctx context.Context, symbol string) ([]OrderStatus, error)

	// GetOpenPositions returns the exchange's authoritative open-position view
	GetOpenPositions(ctx context.Context) ([]PositionInfo, error)

	// GetAccountBalance returns the settlement-currency equity and available margin
	GetAccountBalance(ctx context.Context) (*AccountBalance, error)

	// GetInstrumentLimits returns quantity/notional step constraints for a symbol
	GetInstrumentLimits(ctx context.Context, symbol string) (*InstrumentLimits, error)

	// SetIsolatedMargin configures isolated margin mode and leverage on a symbol
	SetIsolatedMargin(ctx context.Context, symbol string, leverage float64) error

	// SubscribeTicker streams reference prices for a symbol until ctx is done
	SubscribeTicker(ctx context.Context, symbol string) (<-chan Ticker, error)

	// Close releases gateway resources
	Close() error
}

// OrderSide represents buy or sell on the wire
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderRequest holds parameters for a market order submission
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Quantity    float64
	ReduceOnly  bool
	TakeProfit  float64 // 0 means none
	StopLoss    float64 // 0 means none
	OrderLinkID string  // idempotency key set by the coordinator
}

// OrderAck is the immediate response to a submission
type OrderAck struct {
	OrderID     string
	OrderLinkID string
	SubmittedAt time.Time
}

// OrderState classifies an order's lifecycle status
type OrderState string

const (
	OrderStateNew             OrderState = "New"
	OrderStatePartiallyFilled OrderState = "PartiallyFilled"
	OrderStateFilled          OrderState = "Filled"
	OrderStateCancelled       OrderState = "Cancelled"
	OrderStateRejected        OrderState = "Rejected"
)

// OrderStatus is the authoritative status of a submitted order
type OrderStatus struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	State       OrderState
	FilledQty   float64
	AvgPrice    float64
	ReduceOnly  bool
	UpdatedTime time.Time
}

// PositionInfo is the exchange's view of an open position
type PositionInfo struct {
	Symbol           string
	Side             string // "long" or "short"
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	Leverage         float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	UpdatedTime      time.Time
}

// AccountBalance is the exchange's view of account equity
type AccountBalance struct {
	Equity          float64
	AvailableMargin float64
	UsedMargin      float64
	UpdatedTime     time.Time
}

// InstrumentLimits holds per-symbol order constraints
type InstrumentLimits struct {
	Symbol      string
	MinQty      float64
	MaxQty      float64
	QtyStep     float64
	MinNotional float64
	MaxLeverage float64
}

// Ticker carries a reference price update
type Ticker struct {
	Symbol    string
	LastPrice float64
	MarkPrice float64
	Timestamp time.Time
}
