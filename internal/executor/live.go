package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

const fillPollInterval = 500 * time.Millisecond

// LiveEffecter executes orders against a real exchange gateway
type LiveEffecter struct {
	gateway     exchange.Gateway
	policy      RetryPolicy
	fillTimeout time.Duration
	log         *logger.Logger

	// symbols already configured for isolated margin at a given leverage
	configured map[string]float64
}

// NewLiveEffecter creates an effecter backed by a gateway
func NewLiveEffecter(gateway exchange.Gateway, policy RetryPolicy, fillTimeout time.Duration, log *logger.Logger) *LiveEffecter {
	return &LiveEffecter{
		gateway:     gateway,
		policy:      policy,
		fillTimeout: fillTimeout,
		log:         log,
		configured:  make(map[string]float64),
	}
}

func (e *LiveEffecter) Mode() string { return "live" }

// Execute submits the entry and awaits the fill. The intent ID rides as the
// orderLinkId so a retried submission after an ambiguous failure cannot
// create a second order.
func (e *LiveEffecter) Execute(ctx context.Context, order *sizing.SizedOrder) (*ledger.Fill, error) {
	if err := e.ensureLeverage(ctx, order.Symbol, order.Leverage); err != nil {
		return nil, err
	}

	req := exchange.OrderRequest{
		Symbol:      order.Symbol,
		Side:        sideToOrderSide(order.Side),
		Quantity:    order.Quantity,
		TakeProfit:  order.TakeProfitPrice,
		StopLoss:    order.StopPrice,
		OrderLinkID: order.Intent.ID,
	}

	var ack *exchange.OrderAck
	err := retryCall(ctx, e.policy, func() error {
		var submitErr error
		ack, submitErr = e.gateway.SubmitOrder(ctx, req)
		return submitErr
	})
	if err != nil {
		return nil, err
	}

	status, err := e.awaitFill(ctx, order.Symbol, ack.OrderID)
	if err != nil {
		return nil, err
	}

	fill := &ledger.Fill{
		ID:               ack.OrderID,
		OrderID:          ack.OrderID,
		Symbol:           order.Symbol,
		Side:             order.Side,
		Kind:             ledger.FillKindEntry,
		Quantity:         status.FilledQty,
		Price:            status.AvgPrice,
		Leverage:         order.Leverage,
		Margin:           order.Margin * status.FilledQty / order.Quantity,
		StopPrice:        order.StopPrice,
		TakeProfitPrice:  order.TakeProfitPrice,
		LiquidationPrice: order.LiquidationPrice,
		Time:             status.UpdatedTime,
	}
	return fill, nil
}

// ClosePosition submits a reduce-only market close and awaits the fill
func (e *LiveEffecter) ClosePosition(ctx context.Context, pos *ledger.Position, reason string) (*ledger.Fill, error) {
	req := exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       sideToOrderSide(pos.Side.Opposite()),
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	}

	var ack *exchange.OrderAck
	err := retryCall(ctx, e.policy, func() error {
		var submitErr error
		ack, submitErr = e.gateway.SubmitOrder(ctx, req)
		return submitErr
	})
	if err != nil {
		return nil, err
	}

	status, err := e.awaitFill(ctx, pos.Symbol, ack.OrderID)
	if err != nil {
		return nil, err
	}

	return &ledger.Fill{
		ID:       ack.OrderID,
		OrderID:  ack.OrderID,
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		Kind:     ledger.FillKindClose,
		Quantity: status.FilledQty,
		Price:    status.AvgPrice,
		Reason:   reason,
		Time:     status.UpdatedTime,
	}, nil
}

func (e *LiveEffecter) OpenPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	var positions []exchange.PositionInfo
	err := retryCall(ctx, e.policy, func() error {
		var qErr error
		positions, qErr = e.gateway.GetOpenPositions(ctx)
		return qErr
	})
	return positions, err
}

func (e *LiveEffecter) AccountBalance(ctx context.Context) (*exchange.AccountBalance, error) {
	var balance *exchange.AccountBalance
	err := retryCall(ctx, e.policy, func() error {
		var qErr error
		balance, qErr = e.gateway.GetAccountBalance(ctx)
		return qErr
	})
	return balance, err
}

func (e *LiveEffecter) InstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	var limits *exchange.InstrumentLimits
	err := retryCall(ctx, e.policy, func() error {
		var qErr error
		limits, qErr = e.gateway.GetInstrumentLimits(ctx, symbol)
		return qErr
	})
	return limits, err
}

// ResolveExit scans recent orders for the reduce-only execution that closed
// pos on the exchange side (stop or take-profit trigger).
func (e *LiveEffecter) ResolveExit(ctx context.Context, pos *ledger.Position) (*ledger.Fill, bool, error) {
	var orders []exchange.OrderStatus
	err := retryCall(ctx, e.policy, func() error {
		var qErr error
		orders, qErr = e.gateway.RecentOrders(ctx, pos.Symbol)
		return qErr
	})
	if err != nil {
		return nil, false, err
	}

	closeSide := sideToOrderSide(pos.Side.Opposite())
	for _, o := range orders {
		if o.State != exchange.OrderStateFilled || !o.ReduceOnly {
			continue
		}
		if o.Side != closeSide || o.UpdatedTime.Before(pos.OpenedAt) {
			continue
		}
		if math.Abs(o.FilledQty-pos.Quantity) > pos.Quantity*0.01 {
			continue
		}
		return &ledger.Fill{
			ID:       o.OrderID,
			OrderID:  o.OrderID,
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Kind:     ledger.FillKindClose,
			Quantity: o.FilledQty,
			Price:    o.AvgPrice,
			Reason:   exitReason(pos, o.AvgPrice),
			Time:     o.UpdatedTime,
		}, true, nil
	}
	return nil, false, nil
}

// UpdatePrice is a no-op for live execution; the exchange owns triggers
func (e *LiveEffecter) UpdatePrice(symbol string, price float64) {}

func (e *LiveEffecter) Close() error {
	return e.gateway.Close()
}

// ensureLeverage configures isolated margin once per symbol and leverage
func (e *LiveEffecter) ensureLeverage(ctx context.Context, symbol string, leverage float64) error {
	if e.configured[symbol] == leverage {
		return nil
	}
	err := retryCall(ctx, e.policy, func() error {
		return e.gateway.SetIsolatedMargin(ctx, symbol, leverage)
	})
	if err != nil {
		return err
	}
	e.configured[symbol] = leverage
	return nil
}

// awaitFill polls order status until a terminal state or the fill timeout.
// On timeout the remainder is cancelled and confirmed; a partial execution
// is accepted as the final status.
func (e *LiveEffecter) awaitFill(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	deadline := time.Now().Add(e.fillTimeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		status, err := e.gateway.GetOrderStatus(ctx, symbol, orderID)
		if err == nil {
			switch status.State {
			case exchange.OrderStateFilled:
				return status, nil
			case exchange.OrderStateRejected:
				return nil, exchange.NewFatalError(e.gateway.Name(), 0,
					fmt.Sprintf("order %s rejected", orderID))
			case exchange.OrderStateCancelled:
				if status.FilledQty > 0 {
					return status, nil
				}
				return nil, exchange.NewFatalError(e.gateway.Name(), 0,
					fmt.Sprintf("order %s cancelled before any fill", orderID))
			}
		} else if exchange.IsFatal(err) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return e.cancelAndConfirm(ctx, symbol, orderID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancelAndConfirm cancels a timed-out order and returns its confirmed final
// status. An order that filled during cancellation wins over the cancel.
func (e *LiveEffecter) cancelAndConfirm(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	cancelErr := retryCall(ctx, e.policy, func() error {
		return e.gateway.CancelOrder(ctx, symbol, orderID)
	})

	var status *exchange.OrderStatus
	err := retryCall(ctx, e.policy, func() error {
		var qErr error
		status, qErr = e.gateway.GetOrderStatus(ctx, symbol, orderID)
		return qErr
	})
	if err != nil {
		if cancelErr != nil {
			return nil, cancelErr
		}
		return nil, err
	}

	if status.FilledQty > 0 {
		if e.log != nil && status.State != exchange.OrderStateFilled {
			e.log.Warning("order %s partially filled %.8f before cancel", orderID, status.FilledQty)
		}
		return status, nil
	}
	return nil, exchange.NewTransientError(e.gateway.Name(), 0,
		fmt.Sprintf("order %s not filled within %s, cancelled", orderID, e.fillTimeout))
}

func sideToOrderSide(s signal.Side) exchange.OrderSide {
	if s == signal.SideLong {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

func exitReason(pos *ledger.Position, avgPrice float64) string {
	if pos.StopPrice > 0 && math.Abs(avgPrice-pos.StopPrice) <= math.Abs(avgPrice-pos.TakeProfitPrice) {
		return "stop"
	}
	return "target"
}
