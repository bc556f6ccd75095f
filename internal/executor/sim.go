package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

// SimEffecter is the dry-run implementation. It keeps a paper account that
// fills entries instantly at the reference price and triggers paper stops
// and take-profits from the price feed, so reconciliation exercises the
// exact same code path as live trading.
type SimEffecter struct {
	mu        sync.Mutex
	balance   float64 // realized wallet balance
	positions map[string]*ledger.Position
	exits     map[string]*ledger.Fill // symbol -> unresolved paper exit
	prices    map[string]float64
	limits    map[string]exchange.InstrumentLimits
	seq       int
	now       func() time.Time
}

// NewSimEffecter creates a paper account with a starting balance
func NewSimEffecter(startingBalance float64) *SimEffecter {
	return &SimEffecter{
		balance:   startingBalance,
		positions: make(map[string]*ledger.Position),
		exits:     make(map[string]*ledger.Fill),
		prices:    make(map[string]float64),
		limits:    make(map[string]exchange.InstrumentLimits),
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests
func (e *SimEffecter) SetClock(now func() time.Time) {
	e.now = now
}

// SetInstrumentLimits seeds the limits returned for a symbol
func (e *SimEffecter) SetInstrumentLimits(symbol string, limits exchange.InstrumentLimits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits[symbol] = limits
}

func (e *SimEffecter) Mode() string { return "dry-run" }

// Execute fills the entry instantly at the latest reference price
func (e *SimEffecter) Execute(ctx context.Context, order *sizing.SizedOrder) (*ledger.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := e.prices[order.Symbol]
	if price == 0 {
		price = order.EntryPrice
	}

	e.seq++
	orderID := fmt.Sprintf("SIM-%06d", e.seq)
	now := e.now()

	e.positions[order.Symbol] = &ledger.Position{
		Symbol:           order.Symbol,
		Side:             order.Side,
		EntryPrice:       price,
		Quantity:         order.Quantity,
		Leverage:         order.Leverage,
		MarginMode:       ledger.MarginModeIsolated,
		Margin:           order.Margin,
		StopPrice:        order.StopPrice,
		TakeProfitPrice:  order.TakeProfitPrice,
		LiquidationPrice: order.LiquidationPrice,
		OpenedAt:         now,
		EntryOrderID:     orderID,
		MarkPrice:        price,
	}

	return &ledger.Fill{
		ID:               orderID,
		OrderID:          orderID,
		Symbol:           order.Symbol,
		Side:             order.Side,
		Kind:             ledger.FillKindEntry,
		Quantity:         order.Quantity,
		Price:            price,
		Leverage:         order.Leverage,
		Margin:           order.Margin,
		StopPrice:        order.StopPrice,
		TakeProfitPrice:  order.TakeProfitPrice,
		LiquidationPrice: order.LiquidationPrice,
		Time:             now,
	}, nil
}

// ClosePosition closes a paper position at the latest reference price
func (e *SimEffecter) ClosePosition(ctx context.Context, pos *ledger.Position, reason string) (*ledger.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paper, ok := e.positions[pos.Symbol]
	if !ok {
		return nil, exchange.NewFatalError("sim", 0, fmt.Sprintf("no paper position for %s", pos.Symbol))
	}
	price := e.prices[pos.Symbol]
	if price == 0 {
		price = paper.MarkPrice
	}
	return e.closeLocked(paper, price, reason), nil
}

func (e *SimEffecter) OpenPositions(ctx context.Context) ([]exchange.PositionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]exchange.PositionInfo, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, exchange.PositionInfo{
			Symbol:           p.Symbol,
			Side:             string(p.Side),
			Quantity:         p.Quantity,
			EntryPrice:       p.EntryPrice,
			MarkPrice:        p.MarkPrice,
			Leverage:         p.Leverage,
			LiquidationPrice: p.LiquidationPrice,
			UnrealizedPnL:    unrealized(p),
			UpdatedTime:      e.now(),
		})
	}
	return out, nil
}

func (e *SimEffecter) AccountBalance(ctx context.Context) (*exchange.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.balance
	used := 0.0
	for _, p := range e.positions {
		equity += unrealized(p)
		used += p.Margin
	}
	return &exchange.AccountBalance{
		Equity:          equity,
		AvailableMargin: equity - used,
		UsedMargin:      used,
		UpdatedTime:     e.now(),
	}, nil
}

func (e *SimEffecter) InstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limits, ok := e.limits[symbol]; ok {
		return &limits, nil
	}
	return &exchange.InstrumentLimits{
		Symbol:      symbol,
		MinQty:      0.001,
		MaxQty:      1000000,
		QtyStep:     0.001,
		MinNotional: 5,
		MaxLeverage: 100,
	}, nil
}

// ResolveExit hands over the paper exit that closed the position, if any
func (e *SimEffecter) ResolveExit(ctx context.Context, pos *ledger.Position) (*ledger.Fill, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fill, ok := e.exits[pos.Symbol]
	if !ok {
		return nil, false, nil
	}
	delete(e.exits, pos.Symbol)
	return fill, true, nil
}

// UpdatePrice feeds a reference price and triggers paper stops and targets
func (e *SimEffecter) UpdatePrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices[symbol] = price
	p, ok := e.positions[symbol]
	if !ok {
		return
	}
	p.MarkPrice = price

	switch p.Side {
	case signal.SideLong:
		if p.StopPrice > 0 && price <= p.StopPrice {
			e.exits[symbol] = e.closeLocked(p, p.StopPrice, "stop")
		} else if p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice {
			e.exits[symbol] = e.closeLocked(p, p.TakeProfitPrice, "target")
		}
	case signal.SideShort:
		if p.StopPrice > 0 && price >= p.StopPrice {
			e.exits[symbol] = e.closeLocked(p, p.StopPrice, "stop")
		} else if p.TakeProfitPrice > 0 && price <= p.TakeProfitPrice {
			e.exits[symbol] = e.closeLocked(p, p.TakeProfitPrice, "target")
		}
	}
}

func (e *SimEffecter) Close() error { return nil }

// closeLocked realizes the PnL and removes the paper position. Caller holds
// the lock.
func (e *SimEffecter) closeLocked(p *ledger.Position, price float64, reason string) *ledger.Fill {
	pnl := (price - p.EntryPrice) * p.Quantity
	if p.Side == signal.SideShort {
		pnl = -pnl
	}
	e.balance += pnl
	delete(e.positions, p.Symbol)

	e.seq++
	orderID := fmt.Sprintf("SIM-%06d", e.seq)
	return &ledger.Fill{
		ID:       orderID,
		OrderID:  orderID,
		Symbol:   p.Symbol,
		Side:     p.Side,
		Kind:     ledger.FillKindClose,
		Quantity: p.Quantity,
		Price:    price,
		Reason:   reason,
		Time:     e.now(),
	}
}

func unrealized(p *ledger.Position) float64 {
	if p.MarkPrice == 0 {
		return 0
	}
	pnl := (p.MarkPrice - p.EntryPrice) * p.Quantity
	if p.Side == signal.SideShort {
		pnl = -pnl
	}
	return pnl
}
