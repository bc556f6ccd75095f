package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/errors"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
	"github.com/ducminhle1904/futures-exec-agent/internal/monitoring"
	"github.com/ducminhle1904/futures-exec-agent/internal/risk"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

const ledgerSnapshotName = "ledger"

// Persister is the durable snapshot sink for ledger state
type Persister interface {
	Save(name string, v interface{}) error
}

// Deps collects everything the coordinator needs
type Deps struct {
	Config   *config.Config
	Log      *logger.Logger
	Ledger   *ledger.Ledger
	Switch   *killswitch.Switch
	Limiter  *risk.Limiter
	Effecter OrderEffecter
	Store    Persister
	Health   *monitoring.HealthChecker
	Intents  <-chan signal.TradeIntent

	// OnFill observes every fill applied to the ledger (session journaling).
	// Must not block.
	OnFill func(ledger.Fill)
}

// Coordinator serializes all trading decisions for one account. A single
// goroutine owns the ledger and the kill switch transitions; every mutation
// flows through its run loop, so the risk checks and the ledger write for an
// admitted order always happen in one critical section. The ledger itself
// carries no lock.
type Coordinator struct {
	cfg      *config.Config
	log      *logger.Logger
	led      *ledger.Ledger
	ks       *killswitch.Switch
	limiter  *risk.Limiter
	effecter OrderEffecter
	store    Persister
	health   *monitoring.HealthChecker
	onFill   func(ledger.Fill)

	intents   <-chan signal.TradeIntent
	commands  chan command
	ticks     chan exchange.Ticker
	errWindow *killswitch.ErrorWindow

	limits          map[string]exchange.InstrumentLimits
	prices          map[string]float64
	lastReconEquity float64
}

type command struct {
	kind   commandKind
	reason string
	by     string
	resp   chan error
	snap   chan Status
}

type commandKind int

const (
	cmdHalt commandKind = iota
	cmdResume
	cmdCloseAll
	cmdStatus
)

// Status is a point-in-time operator view, copied inside the run loop so the
// unsynchronized ledger is never read from another goroutine.
type Status struct {
	Switch    killswitch.Record      `json:"kill_switch"`
	Mode      string                 `json:"mode"`
	Account   ledger.AccountSnapshot `json:"account"`
	Positions []ledger.Position      `json:"open_positions"`
}

// NewCoordinator creates a coordinator. Run must be called to start it.
func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		cfg:      d.Config,
		log:      d.Log,
		led:      d.Ledger,
		ks:       d.Switch,
		limiter:  d.Limiter,
		effecter: d.Effecter,
		store:    d.Store,
		health:   d.Health,
		onFill:   d.OnFill,
		intents:  d.Intents,
		commands: make(chan command, 16),
		ticks:    make(chan exchange.Ticker, 256),
		errWindow: killswitch.NewErrorWindow(
			d.Config.Execution.ExchangeErrorWindow(),
			d.Config.Execution.ExchangeErrorThreshold,
		),
		limits: make(map[string]exchange.InstrumentLimits),
		prices: make(map[string]float64),
	}
}

// Ticks returns the channel reference prices are fed into
func (c *Coordinator) Ticks() chan<- exchange.Ticker {
	return c.ticks
}

// Halt requests a manual halt. Queued intents are discarded.
func (c *Coordinator) Halt(ctx context.Context, reason, by string) error {
	return c.send(ctx, command{kind: cmdHalt, reason: reason, by: by})
}

// Resume requests an operator resume: reconcile, then re-arm if clean
func (c *Coordinator) Resume(ctx context.Context, by string) error {
	return c.send(ctx, command{kind: cmdResume, by: by})
}

// CloseAll closes every open position with reduce-only orders
func (c *Coordinator) CloseAll(ctx context.Context, reason string) error {
	return c.send(ctx, command{kind: cmdCloseAll, reason: reason})
}

// Status returns a copy of the account view. Blocks until the run loop
// services the request.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	cmd := command{kind: cmdStatus, resp: make(chan error, 1), snap: make(chan Status, 1)}
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-cmd.snap:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (c *Coordinator) send(ctx context.Context, cmd command) error {
	cmd.resp = make(chan error, 1)
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the coordination loop until ctx is cancelled or a fatal
// persistence failure occurs. It reconciles once before consuming intents.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Status("coordinator starting in %s mode, kill switch %s", c.effecter.Mode(), c.ks.State())

	if err := c.reconcilePass(ctx); err != nil {
		return err
	}

	reconTicker := time.NewTicker(c.cfg.Execution.ReconciliationInterval())
	defer reconTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Status("coordinator stopping")
			return nil

		case cmd := <-c.commands:
			err := c.handleCommand(ctx, cmd)
			cmd.resp <- err
			if errors.Category(err) == errors.ErrorCategoryPersistence {
				return err
			}

		case tick := <-c.ticks:
			c.handleTick(tick)

		case intent, ok := <-c.intents:
			if !ok {
				c.log.Status("intent source closed, coordinator stopping")
				return nil
			}
			if err := c.handleIntent(ctx, intent); err != nil {
				return err
			}

		case <-reconTicker.C:
			if err := c.reconcilePass(ctx); err != nil {
				return err
			}
		}
	}
}

// handleIntent runs the full admission pipeline. Only persistence failures
// propagate; every other failure is scoped to the intent.
func (c *Coordinator) handleIntent(ctx context.Context, intent signal.TradeIntent) error {
	now := time.Now()

	if err := intent.Validate(); err != nil {
		c.log.LogRejection(intent.Symbol, "validation", err.Message)
		monitoring.RecordRejection("validation")
		return nil
	}
	monitoring.RecordIntent(intent.Symbol, string(intent.Side))

	if st := c.ks.State(); st != killswitch.StateActive {
		c.log.LogRejection(intent.Symbol, string(risk.CheckKillSwitch), fmt.Sprintf("state %s", st))
		monitoring.RecordRejection(string(risk.CheckKillSwitch))
		return nil
	}

	if c.led.Rollover(now) {
		if err := c.persistLedger(); err != nil {
			return err
		}
	}

	limits, err := c.instrumentLimits(ctx, intent.Symbol)
	if err != nil {
		c.log.LogError("instrument limits", err)
		c.noteExchangeError(err, now)
		return nil
	}

	refPrice := c.prices[intent.Symbol]
	if refPrice <= 0 {
		c.log.LogRejection(intent.Symbol, "no_reference_price", "no ticker received yet")
		monitoring.RecordRejection("no_reference_price")
		return nil
	}

	order, sizeRej := sizing.Size(sizing.Inputs{
		Intent:          intent,
		Equity:          c.led.Account.Equity,
		AvailableMargin: c.led.AvailableMargin(),
		RefPrice:        refPrice,
		Budget:          c.cfg.Risk,
		Limits:          *limits,
		TakeProfitMult:  c.cfg.Execution.TakeProfitVolatility,
	})
	if sizeRej != nil {
		c.log.LogRejection(intent.Symbol, string(sizeRej.Reason), sizeRej.Detail)
		monitoring.RecordRejection(string(sizeRej.Reason))
		return nil
	}

	if riskRej := c.limiter.Evaluate(order, c.led, c.ks.State()); riskRej != nil {
		c.log.LogRejection(intent.Symbol, string(riskRej.Check), riskRej.Detail)
		monitoring.RecordRejection(string(riskRej.Check))
		return nil
	}

	fill, err := c.effecter.Execute(ctx, order)
	if err != nil {
		if exchange.IsFatal(err) {
			c.log.LogError(fmt.Sprintf("order for %s rejected by exchange", intent.Symbol), err)
			monitoring.RecordExchangeError("fatal")
			return nil
		}
		c.log.LogError(fmt.Sprintf("order for %s failed", intent.Symbol), err)
		c.noteExchangeError(err, now)
		return nil
	}
	c.errWindow.Reset()

	return c.applyFill(fill)
}

// applyFill admits a fill into the ledger, persists, and reports. Replayed
// fill IDs are ignored.
func (c *Coordinator) applyFill(fill *ledger.Fill) error {
	applied, err := c.led.ApplyFill(*fill)
	if err != nil {
		c.log.LogError("apply fill", err)
		return nil
	}
	if !applied {
		return nil
	}
	if err := c.persistLedger(); err != nil {
		return err
	}

	c.log.LogFill(string(fill.Kind), fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.OrderID)
	monitoring.RecordFill(fill.Symbol, string(fill.Side), string(fill.Kind), fill.Quantity*fill.Price)
	monitoring.UpdateAccount(c.led.Account.Equity, c.led.OpenCount())
	if c.health != nil {
		c.health.RecordFill(fill.Time)
	}
	if c.onFill != nil {
		c.onFill(*fill)
	}
	return nil
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdHalt:
		return c.handleHalt(cmd)
	case cmdResume:
		return c.handleResume(ctx, cmd)
	case cmdCloseAll:
		return c.handleCloseAll(ctx, cmd.reason)
	case cmdStatus:
		positions := make([]ledger.Position, 0, c.led.OpenCount())
		for _, pos := range c.led.PositionList() {
			positions = append(positions, *pos)
		}
		cmd.snap <- Status{
			Switch:    c.ks.Current(),
			Mode:      c.effecter.Mode(),
			Account:   c.led.Account,
			Positions: positions,
		}
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (c *Coordinator) handleHalt(cmd command) error {
	reason := cmd.reason
	if reason == "" {
		reason = killswitch.ReasonOperatorHalt
	}
	if err := c.ks.Transition(killswitch.StateHaltedManual, reason, cmd.by, time.Now()); err != nil {
		return err
	}

	// Discard anything already queued; a manual halt must not leave intents
	// waiting to execute on resume.
	discarded := 0
	for {
		select {
		case intent, ok := <-c.intents:
			if !ok {
				c.log.Info("discarded %d queued intents on manual halt", discarded)
				return nil
			}
			discarded++
			c.log.LogRejection(intent.Symbol, string(risk.CheckKillSwitch), "discarded on manual halt")
			monitoring.RecordRejection(string(risk.CheckKillSwitch))
		default:
			if discarded > 0 {
				c.log.Info("discarded %d queued intents on manual halt", discarded)
			}
			return nil
		}
	}
}

// handleResume moves a halted switch through RECONCILING and back to ACTIVE
// when the reconciliation pass is clean
func (c *Coordinator) handleResume(ctx context.Context, cmd command) error {
	st := c.ks.State()
	if st != killswitch.StateHaltedAuto && st != killswitch.StateHaltedManual {
		return fmt.Errorf("resume rejected: kill switch is %s", st)
	}
	if err := c.ks.Transition(killswitch.StateReconciling, killswitch.ReasonOperatorResume, cmd.by, time.Now()); err != nil {
		return err
	}

	if err := c.reconcilePass(ctx); err != nil {
		return err
	}
	if c.ks.State() == killswitch.StateReconciling {
		return fmt.Errorf("resume pending: reconciliation could not complete, still RECONCILING")
	}
	if st := c.ks.State(); st != killswitch.StateActive {
		return fmt.Errorf("resume failed: reconciliation left kill switch %s", st)
	}
	return nil
}

// handleCloseAll flattens the account with reduce-only closes
func (c *Coordinator) handleCloseAll(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	var firstErr error
	for _, pos := range c.led.PositionList() {
		fill, err := c.effecter.ClosePosition(ctx, pos, reason)
		if err != nil {
			c.log.LogError(fmt.Sprintf("close %s", pos.Symbol), err)
			c.noteExchangeError(err, time.Now())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.applyFill(fill); err != nil {
			return err
		}
	}
	return firstErr
}

func (c *Coordinator) handleTick(tick exchange.Ticker) {
	price := tick.MarkPrice
	if price <= 0 {
		price = tick.LastPrice
	}
	if price <= 0 {
		return
	}
	c.prices[tick.Symbol] = price
	c.effecter.UpdatePrice(tick.Symbol, price)
	c.led.UpdateMark(tick.Symbol, price)
}

func (c *Coordinator) instrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	if limits, ok := c.limits[symbol]; ok {
		return &limits, nil
	}
	limits, err := c.effecter.InstrumentLimits(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.limits[symbol] = *limits
	return limits, nil
}

// noteExchangeError feeds the rolling error window and trips the kill
// switch at the threshold
func (c *Coordinator) noteExchangeError(err error, now time.Time) {
	kind := "transient"
	if exchange.IsFatal(err) {
		kind = "fatal"
	}
	monitoring.RecordExchangeError(kind)
	if kind != "transient" {
		return
	}
	if c.errWindow.Record(now) {
		if hErr := c.ks.HaltAuto(killswitch.ReasonExchangeErrorThreshold, "coordinator", now); hErr != nil {
			c.log.LogError("halt on exchange error threshold", hErr)
		}
	}
}

func (c *Coordinator) persistLedger() error {
	if err := c.store.Save(ledgerSnapshotName, c.led); err != nil {
		c.log.LogError("persist ledger", err)
		return err
	}
	return nil
}
