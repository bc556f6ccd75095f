package executor

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
	"github.com/ducminhle1904/futures-exec-agent/internal/risk"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
	"github.com/ducminhle1904/futures-exec-agent/internal/sizing"
)

// memPersister satisfies the snapshot interfaces without touching disk
type memPersister struct {
	saves map[string]int
	fail  bool
}

func newMemPersister() *memPersister {
	return &memPersister{saves: make(map[string]int)}
}

func (m *memPersister) Save(name string, v interface{}) error {
	if m.fail {
		return fmt.Errorf("save %s failed", name)
	}
	m.saves[name]++
	return nil
}

// failingEffecter wraps the paper effecter and fails order placement
type failingEffecter struct {
	*SimEffecter
	execErr error
}

func (f *failingEffecter) Execute(ctx context.Context, order *sizing.SizedOrder) (*ledger.Fill, error) {
	return nil, f.execErr
}

type fixture struct {
	coord *Coordinator
	led   *ledger.Ledger
	ks    *killswitch.Switch
	sim   *SimEffecter
	store *memPersister
	cfg   *config.Config
	fills []ledger.Fill
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{
		Symbols:   []string{"BTCUSDT"},
		Execution: config.ExecutionConfig{DryRun: true},
	}
	cfg.SetDefaults()
	if mutate != nil {
		mutate(cfg)
	}

	store := newMemPersister()
	led := ledger.New(10000, time.Now())
	ks := killswitch.New(killswitch.Record{State: killswitch.StateActive}, store, nil)
	sim := NewSimEffecter(10000)

	f := &fixture{led: led, ks: ks, sim: sim, store: store, cfg: cfg}
	f.coord = NewCoordinator(Deps{
		Config:   cfg,
		Log:      logger.NewWriterLogger("test", io.Discard),
		Ledger:   led,
		Switch:   ks,
		Limiter:  risk.NewLimiter(cfg.Risk),
		Effecter: sim,
		Store:    store,
		Intents:  make(chan signal.TradeIntent),
		OnFill:   func(fill ledger.Fill) { f.fills = append(f.fills, fill) },
	})
	return f
}

func (f *fixture) useEffecter(e OrderEffecter) {
	f.coord.effecter = e
}

func (f *fixture) feedPrice(symbol string, price float64) {
	f.coord.handleTick(exchange.Ticker{Symbol: symbol, LastPrice: price})
}

func testIntent(id string) signal.TradeIntent {
	return signal.TradeIntent{
		ID:           id,
		Symbol:       "BTCUSDT",
		Side:         signal.SideLong,
		StopDistance: 500,
		Volatility:   500,
		SignalTime:   time.Now(),
	}
}

// TestHandleIntent_DryRunFillReachesLedger verifies the full admission
// pipeline opens a paper position and journals the fill
func TestHandleIntent_DryRunFillReachesLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))

	require.True(t, f.led.HasPosition("BTCUSDT"))
	pos := f.led.Positions["BTCUSDT"]
	assert.InDelta(t, 0.03, pos.Quantity, 1e-9) // 10000 x 0.0015 / 500
	assert.Equal(t, 49500.0, pos.StopPrice)
	assert.Equal(t, ledger.MarginModeIsolated, pos.MarginMode)
	assert.Equal(t, 1, f.store.saves["ledger"])
	require.Len(t, f.fills, 1)
	assert.Equal(t, ledger.FillKindEntry, f.fills[0].Kind)
	assert.NoError(t, f.led.CheckInvariants(f.cfg.Risk.MaxConcurrent, f.cfg.Risk.LeverageCap))
}

// TestHandleIntent_RejectedWithoutReferencePrice verifies no order goes out
// before a ticker arrived
func TestHandleIntent_RejectedWithoutReferencePrice(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))
	assert.Equal(t, 0, f.led.OpenCount())
}

// TestHandleIntent_HaltedStateRejects verifies a halted switch blocks intents
func TestHandleIntent_HaltedStateRejects(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)
	require.NoError(t, f.ks.Transition(killswitch.StateHaltedManual, killswitch.ReasonOperatorHalt, "operator", time.Now()))

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))
	assert.Equal(t, 0, f.led.OpenCount())
}

// TestHandleIntent_InvalidIntentIsContained verifies validation failures
// affect only the one intent
func TestHandleIntent_InvalidIntentIsContained(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)

	bad := testIntent("i1")
	bad.StopDistance = -1
	require.NoError(t, f.coord.handleIntent(context.Background(), bad))
	assert.Equal(t, 0, f.led.OpenCount())
	assert.Equal(t, killswitch.StateActive, f.ks.State())

	// the next intent still executes
	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i2")))
	assert.Equal(t, 1, f.led.OpenCount())
}

// TestHandleIntent_FatalExchangeErrorDiscards verifies a rejected order never
// halts and never reaches the ledger
func TestHandleIntent_FatalExchangeErrorDiscards(t *testing.T) {
	f := newFixture(t, nil)
	f.useEffecter(&failingEffecter{
		SimEffecter: f.sim,
		execErr:     exchange.NewFatalError("bybit", 110007, "insufficient available balance"),
	})
	f.feedPrice("BTCUSDT", 50000)

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))
	assert.Equal(t, 0, f.led.OpenCount())
	assert.Equal(t, killswitch.StateActive, f.ks.State())
}

// TestHandleIntent_TransientErrorsTripThreshold verifies repeated transient
// failures inside the window halt the switch
func TestHandleIntent_TransientErrorsTripThreshold(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Execution.ExchangeErrorThreshold = 2
	})
	f.useEffecter(&failingEffecter{
		SimEffecter: f.sim,
		execErr:     exchange.NewTransientError("bybit", 10006, "rate limited"),
	})
	f.feedPrice("BTCUSDT", 50000)

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))
	assert.Equal(t, killswitch.StateActive, f.ks.State())

	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i2")))
	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
	assert.Equal(t, killswitch.ReasonExchangeErrorThreshold, f.ks.Current().Reason)
}

// TestReconcile_CleanPassStaysActive verifies a matching ledger and exchange
// view leave the switch alone
func TestReconcile_CleanPassStaysActive(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)
	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))

	require.NoError(t, f.coord.reconcilePass(context.Background()))
	assert.Equal(t, killswitch.StateActive, f.ks.State())
	assert.Equal(t, 1, f.led.OpenCount())
}

// TestReconcile_MissingPositionHalts verifies an unexplained disappearance
// halts with a reconciliation mismatch
func TestReconcile_MissingPositionHalts(t *testing.T) {
	f := newFixture(t, nil)

	// ledger believes in a position the paper exchange never saw
	_, err := f.led.ApplyFill(ledger.Fill{
		ID: "ghost", OrderID: "ghost", Symbol: "BTCUSDT", Side: signal.SideLong,
		Kind: ledger.FillKindEntry, Quantity: 0.03, Price: 50000, Margin: 1500,
		StopPrice: 49500, Time: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, f.coord.reconcilePass(context.Background()))
	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
	assert.Equal(t, killswitch.ReasonReconciliationMismatch, f.ks.Current().Reason)
}

// TestReconcile_UnexpectedExchangePositionHalts verifies a position the
// ledger does not know about halts
func TestReconcile_UnexpectedExchangePositionHalts(t *testing.T) {
	f := newFixture(t, nil)

	// open a paper position behind the ledger's back
	order := &sizing.SizedOrder{
		Symbol: "ETHUSDT", Side: signal.SideLong, Quantity: 1,
		EntryPrice: 3000, StopPrice: 2900, Margin: 300, Leverage: 1,
	}
	_, err := f.sim.Execute(context.Background(), order)
	require.NoError(t, err)

	require.NoError(t, f.coord.reconcilePass(context.Background()))
	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
	assert.Equal(t, killswitch.ReasonReconciliationMismatch, f.ks.Current().Reason)
}

// TestReconcile_PaperStopResolvedAsClose verifies a stop executed by the
// paper exchange becomes a close fill, not a mismatch
func TestReconcile_PaperStopResolvedAsClose(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)
	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))

	// price trades through the stop at 49500
	f.feedPrice("BTCUSDT", 49400)

	require.NoError(t, f.coord.reconcilePass(context.Background()))
	assert.Equal(t, killswitch.StateActive, f.ks.State())
	assert.Equal(t, 0, f.led.OpenCount())

	require.Len(t, f.fills, 2)
	exit := f.fills[1]
	assert.Equal(t, ledger.FillKindClose, exit.Kind)
	assert.Equal(t, "stop", exit.Reason)
	assert.Equal(t, 49500.0, exit.Price)
	// (49500 - 50000) x 0.03 = -15 realized
	assert.InDelta(t, 9985, f.led.Account.Equity, 1e-6)
}

// TestReconcile_DrawdownBreachHalts verifies the daily limit halts after an
// authoritative equity update
func TestReconcile_DrawdownBreachHalts(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)
	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))

	// tighten the limit after entry so the realized stop loss breaches it
	f.cfg.Risk.DailyDrawdownLimit = 0.001
	f.cfg.Risk.WeeklyDrawdownLimit = 0.001

	// stop out: realized loss of 15 is 0.15% of equity
	f.feedPrice("BTCUSDT", 49400)
	require.NoError(t, f.coord.reconcilePass(context.Background()))

	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
	assert.Equal(t, killswitch.ReasonDailyDrawdown, f.ks.Current().Reason)
}

// TestReconcile_EquityAnomalyHalts verifies a sudden equity jump between
// passes halts before sizing can see it
func TestReconcile_EquityAnomalyHalts(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.coord.reconcilePass(context.Background()))
	assert.Equal(t, killswitch.StateActive, f.ks.State())

	f.sim.balance = 13000 // +30% between passes
	require.NoError(t, f.coord.reconcilePass(context.Background()))

	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
	assert.Equal(t, killswitch.ReasonEquityAnomaly, f.ks.Current().Reason)
}

// TestResume_CleanReconciliationRearms verifies halt -> resume -> ACTIVE
func TestResume_CleanReconciliationRearms(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.coord.handleHalt(command{kind: cmdHalt, by: "operator"}))
	assert.Equal(t, killswitch.StateHaltedManual, f.ks.State())

	require.NoError(t, f.coord.handleResume(context.Background(), command{kind: cmdResume, by: "operator"}))
	assert.Equal(t, killswitch.StateActive, f.ks.State())
}

// TestResume_MismatchReHalts verifies resume fails when reconciliation still
// finds a mismatch
func TestResume_MismatchReHalts(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.led.ApplyFill(ledger.Fill{
		ID: "ghost", OrderID: "ghost", Symbol: "BTCUSDT", Side: signal.SideLong,
		Kind: ledger.FillKindEntry, Quantity: 0.03, Price: 50000, Margin: 1500,
		StopPrice: 49500, Time: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, f.coord.handleHalt(command{kind: cmdHalt, by: "operator"}))

	err = f.coord.handleResume(context.Background(), command{kind: cmdResume, by: "operator"})
	assert.Error(t, err)
	assert.Equal(t, killswitch.StateHaltedAuto, f.ks.State())
}

// TestResume_RequiresHaltedState verifies resume is refused while ACTIVE
func TestResume_RequiresHaltedState(t *testing.T) {
	f := newFixture(t, nil)

	err := f.coord.handleResume(context.Background(), command{kind: cmdResume, by: "operator"})
	assert.Error(t, err)
	assert.Equal(t, killswitch.StateActive, f.ks.State())
}

// TestCloseAll_FlattensLedgerAndExchange verifies the close-all command
func TestCloseAll_FlattensLedgerAndExchange(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)
	require.NoError(t, f.coord.handleIntent(context.Background(), testIntent("i1")))
	require.Equal(t, 1, f.led.OpenCount())

	require.NoError(t, f.coord.handleCloseAll(context.Background(), "manual"))
	assert.Equal(t, 0, f.led.OpenCount())

	positions, err := f.sim.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

// TestRun_StopsWhenIntentSourceCloses verifies the loop exits cleanly
func TestRun_StopsWhenIntentSourceCloses(t *testing.T) {
	f := newFixture(t, nil)
	intents := make(chan signal.TradeIntent)
	f.coord.intents = intents

	done := make(chan error, 1)
	go func() { done <- f.coord.Run(context.Background()) }()

	close(intents)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after intent source closed")
	}
}

// TestRun_PersistenceFailureIsFatal verifies a failed ledger save terminates
// the run loop
func TestRun_PersistenceFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.feedPrice("BTCUSDT", 50000)

	f.store.fail = true
	// entry executes, the snapshot write fails, the pipeline must surface it
	err := f.coord.handleIntent(context.Background(), testIntent("i1"))
	assert.Error(t, err)
}
