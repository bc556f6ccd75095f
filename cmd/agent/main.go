package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/cmd/common"
	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange/bybit"
	"github.com/ducminhle1904/futures-exec-agent/internal/executor"
	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
	"github.com/ducminhle1904/futures-exec-agent/internal/logger"
	"github.com/ducminhle1904/futures-exec-agent/internal/monitoring"
	"github.com/ducminhle1904/futures-exec-agent/internal/notifications"
	"github.com/ducminhle1904/futures-exec-agent/internal/risk"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
	"github.com/ducminhle1904/futures-exec-agent/internal/state"
	"github.com/ducminhle1904/futures-exec-agent/pkg/reporting"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file (e.g., agent.json)")
		envFile     = flag.String("env", ".env", "Environment file path")
		dryRun      = flag.Bool("dry-run", false, "Force dry-run mode regardless of config")
		journalPath = flag.String("journal", "", "Write session journal to this .xlsx path on exit")
		stdinSignal = flag.Bool("stdin-signals", true, "Read JSONL trade intents from stdin")
		silent      = flag.Bool("silent", false, "Minimal console output")
		version     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("futures-exec-agent")
		return
	}
	common.SetSilentMode(*silent)

	if *configFile == "" {
		common.Error("Please specify a config file with -config flag")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		common.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Execution.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		common.Error("Invalid config: %v", err)
		os.Exit(1)
	}

	mode := "live"
	if cfg.Execution.DryRun {
		mode = "dry-run"
	}

	common.Header("Futures Execution Agent")
	common.Info("Symbols: %v", cfg.Symbols)
	common.Info("Mode: %s", mode)
	common.Info("Risk per trade: %.4f%%  leverage cap: %.0fx  max positions: %d",
		cfg.Risk.RiskPerTrade*100, cfg.Risk.LeverageCap, cfg.Risk.MaxConcurrent)
	if !cfg.Execution.DryRun {
		common.Warn("LIVE TRADING MODE - real orders will be placed")
	}

	if err := run(cfg, mode, *journalPath, *stdinSignal); err != nil {
		common.Error("Agent terminated: %v", err)
		os.Exit(1)
	}
	common.Success("Agent stopped cleanly")
}

func run(cfg *config.Config, mode, journalPath string, stdinSignals bool) error {
	log, err := logger.NewLogger("agent")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	// Notifications
	var notifier notifications.Notifier = notifications.NopNotifier{}
	if nc := cfg.Notifications; nc != nil && nc.Enabled && nc.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(nc.TelegramToken, nc.TelegramChat)
	}
	dispatcher := notifications.NewDispatcher(notifier, log, 64)
	defer dispatcher.Close()

	health := monitoring.NewHealthChecker()
	journal := reporting.NewJournal()
	sessionStart := time.Now()

	// Kill switch: one notification per transition, plus logging, metrics,
	// health and the session journal
	onChange := func(t killswitch.Transition) {
		log.LogHaltTransition(string(t.From), string(t.To), t.Reason)
		monitoring.UpdateHaltState(string(t.To))
		health.SetHaltState(string(t.To))
		journal.RecordTransition(t)
		level := "success"
		switch {
		case t.To == killswitch.StateReconciling:
			level = "warning"
		case t.To.IsHalted():
			level = "halt"
			monitoring.RecordHalt(t.Reason)
		}
		dispatcher.Dispatch(level, fmt.Sprintf("Kill switch %s -> %s\nReason: %s\nBy: %s",
			t.From, t.To, t.Reason, t.TriggeredBy))
	}

	ks, err := killswitch.Load(store, onChange, time.Now())
	if err != nil {
		return fmt.Errorf("load kill switch state: %w", err)
	}
	monitoring.UpdateHaltState(string(ks.State()))
	health.SetHaltState(string(ks.State()))
	if ks.State().IsHalted() {
		common.Warn("Kill switch restored as %s (%s); trading stays halted until operator resume",
			ks.State(), ks.Current().Reason)
	}

	// Ledger: restore the last snapshot or start fresh. Equity is corrected
	// by the first reconciliation pass either way.
	led := ledger.New(0, time.Now())
	if found, err := store.Load("ledger", led); err != nil {
		return fmt.Errorf("load ledger snapshot: %w", err)
	} else if found {
		log.Info("restored ledger snapshot: equity %.2f, %d open positions",
			led.Account.Equity, led.OpenCount())
	}

	// Order effecter: live gateway or paper account
	var effecter executor.OrderEffecter
	var gateway exchange.Gateway
	if cfg.Execution.DryRun {
		sim := executor.NewSimEffecter(cfg.Execution.PaperBalance)
		if led.Account.Equity > 0 {
			sim = executor.NewSimEffecter(led.Account.Equity)
		}
		effecter = sim
	} else {
		gateway = bybit.NewGateway(bybit.Config{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Testnet:   cfg.Exchange.Testnet,
			Demo:      cfg.Exchange.Demo,
			Category:  cfg.Exchange.Category,
		})
		effecter = executor.NewLiveEffecter(
			gateway,
			executor.PolicyFromConfig(cfg.Execution),
			cfg.Execution.FillTimeout(),
			log,
		)
	}
	defer effecter.Close()

	// Intent source
	stream := signal.NewStream(64)

	coord := executor.NewCoordinator(executor.Deps{
		Config:   cfg,
		Log:      log,
		Ledger:   led,
		Switch:   ks,
		Limiter:  risk.NewLimiter(cfg.Risk),
		Effecter: effecter,
		Store:    store,
		Health:   health,
		Intents:  stream.Intents(),
		OnFill:   journal.RecordFill,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Reference price feeds. In dry-run without a gateway there is no market
	// data source; prices arrive via the admin intent endpoint's ticker or
	// test feeds.
	if gateway != nil {
		for _, symbol := range cfg.Symbols {
			ticks, err := gateway.SubscribeTicker(ctx, symbol)
			if err != nil {
				return fmt.Errorf("subscribe ticker %s: %w", symbol, err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for tick := range ticks {
					select {
					case coord.Ticks() <- tick:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	// Stdin JSONL intents
	if stdinSignals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.ReadJSONL(ctx, os.Stdin, func(err error) {
				log.LogError("stdin intent", err)
			})
		}()
	}

	// Admin and monitoring HTTP endpoints
	admin := newAdminServer(cfg.Monitoring.ListenAddr, coord, health, stream)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := admin.serve(ctx); err != nil {
			log.LogError("admin server", err)
		}
	}()

	dispatcher.Dispatch("success", fmt.Sprintf("Execution agent started in %s mode (%d symbols)",
		mode, len(cfg.Symbols)))

	// Run the coordinator until shutdown
	runErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr <- coord.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case sig := <-sigCh:
		common.Info("Received %s, shutting down", sig)
		cancel()
		exitErr = <-runErr
	case exitErr = <-runErr:
		cancel()
	}

	wg.Wait()

	reporting.PrintAccountStatus(os.Stdout, led, string(ks.State()))
	reporting.PrintSessionSummary(os.Stdout, journal, sessionStart)
	if journalPath != "" && !journal.Empty() {
		if err := reporting.WriteJournalXLSX(journal, journalPath); err != nil {
			log.LogError("write journal", err)
		} else {
			common.Success("Session journal written to %s", journalPath)
		}
	}
	dispatcher.Dispatch("warning", "Execution agent stopped")

	return exitErr
}
