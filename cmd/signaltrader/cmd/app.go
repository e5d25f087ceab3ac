package cmd

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/config"
	"github.com/rustyeddy/signaltrader/journal"
	"github.com/rustyeddy/signaltrader/logger"
	"github.com/rustyeddy/signaltrader/sched"
	"github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/store"
	"github.com/rustyeddy/signaltrader/trading"
)

// binanceRPS keeps public REST usage well under the exchange weight limits.
const binanceRPS = 10

// app holds everything a command needs to drive a manager.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   store.Store
	journal journal.Journal
	mgr     *trading.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func settingsFrom(cfg *config.Config) trading.Settings {
	t := cfg.Trading
	return trading.Settings{
		InitialBalance:    cfg.Account.InitialBalance,
		TakeProfitAmount:  t.TakeProfitAmount,
		StopLossAmount:    t.StopLossAmount,
		WinRate:           t.WinRate,
		MinHold:           t.MinHold,
		MaxHold:           t.MaxHold,
		TickInterval:      t.TickInterval,
		Drift:             t.Drift,
		Volatility:        t.Volatility,
		NextSignalDelay:   t.NextSignalDelay,
		RestoreCloseDelay: t.RestoreCloseDelay,
	}
}

func newGenerator(cfg *config.Config, log *zap.Logger) (signal.Generator, error) {
	seed := time.Now().UnixNano()
	switch cfg.Signals.Source {
	case "mock":
		return signal.NewMock(cfg.Signals.Pairs, seed), nil
	case "binance":
		return signal.NewBinance(signal.NewBinanceMarket(binanceRPS), log, cfg.Signals.Pairs, seed), nil
	default:
		return nil, fmt.Errorf("unknown signal source %q", cfg.Signals.Source)
	}
}

// openApp builds the logger, store, journal and manager described by cfg.
// The manager is not started.
func openApp(cfg *config.Config, clock sched.Scheduler) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(cfg.Store.Type, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}

	a := &app{cfg: cfg, log: log, store: st}
	if cfg.Journal.Enabled {
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
	}

	a.mgr = trading.New(trading.Options{
		Settings:  settingsFrom(cfg),
		Store:     st,
		Scheduler: clock,
		Logger:    log,
		Journal:   a.journal,
	})
	return a, nil
}

func (a *app) Close() {
	a.mgr.Stop()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("close journal", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
