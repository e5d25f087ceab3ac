package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/signaltrader/journal"
	"github.com/rustyeddy/signaltrader/logger"
	"github.com/rustyeddy/signaltrader/sched"
	sig "github.com/rustyeddy/signaltrader/signal"
	"github.com/rustyeddy/signaltrader/store"
	"github.com/rustyeddy/signaltrader/trading"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Trade a few mock signals headlessly",
	Long: `Run the full signal, open, simulate and settle loop without a server.

By default the demo runs on a virtual clock so a whole session finishes in
milliseconds. With --realtime it uses the wall clock and the configured
hold times.

Demonstrates:
  - Opening a position from a generated signal
  - Price ticks moving the unrealized P&L
  - Guaranteed closure and fixed-amount settlement
  - The follow-up signal request after each trade
  - Recording to a CSV journal

Examples:
  signaltrader demo
  signaltrader demo --trades 10 --csv-dir ./out`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoTrades   int
	demoRealtime bool
	demoCSVDir   string
	demoSeed     int64
)

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntVarP(&demoTrades, "trades", "n", 3, "number of trades to run")
	demoCmd.Flags().BoolVar(&demoRealtime, "realtime", false, "use the wall clock instead of a virtual one")
	demoCmd.Flags().StringVar(&demoCSVDir, "csv-dir", "", "write trades.csv and equity.csv into this directory")
	demoCmd.Flags().Int64Var(&demoSeed, "seed", 1, "seed for the mock signal source")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	var (
		clock  sched.Scheduler
		manual *sched.Manual
	)
	if demoRealtime {
		clock = sched.NewReal()
	} else {
		manual = sched.NewManual(time.Now())
		clock = manual
	}

	opts := trading.Options{
		Settings:  settingsFrom(cfg),
		Store:     store.NewMemory(),
		Scheduler: clock,
		Logger:    log,
	}
	if demoCSVDir != "" {
		if err := os.MkdirAll(demoCSVDir, 0o755); err != nil {
			return fmt.Errorf("create csv dir: %w", err)
		}
		j, err := journal.NewCSV(filepath.Join(demoCSVDir, "trades.csv"), filepath.Join(demoCSVDir, "equity.csv"))
		if err != nil {
			return fmt.Errorf("open csv journal: %w", err)
		}
		defer j.Close()
		opts.Journal = j
	}

	mgr := trading.New(opts)
	gen := sig.NewMock(cfg.Signals.Pairs, demoSeed)

	next := make(chan trading.SignalRequest, 1)
	mgr.OnSignalRequest(func(req trading.SignalRequest) {
		select {
		case next <- req:
		default:
		}
	})
	mgr.OnHistoryChange(func(h []trading.HistoryRecord) {
		if len(h) == 0 {
			return
		}
		r := h[0]
		fmt.Printf("  closed  %-9s %-5s %-11s P/L %+10.2f  exit %.6g  held %s\n",
			r.Pair, r.Direction, r.Outcome, r.RealizedProfit, r.ExitPrice, r.Held().Round(time.Second))
		fmt.Printf("          %s\n", r.Reason)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Start()
	defer mgr.Stop()

	wait := func() error {
		if manual == nil {
			select {
			case <-next:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// closure is guaranteed within MaxHold, so this terminates
		for {
			select {
			case <-next:
				return nil
			default:
				manual.Advance(opts.Settings.TickInterval)
			}
		}
	}

	fmt.Printf("Starting balance: %.2f %s\n\n", mgr.Balance(), cfg.Account.Currency)
	for i := 0; i < demoTrades; i++ {
		s, err := gen.Generate(ctx)
		if err != nil {
			return fmt.Errorf("generate signal: %w", err)
		}
		if s == nil {
			continue
		}
		capital := min(cfg.Trading.DefaultCapital, mgr.Balance())
		pos, err := mgr.Open(*s, capital, cfg.Trading.Timeframe)
		if err != nil {
			log.Warn("demo stopped", zap.Error(err))
			break
		}
		fmt.Printf("#%d opened  %-9s %-5s entry %.6g  capital %.2f  closes within %s\n",
			i+1, pos.Signal.Pair, pos.Signal.Direction, pos.Signal.EntryPrice, pos.Capital, pos.CloseAfter.Round(time.Second))

		if err := wait(); err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted")
				break
			}
			return err
		}
	}

	st := mgr.Stats()
	fmt.Printf("\nTrades: %d  Wins: %d  Losses: %d  Win rate: %.1f%%\n", st.Trades, st.Wins, st.Losses, st.WinRate)
	fmt.Printf("Total P/L: %+.2f  Best: %+.2f  Worst: %+.2f\n", st.TotalProfit, st.BestTrade, st.WorstTrade)
	fmt.Printf("Final balance: %.2f %s\n", mgr.Balance(), cfg.Account.Currency)
	if demoCSVDir != "" {
		fmt.Printf("Journal written to %s\n", demoCSVDir)
	}
	return nil
}
