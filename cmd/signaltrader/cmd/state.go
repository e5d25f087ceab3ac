package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the persisted account",
	Long: `Work with the account state kept in the configured store.

Subcommands:
  show  - Print balance, open positions and trade statistics
  reset - Restore the initial balance and clear positions and history

Examples:
  signaltrader state show
  signaltrader state show --json
  signaltrader state reset --yes`,
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted account",
	Args:  cobra.NoArgs,
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the persisted account",
	Args:  cobra.NoArgs,
	RunE:  runStateReset,
}

var (
	stateJSON bool
	stateYes  bool
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateShowCmd.Flags().BoolVar(&stateJSON, "json", false, "print as JSON")
	stateResetCmd.Flags().BoolVarP(&stateYes, "yes", "y", false, "confirm the reset")
}

func runStateShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// reading must not append to the journal
	cfg.Journal.Enabled = false

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	positions := a.mgr.OpenPositions()
	history := a.mgr.History()
	stats := a.mgr.Stats()

	if stateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"balance":   a.mgr.Balance(),
			"equity":    a.mgr.Equity(),
			"currency":  cfg.Account.Currency,
			"positions": positions,
			"history":   history,
			"stats":     stats,
		})
	}

	fmt.Printf("Store:    %s\n", cfg.Store.Type)
	fmt.Printf("Balance:  %.2f %s\n", a.mgr.Balance(), cfg.Account.Currency)
	fmt.Printf("Equity:   %.2f %s\n", a.mgr.Equity(), cfg.Account.Currency)

	fmt.Printf("\nOpen positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  %-28s %-9s %-5s capital %12.2f  entry %.6g  closes %s\n",
			p.ID, p.Signal.Pair, p.Signal.Direction, p.Capital, p.Signal.EntryPrice,
			p.Deadline().In(time.Local).Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("\nHistory: %d trades, %d wins, %d losses (%.1f%%)\n", stats.Trades, stats.Wins, stats.Losses, stats.WinRate)
	if stats.Trades > 0 {
		fmt.Printf("  Total P/L %+.2f  best %+.2f  worst %+.2f  avg hold %s\n",
			stats.TotalProfit, stats.BestTrade, stats.WorstTrade, stats.AvgHold.Round(time.Second))
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if !stateYes {
		return errors.New("refusing to reset without --yes")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Journal.Enabled = false

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.mgr.Reset()
	fmt.Printf("✓ Account reset to %.2f %s\n", a.mgr.Balance(), cfg.Account.Currency)
	return nil
}
