package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signaltrader",
	Short: "A play-money crypto signal trading simulator",
	Long: `Signaltrader turns trading signals into simulated positions on a
play-money account.

It provides tools for:
  - Serving the account, positions and history over HTTP and websockets
  - Generating signals from a mock source or Binance market data
  - Running headless demos on a virtual clock
  - Querying and exporting the trade journal
  - Inspecting and resetting the persisted account state`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (defaults plus SIGNALTRADER_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}
