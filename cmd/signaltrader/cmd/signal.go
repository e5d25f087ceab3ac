package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/signaltrader/logger"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Generate and print one signal",
	Long: `Ask the configured signal source for the next qualifying signal and
print it as JSON.

Examples:
  signaltrader signal
  signaltrader signal --source binance`,
	Args: cobra.NoArgs,
	RunE: runSignal,
}

var (
	signalSource  string
	signalTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(signalCmd)

	signalCmd.Flags().StringVar(&signalSource, "source", "", "mock or binance (overrides signals.source)")
	signalCmd.Flags().DurationVar(&signalTimeout, "timeout", 30*time.Second, "give up after this long")
}

func runSignal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if signalSource != "" {
		cfg.Signals.Source = signalSource
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	gen, err := newGenerator(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), signalTimeout)
	defer cancel()

	sig, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if sig == nil {
		fmt.Println("No qualifying signal right now.")
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sig); err != nil {
		return err
	}
	fmt.Printf("risk/reward %.2f\n", sig.RiskReward())
	return nil
}
