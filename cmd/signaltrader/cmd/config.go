package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/signaltrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage signaltrader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  signaltrader config init -o signaltrader.yaml
  signaltrader config validate -f signaltrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  signaltrader config init -o signaltrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  signaltrader config validate -f signaltrader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "signaltrader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  signaltrader serve --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Account: %.2f %s\n", cfg.Account.InitialBalance, cfg.Account.Currency)
	fmt.Printf("  Trading: TP %.2f / SL %.2f, win rate %.0f%%, hold %s-%s\n",
		cfg.Trading.TakeProfitAmount, cfg.Trading.StopLossAmount, cfg.Trading.WinRate*100,
		cfg.Trading.MinHold, cfg.Trading.MaxHold)
	fmt.Printf("  Store: %s\n", cfg.Store.Type)
	fmt.Printf("  Signals: %s (%s)\n", cfg.Signals.Source, cfg.Signals.Schedule)
	return nil
}
