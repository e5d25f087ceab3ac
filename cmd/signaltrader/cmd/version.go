package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the signaltrader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("signaltrader version %s\n", version)
		fmt.Println("A play-money crypto signal trading simulator")
		fmt.Println("https://github.com/rustyeddy/signaltrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
