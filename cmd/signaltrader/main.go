package main

import (
	"os"

	"github.com/rustyeddy/signaltrader/cmd/signaltrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
