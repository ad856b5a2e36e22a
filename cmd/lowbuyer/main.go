package main

import (
	"os"

	"buyLowSellHigh/cmd/lowbuyer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
