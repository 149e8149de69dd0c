package main

import (
	"os"

	"github.com/valeevte/PricePulse/cmd/server/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
