package main

import (
	"os"

	"escrow-backend/cmd/escrowd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
