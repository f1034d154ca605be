package main

import (
	"os"

	"github.com/rzzdr/cat-risk-pipeline/cmd/catsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
