package main

import (
	"os"

	"github.com/lazypower/vivarium/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
