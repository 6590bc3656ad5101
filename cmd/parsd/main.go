package main

import (
	"fmt"
	"os"

	"github.com/danmuck/pars/internal/logging"
)

func main() {
	logging.ConfigureRuntime("parsd")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parsd: %v\n", err)
		os.Exit(1)
	}
}
