package main

import (
	"os"

	"github.com/danmuck/pars/internal/logging"
)

func main() {
	logging.ConfigureRuntime("pars")
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
