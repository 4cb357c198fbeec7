package main

import (
	"fmt"
	"os"

	"github.com/infer-perf/inferperf/cmd/inferperf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
