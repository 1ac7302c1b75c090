// Command ksched runs scheduling scenarios on a simulated single-CPU kernel.
package main

import (
	"fmt"
	"os"

	"github.com/me/ksched/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ksched: %v\n", err)
		os.Exit(1)
	}
}
