// Package main is the entry point for the netraffic traffic accounting agent.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netraffic/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
