// Package main is the entry point for the netdash traffic dashboard engine.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netdash/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
