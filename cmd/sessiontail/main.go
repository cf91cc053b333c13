// Package main provides the entry point for the sessiontail CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sessiontail/sessiontail/cmd/sessiontail/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
