// Package main provides the entry point for pagevault-cli.
//
// pagevault-cli is the command-line management tool for a running
// pagevaultd, talking to it over the management socket.
package main

import (
	"fmt"
	"os"

	"github.com/yndnr/pagevault-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
