// Package command provides CLI command definitions for pagevault-cli.
package command

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pagevault-go/internal/cli/connection"
	"github.com/yndnr/pagevault-go/internal/cli/output"
	"github.com/yndnr/pagevault-go/internal/infra/buildinfo"
	"github.com/yndnr/pagevault-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "pagevault-cli",
		Usage:   "PageVault command-line management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			BasisCommand(),
			KVCommand(),
			SystemCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "socket",
			Aliases: []string{"s"},
			Usage:   "Path to the pagevaultd management socket",
			EnvVars: []string{"PAGEVAULT_SOCKET"},
			Value:   config.DefaultLocalSocket,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
	}
}

// newClient builds a socket client from the global flags.
func newClient(c *cli.Context) *connection.SocketClient {
	return connection.NewSocketClient(c.String("socket"))
}

// formatter builds the output formatter from the global flags.
func formatter(c *cli.Context) (output.Formatter, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(format), nil
}

// readPassword returns the --password flag value, or prompts on
// stdin. The prompt goes to stderr so piped output stays clean.
func readPassword(c *cli.Context, prompt string) ([]byte, error) {
	if pw := c.String("password"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return nil, fmt.Errorf("empty password")
	}
	return []byte(pw), nil
}

func passwordFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "Basis password (prompted on stdin when omitted)",
	}
}
