// Package command provides CLI command definitions for pagevault-cli.
package command

import (
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pagevault-go/internal/cli/output"
	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Daemon status commands",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show daemon status",
				Action: systemStatus,
			},
			{
				Name:   "free",
				Usage:  "Show the obfuscated free page estimate",
				Action: systemFree,
			},
		},
	}
}

func systemStatus(c *cli.Context) error {
	client := newClient(c)
	defer client.Close()
	var status localserver.StatusResult
	if err := client.Call(localserver.OpSystemStatus, nil, &status); err != nil {
		return err
	}

	f, err := formatter(c)
	if err != nil {
		return err
	}
	table := output.NewTable("FIELD", "VALUE")
	table.AddRow("version", status.Version)
	table.AddRow("uptime_seconds", status.UptimeSeconds)
	table.AddRow("mounted_bases", strings.Join(status.MountedBases, ","))
	table.AddRow("free_pages", status.FreePages)
	return f.Format(os.Stdout, table)
}

func systemFree(c *cli.Context) error {
	client := newClient(c)
	defer client.Close()
	var free localserver.FreeResult
	if err := client.Call(localserver.OpFreeEstimate, nil, &free); err != nil {
		return err
	}

	f, err := formatter(c)
	if err != nil {
		return err
	}
	table := output.NewTable("FREE_PAGES")
	table.AddRow(free.Pages)
	return f.Format(os.Stdout, table)
}
