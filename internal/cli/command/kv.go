// Package command provides CLI command definitions for pagevault-cli.
package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pagevault-go/internal/cli/output"
	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// KVCommand returns the kv subcommand group.
func KVCommand() *cli.Command {
	basisFlag := &cli.StringFlag{
		Name:     "basis",
		Aliases:  []string{"b"},
		Usage:    "Mounted basis to operate on",
		Required: true,
	}
	return &cli.Command{
		Name:  "kv",
		Usage: "Manage entries in a mounted basis",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List entry names",
				Flags:  []cli.Flag{basisFlag},
				Action: kvList,
			},
			{
				Name:      "get",
				Usage:     "Read an entry to stdout (or --file)",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					basisFlag,
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Write the value to this file instead of stdout",
					},
				},
				Action: kvGet,
			},
			{
				Name:      "put",
				Usage:     "Store an entry from stdin (or --file)",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					basisFlag,
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read the value from this file instead of stdin",
					},
				},
				Action: kvPut,
			},
			{
				Name:      "rm",
				Usage:     "Delete an entry",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{basisFlag},
				Action:    kvDelete,
			},
			{
				Name:      "size",
				Usage:     "Show an entry's size in bytes",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{basisFlag},
				Action:    kvSize,
			},
		},
	}
}

func kvList(c *cli.Context) error {
	client := newClient(c)
	defer client.Close()
	var names localserver.ListResult
	err := client.Call(localserver.OpKVList, localserver.BasisNameParams{Name: c.String("basis")}, &names)
	if err != nil {
		return err
	}

	f, err := formatter(c)
	if err != nil {
		return err
	}
	return f.Format(os.Stdout, newNameTable("KEY", names.Names))
}

func kvGet(c *cli.Context) error {
	key, err := oneArg(c, "kv get")
	if err != nil {
		return err
	}

	client := newClient(c)
	defer client.Close()
	var value localserver.ValueResult
	err = client.Call(localserver.OpKVGet, localserver.KVKeyParams{
		Basis: c.String("basis"),
		Key:   key,
	}, &value)
	if err != nil {
		return err
	}

	if file := c.String("file"); file != "" {
		return os.WriteFile(file, value.Value, 0o600)
	}
	_, err = os.Stdout.Write(value.Value)
	return err
}

func kvPut(c *cli.Context) error {
	key, err := oneArg(c, "kv put")
	if err != nil {
		return err
	}

	var data []byte
	if file := c.String("file"); file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read value: %w", err)
	}

	client := newClient(c)
	defer client.Close()
	return client.Call(localserver.OpKVPut, localserver.KVPutParams{
		Basis: c.String("basis"),
		Key:   key,
		Value: data,
	}, nil)
}

func kvDelete(c *cli.Context) error {
	key, err := oneArg(c, "kv rm")
	if err != nil {
		return err
	}

	client := newClient(c)
	defer client.Close()
	return client.Call(localserver.OpKVDelete, localserver.KVKeyParams{
		Basis: c.String("basis"),
		Key:   key,
	}, nil)
}

func kvSize(c *cli.Context) error {
	key, err := oneArg(c, "kv size")
	if err != nil {
		return err
	}

	client := newClient(c)
	defer client.Close()
	var size localserver.SizeResult
	err = client.Call(localserver.OpKVSize, localserver.KVKeyParams{
		Basis: c.String("basis"),
		Key:   key,
	}, &size)
	if err != nil {
		return err
	}

	f, err := formatter(c)
	if err != nil {
		return err
	}
	table := output.NewTable("KEY", "SIZE")
	table.AddRow(key, size.Size)
	return f.Format(os.Stdout, table)
}

func oneArg(c *cli.Context, usage string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("usage: %s <key>", usage)
	}
	return c.Args().First(), nil
}

func newNameTable(header string, names []string) *output.Table {
	table := output.NewTable(header)
	for _, name := range names {
		table.AddRow(name)
	}
	return table
}
