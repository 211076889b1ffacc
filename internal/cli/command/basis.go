// Package command provides CLI command definitions for pagevault-cli.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// BasisCommand returns the basis subcommand group.
func BasisCommand() *cli.Command {
	return &cli.Command{
		Name:  "basis",
		Usage: "Manage secret bases",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create and mount a new basis",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{passwordFlag()},
				Action:    basisCreate,
			},
			{
				Name:   "mount",
				Usage:  "Mount whichever basis the password unlocks",
				Flags:  []cli.Flag{passwordFlag()},
				Action: basisMount,
			},
			{
				Name:      "unmount",
				Usage:     "Unmount a basis and zeroize its key",
				ArgsUsage: "<name>",
				Action:    basisUnmount,
			},
			{
				Name:   "list",
				Usage:  "List mounted bases",
				Action: basisList,
			},
		},
	}
}

func basisCreate(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: basis create <name>")
	}
	name := c.Args().First()

	password, err := readPassword(c, "New basis password: ")
	if err != nil {
		return err
	}

	client := newClient(c)
	defer client.Close()
	err = client.Call(localserver.OpBasisCreate, localserver.BasisCreateParams{
		Name:     name,
		Password: string(password),
	}, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "basis %q created and mounted\n", name)
	return nil
}

func basisMount(c *cli.Context) error {
	password, err := readPassword(c, "Basis password: ")
	if err != nil {
		return err
	}

	client := newClient(c)
	defer client.Close()
	var mounted localserver.MountResult
	err = client.Call(localserver.OpBasisMount, localserver.BasisMountParams{
		Password: string(password),
	}, &mounted)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "basis %q mounted\n", mounted.Name)
	return nil
}

func basisUnmount(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: basis unmount <name>")
	}
	name := c.Args().First()

	client := newClient(c)
	defer client.Close()
	if err := client.Call(localserver.OpBasisUnmount, localserver.BasisNameParams{Name: name}, nil); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "basis %q unmounted\n", name)
	return nil
}

func basisList(c *cli.Context) error {
	client := newClient(c)
	defer client.Close()
	var bases localserver.ListResult
	if err := client.Call(localserver.OpBasisList, nil, &bases); err != nil {
		return err
	}

	f, err := formatter(c)
	if err != nil {
		return err
	}
	table := newNameTable("BASIS", bases.Names)
	return f.Format(os.Stdout, table)
}
