package main

import (
	"fmt"

	"github.com/siemens/linux-entra-sso/internal/extid"
	"github.com/siemens/linux-entra-sso/stdio"
	"github.com/spf13/cobra"
)

func (c *cli) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schemas of browser requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printJSON(stdio.Schemas())
		},
	}
}

func (c *cli) extensionIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extension-id <path>",
		Short: "Print the Chromium ID of an unpacked extension directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := extid.FromPath(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, id)
			return err
		},
	}
}
