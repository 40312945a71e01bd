package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running sync worker to exit via a config-folder marker file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		if err := ctl.Stop(); err != nil {
			return fail(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "stop requested")
		return nil
	},
}
