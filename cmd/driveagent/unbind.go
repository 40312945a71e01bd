package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unbindCmd = &cobra.Command{
	Use:   "unbind <local-folder>",
	Short: "Unbind a local folder, best-effort revoking its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		if err := ctl.UnbindServer(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unbound %s\n", args[0])
		return nil
	},
}
