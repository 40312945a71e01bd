package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	pendingLimit  int
	pendingFolder string
	pendingIgnore time.Duration
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List non-synchronized pairs, with the error back-off mask applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		rows, err := ctl.ListPending(cmd.Context(), pendingLimit, pendingFolder, pendingIgnore)
		if err != nil {
			return fail(err)
		}
		for _, row := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", row.PairState, row.RemoteParentPath, row.RemoteName)
		}
		return nil
	},
}

func init() {
	flags := pendingCmd.Flags()
	flags.IntVar(&pendingLimit, "limit", 0, "maximum rows to return (0 = unbounded)")
	flags.StringVar(&pendingFolder, "folder", "", "restrict to one bound local folder")
	flags.DurationVar(&pendingIgnore, "ignore-errors-for", 0, "hide rows whose last sync error is more recent than this duration")
}
