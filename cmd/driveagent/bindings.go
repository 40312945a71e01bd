package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Export or import the binding registry as YAML",
}

var (
	bindingsExportPath string
	bindingsImportPath string
)

var bindingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current bindings (credentials excluded) as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		out := cmd.OutOrStdout()
		if bindingsExportPath != "" {
			f, err := os.Create(bindingsExportPath)
			if err != nil {
				return fail(fmt.Errorf("bindings export: %w", err))
			}
			defer f.Close()
			out = f
		}
		if err := ctl.ExportBindings(cmd.Context(), out); err != nil {
			return fail(err)
		}
		return nil
	},
}

var bindingsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Read a YAML binding export; re-authenticate each one with bind afterwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		in := os.Stdin
		if bindingsImportPath != "" {
			f, err := os.Open(bindingsImportPath)
			if err != nil {
				return fail(fmt.Errorf("bindings import: %w", err))
			}
			defer f.Close()
			in = f
		}

		bindings, err := ctl.ImportBindings(in)
		if err != nil {
			return fail(err)
		}
		for _, b := range bindings {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s as %s (run bind to re-authenticate)\n", b.LocalFolder, b.ServerURL, b.RemoteUser)
		}
		return nil
	},
}

func init() {
	bindingsCmd.AddCommand(bindingsExportCmd, bindingsImportCmd)
	bindingsExportCmd.Flags().StringVar(&bindingsExportPath, "output", "", "write to this file instead of stdout")
	bindingsImportCmd.Flags().StringVar(&bindingsImportPath, "input", "", "read from this file instead of stdin")
}
