package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var bindCmd = &cobra.Command{
	Use:   "bind <local-folder> <server-url> <user>",
	Short: "Bind a local folder to a remote server and user, prompting for a password on stdin",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, "Password: ")
		if err != nil {
			return fail(err)
		}

		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		if err := ctl.BindServer(cmd.Context(), args[0], args[1], args[2], password); err != nil {
			return fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bound %s to %s as %s\n", args[0], args[1], args[2])
		return nil
	},
}

// readPassword prompts on stdin, reading without echo when stdin is a
// terminal and falling back to a plain line read under redirected input
// (scripted binds, CI).
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
