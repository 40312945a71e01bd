// Command driveagent is the operator-facing command surface over the
// Controller façade: binding local folders to remote servers, inspecting
// proxy configuration and pending work, and signaling a running sync
// worker to stop. The GUI is a separate, external collaborator.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driveagent/driveagent/internal/config"
	"github.com/driveagent/driveagent/internal/controller"
	"github.com/driveagent/driveagent/internal/logger"
)

var log = logger.New()

// runError marks an error that came back from the Controller (a domain or
// remote failure) as opposed to a Cobra usage error, so main can pick
// exit code 1 instead of 2 for it.
type runError struct{ err error }

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func fail(err error) error {
	if err == nil {
		return nil
	}
	return &runError{err: err}
}

var rootCmd = &cobra.Command{
	Use:           "driveagent",
	Short:         "Operator CLI for the driveagent two-way file sync client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config_folder", "", "config folder holding the state database (default: ~/.driveagent)")
	flags.Duration("handshake_timeout", 0, "timeout for the initial bind probe")
	flags.Duration("timeout", 0, "timeout for all other remote operations")
	flags.Bool("sql_echo", false, "log every SQL statement executed against the state store")
	flags.String("kek_source", "", "CryptoBox key source: token or kms")
	flags.String("proxy_password_policy", "", "proxy password storage policy: plaintext-until-bound or kms")
	flags.String("aws_kms_key_id", "", "AWS KMS key id, required when kek_source=kms")
	flags.String("aws_region", "", "AWS region for the KMS key source")

	rootCmd.AddCommand(bindCmd, unbindCmd, proxyCmd, pendingCmd, stopCmd, bindingsCmd)
}

// openController resolves configuration from cmd's flags (layered over
// DRIVEAGENT_* environment and config.yaml per internal/config.Load) and
// constructs a Controller against it. Callers must Close it.
func openController(cmd *cobra.Command) (*controller.Controller, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return controller.New(cmd.Context(), cfg, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var rerr *runError
		if errors.As(err, &rerr) {
			fmt.Fprintln(os.Stderr, "error:", rerr.err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "usage error:", err)
		os.Exit(2)
	}
}
