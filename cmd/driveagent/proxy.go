package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driveagent/driveagent/internal/binding"
	"github.com/driveagent/driveagent/internal/store"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Inspect or change the device-wide proxy configuration",
}

var (
	proxyConfigFlag  string
	proxySchemeFlag  string
	proxyServerFlag  string
	proxyPortFlag    int
	proxyUserFlag    string
	proxyAuthFlag    bool
	proxyExceptFlag  string
	proxyAskPassword bool
)

var proxySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the device-wide proxy configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if proxyAskPassword {
			var err error
			password, err = readPassword(cmd, "Proxy password: ")
			if err != nil {
				return fail(err)
			}
		}

		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		in := binding.ProxySettingsInput{
			Config:        store.ProxyConfig(proxyConfigFlag),
			Scheme:        store.ProxyScheme(proxySchemeFlag),
			Server:        proxyServerFlag,
			Port:          proxyPortFlag,
			Username:      proxyUserFlag,
			Password:      password,
			Authenticated: proxyAuthFlag,
			Exceptions:    proxyExceptFlag,
		}
		if err := ctl.SetProxySettings(cmd.Context(), in); err != nil {
			return fail(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "proxy settings updated")
		return nil
	},
}

var proxyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current proxy configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openController(cmd)
		if err != nil {
			return fail(err)
		}
		defer ctl.Close()

		info, err := ctl.ProxySettings(cmd.Context())
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"config=%s scheme=%s server=%s port=%d username=%s authenticated=%t exceptions=%q has_password=%t\n",
			info.Config, info.Scheme, info.Server, info.Port, info.Username, info.Authenticated, info.Exceptions, info.HasPassword)
		return nil
	},
}

func init() {
	proxyCmd.AddCommand(proxySetCmd, proxyShowCmd)

	flags := proxySetCmd.Flags()
	flags.StringVar(&proxyConfigFlag, "mode", string(store.ProxyNone), "none, system, or manual")
	flags.StringVar(&proxySchemeFlag, "scheme", string(store.ProxyHTTP), "http or https")
	flags.StringVar(&proxyServerFlag, "server", "", "proxy server host")
	flags.IntVar(&proxyPortFlag, "port", 0, "proxy server port")
	flags.StringVar(&proxyUserFlag, "username", "", "proxy username")
	flags.BoolVar(&proxyAuthFlag, "authenticated", false, "whether the proxy requires authentication")
	flags.StringVar(&proxyExceptFlag, "exceptions", "", "comma-separated bypass list")
	flags.BoolVar(&proxyAskPassword, "ask-password", false, "prompt for a new proxy password on stdin")
}
