// cmd/scholarnav/root.go
package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "scholarnav",
		Short: "Fetch pages from a rate-limiting site through rotating proxies",
		Long: `ScholarNav fetches HTML pages from a service that throttles, CAPTCHA-gates
and blocks clients. Requests go through a secondary (free) proxy pool and
escalate to a primary (paid) one; CAPTCHAs open in a browser window for a
person to solve.

Examples:
  scholarnav fetch "https://scholar.google.com/scholar?q=graph+theory"
  scholarnav fetch --primary --config scholarnav.yaml "https://scholar.google.com/citations?user=abc"
  scholarnav check-proxy --config scholarnav.yaml
  scholarnav serve --listen :8080 --embedded-tor`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging and technical error details")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.embeddedTor, "embedded-tor", false, "start a private Tor daemon for the secondary pool")

	root.AddCommand(
		newFetchCmd(a),
		newCheckProxyCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(a.stdout)
		},
	}
}
