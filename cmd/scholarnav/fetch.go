// cmd/scholarnav/fetch.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	var primary bool

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch one page and print its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.serveMetrics(ctx)

			nav, err := a.navigator(ctx)
			if err != nil {
				return err
			}

			body, err := nav.Fetch(ctx, args[0], primary)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.stdout, body)
			return err
		},
	}

	cmd.Flags().BoolVarP(&primary, "primary", "p", false, "start in the primary (premium) pool")
	return cmd
}
