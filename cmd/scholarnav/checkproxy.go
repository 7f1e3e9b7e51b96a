// cmd/scholarnav/checkproxy.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valpere/ScholarNav/internal/navigator"
	"github.com/valpere/ScholarNav/internal/proxy"
)

func newCheckProxyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-proxy",
		Short: "Build both backends and report whether they work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var firstErr error
			for _, pool := range []navigator.Pool{navigator.PoolPrimary, navigator.PoolSecondary} {
				backend, err := a.buildBackend(ctx, pool)
				if err != nil {
					title, message, _ := a.errors.GetUserFriendlyError(err)
					fmt.Fprintf(a.stdout, "%-9s FAILED  %s: %s\n", pool, title, message)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}

				p := backend.Session().Proxy().Redacted()
				fmt.Fprintf(a.stdout, "%-9s OK      mode=%s http=%q https=%q timeout=%s\n",
					pool, backend.Mode(), p.HTTP, p.HTTPS, backend.Timeout())

				if paid, ok := backend.(*proxy.PaidAPI); ok {
					if remaining, err := paid.QuotaRemaining(ctx); err == nil {
						fmt.Fprintf(a.stdout, "%-9s quota   %d requests remaining\n", "", remaining)
					}
				}
				backend.Close()
			}
			return firstErr
		},
	}
}
