package cmd

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/siteops/internal/bootstrap"
	"github.com/jonesrussell/siteops/internal/health"
)

var errUnhealthy = errors.New("unhealthy")

func newHealthcheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Run the health checks once and print the report",
		Long:  `Runs the same checks as GET /healthz. Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *bootstrap.App) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Health.RequestTimeout)
				defer cancel()

				report := app.Probe.Check(ctx)

				enc := json.NewEncoder(opts.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(health.NewResponse(report)); err != nil {
					return err
				}

				if !report.Healthy() {
					return errUnhealthy
				}
				return nil
			})
		},
	}
}
