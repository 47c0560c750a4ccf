package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/siteops/internal/bootstrap"
	"github.com/jonesrussell/siteops/internal/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			log.Info("Starting siteops",
				logger.String("address", cfg.Server.Address()),
				logger.String("backup_dir", cfg.Backup.Dir),
				logger.Bool("remote_storage", cfg.Storage.Enabled()),
			)

			return bootstrap.Serve(cmd.Context(), cfg, log, Version)
		},
	}
}
