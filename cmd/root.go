// Package cmd implements the siteops command-line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/siteops/internal/bootstrap"
	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/logger"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	out        io.Writer
}

// NewRootCommand creates the siteops root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout)
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}

	root := &cobra.Command{
		Use:           "siteops",
		Short:         "Operational sidecar for a PostgreSQL-backed site",
		Long:          `siteops serves the /healthz probe, takes scheduled pg_dump backups and prunes old ones.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(
		&opts.configPath,
		"config",
		"",
		"config file (default is $CONFIG_PATH or ./config.yml when present)",
	)

	root.AddCommand(
		newServeCommand(opts),
		newBackupCommand(opts),
		newHealthcheckCommand(opts),
		newVersionCommand(opts),
	)

	return root
}

// Execute runs the root command until it completes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand().ExecuteContext(ctx)
}

// setup loads the configuration and creates the logger.
func (o *rootOptions) setup() (*config.Config, logger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := bootstrap.CreateLogger(cfg, Version)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// withApp wires the components, runs fn and releases the connections.
func (o *rootOptions) withApp(fn func(app *bootstrap.App) error) error {
	cfg, log, err := o.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Warn("Failed to close connections", logger.Error(closeErr))
		}
	}()

	return fn(app)
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(opts.out, "siteops version %s\n", Version)
		},
	}
}
