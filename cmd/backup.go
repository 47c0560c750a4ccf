package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/bootstrap"
	"github.com/jonesrussell/siteops/internal/retention"
)

const timeDisplayLayout = "2006-01-02 15:04:05 MST"

func newBackupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take, list and prune database backups",
	}

	cmd.AddCommand(
		newBackupRunCommand(opts),
		newBackupListCommand(opts),
		newBackupSweepCommand(opts),
	)

	return cmd
}

func newBackupRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Take one backup now",
		Long: `Dump the database into a new db-<timestamp>.sql.gz artifact and upload it
when remote storage is configured. Interrupting the command kills pg_dump and
removes the partial file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *bootstrap.App) error {
				artifact, err := app.Backups.RunBackup(cmd.Context())
				printArtifact(opts.out, artifact)
				return err
			})
		},
	}
}

func printArtifact(w io.Writer, a *backup.Artifact) {
	if a == nil {
		return
	}
	if !a.Succeeded() {
		fmt.Fprintf(w, "Backup failed (%s): %s\n", a.Failure, a.Reason)
		return
	}

	fmt.Fprintf(w, "Backup written: %s (%s)\n", a.LocalPath, formatBytes(a.SizeBytes))
	switch {
	case a.RemoteRef != "":
		fmt.Fprintf(w, "Uploaded to: %s\n", a.RemoteRef)
	case a.UploadErr != nil:
		fmt.Fprintf(w, "Warning: upload failed, local backup kept: %s\n", a.UploadError())
	}
}

func newBackupListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.setup()
			if err != nil {
				return err
			}

			entries, err := backup.List(cfg.Backup.Dir)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(opts.out, "No backups in %s\n", cfg.Backup.Dir)
				return nil
			}

			renderEntries(opts.out, entries)
			return nil
		},
	}
}

func renderEntries(w io.Writer, entries []backup.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Taken", "Size"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
	})

	var total int64
	for _, e := range entries {
		taken := e.ModTime.UTC().Format(timeDisplayLayout)
		if ts, err := backup.ParseFileName(e.Name); err == nil {
			taken = ts.Format(timeDisplayLayout)
		}
		t.AppendRow(table.Row{e.Name, taken, formatBytes(e.SizeBytes)})
		total += e.SizeBytes
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d backup(s)", len(entries)), "", formatBytes(total)})
	t.Render()
}

func newBackupSweepCommand(opts *rootOptions) *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete backups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *bootstrap.App) error {
				policy := app.Policy()
				if cmd.Flags().Changed("max-age-days") {
					policy = retention.Policy{MaxAgeDays: maxAgeDays}
				}

				result, err := app.Sweeper.Sweep(cmd.Context(), policy)
				if err != nil {
					return err
				}

				fmt.Fprintf(opts.out, "Deleted %d backup(s) older than %d day(s), kept %d\n",
					result.Deleted, policy.MaxAgeDays, result.Kept)
				if result.Failed() > 0 {
					return errors.New(result.Summary())
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "override the configured retention window")

	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
