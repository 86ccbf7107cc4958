package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/oarkflow/mailmerge"
	"github.com/oarkflow/mailmerge/internal/config"
	"github.com/oarkflow/mailmerge/internal/contacts"
	"github.com/oarkflow/mailmerge/internal/mailer"
	"github.com/oarkflow/mailmerge/internal/outbox"
	"github.com/oarkflow/mailmerge/internal/pipeline"
)

func newCheckCmd(g *globalOptions) *cobra.Command {
	f := &jobFlags{}
	var connect bool

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check that everything a run needs is in place",
		Long: `Check that a run can start, without sending anything.

This validates:
  - Job file and flags
  - SMTP settings and sender address
  - Subject and body templates
  - Contact file columns
  - Attachment

Use --connect to also log in to the SMTP server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			job, err := loadJob(cmd, g, f)
			if err != nil {
				return err
			}

			p, err := pipeline.New(ctx, pipeline.OptionsFromJob(job))
			if err != nil {
				return fmt.Errorf("check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			book := p.Book()
			counts := book.Count()

			fmt.Fprintf(out, "✓ Contacts %s: %d rows, columns: %v\n", job.CSV, len(book.Records), book.Header)
			fmt.Fprintf(out, "  Pending: %d  Sent: %d  Skip: %d  Error: %d\n",
				counts[contacts.StatusPending], counts[contacts.StatusSent],
				counts[contacts.StatusSkip], counts[contacts.StatusError])
			if other := otherStatuses(counts); len(other) > 0 {
				fmt.Fprintf(out, "  Unknown statuses (sent as pending): %v\n", other)
			}

			smtp := p.SMTP()
			if job.DryRun {
				fmt.Fprintf(out, "✓ Sender %s (dry run, SMTP not required)\n", smtp.From())
			} else {
				fmt.Fprintf(out, "✓ SMTP %s as %s, sender %s\n", smtp.Addr(), smtp.Username, smtp.From())
			}

			if connect && !job.DryRun {
				sender, err := mailer.Dial(ctx, smtp)
				if err != nil {
					return fmt.Errorf("SMTP login failed: %s", mailer.Describe(err))
				}
				if err := sender.Close(); err != nil {
					log.Warn("Failed to close SMTP connection", "error", err)
				}
				fmt.Fprintln(out, "✓ SMTP login succeeded")
			}

			if entries, err := outbox.ReadFile(job.Log); err == nil && len(entries) > 0 {
				runID, byStatus := outbox.Summary(entries)
				fmt.Fprintf(out, "  Last run %s: sent %d, dry run %d, errors %d\n", runID,
					byStatus[outbox.StatusSent], byStatus[outbox.StatusDryRun], byStatus[outbox.StatusError])
			}

			fmt.Fprintln(out, "✓ Ready to send")
			return nil
		},
	}

	bindInputFlags(checkCmd, f)
	checkCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "check for a dry run (SMTP credentials not required)")
	checkCmd.Flags().StringVar(&f.log, "log", config.DefaultLogFile, "outbox log file")
	checkCmd.Flags().BoolVar(&connect, "connect", false, "log in to the SMTP server")

	return checkCmd
}

func otherStatuses(counts map[contacts.Status]int) []string {
	var other []string
	for status := range counts {
		switch status {
		case contacts.StatusPending, contacts.StatusSent, contacts.StatusSkip, contacts.StatusError:
		default:
			other = append(other, string(status))
		}
	}
	sort.Strings(other)
	return other
}

func newInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new job file",
		Long: `Initialize a new ` + config.DefaultJobFile + ` job file.

This creates a basic job file that you can customize for your
campaign. Every key can still be overridden with a flag.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultJobFile
			if g.cfgFile != "" {
				path = g.cfgFile
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("job file already exists: %s", path)
			}

			if err := os.WriteFile(path, []byte(config.DefaultTemplate()), 0o644); err != nil {
				return fmt.Errorf("failed to write job file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created %s\n", path)
			fmt.Fprintln(out, "\nEdit this file to point at your contacts and templates.")
			return nil
		},
	}

	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing job file")
	return initCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit, and build date of mailmerge.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mailmerge %s\n", mailmerge.Version)
			if mailmerge.GitCommit != "" {
				fmt.Fprintf(out, "  Commit: %s\n", mailmerge.GitCommit)
			}
			if mailmerge.BuildDate != "" {
				fmt.Fprintf(out, "  Built:  %s\n", mailmerge.BuildDate)
			}
		},
	}
}
