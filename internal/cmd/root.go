/*
Package cmd provides the CLI commands for mailmerge.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/oarkflow/mailmerge/internal/config"
	"github.com/oarkflow/mailmerge/internal/hook"
	"github.com/oarkflow/mailmerge/internal/pipeline"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	cfgFile string
	verbose bool
	debug   bool
	quiet   bool
}

// jobFlags are the flags that can also be set in the job file
type jobFlags struct {
	csv            string
	subject        string
	html           string
	attachment     string
	env            string
	log            string
	sleep          int
	max            int
	fromRow        int
	dryRun         bool
	updateContacts bool
	verifyDomain   bool
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx. Cancelling ctx stops a run
// between two messages.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	f := &jobFlags{}

	rootCmd := &cobra.Command{
		Use:   "mailmerge",
		Short: "Send personalized emails from a CSV contact list",
		Long: `Mailmerge sends one personalized email per row of a CSV contact list.

Every {{column}} placeholder of the subject and body templates is replaced
with the value of that column. {{sender_name}} and {{today}} are always
available. Messages go out over a single SMTP connection configured
through an env file or the process environment.

Example:
  mailmerge --csv contacts.csv --subject subject.txt --html template.html --dry-run
  mailmerge --csv contacts.csv --subject subject.txt --html template.html --max 5
  mailmerge --config campaign.yaml --update-contacts
  mailmerge preview 3`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(g)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, g, f)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "", "job file (default is "+config.DefaultJobFile+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "only print warnings, errors and the summary")

	bindInputFlags(rootCmd, f)
	bindRunFlags(rootCmd, f)

	// Add subcommands
	rootCmd.AddCommand(newCheckCmd(g))
	rootCmd.AddCommand(newPreviewCmd(g))
	rootCmd.AddCommand(newInitCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func initLogging(g *globalOptions) {
	log.SetReportTimestamp(false)
	log.SetReportCaller(false)

	switch {
	case g.debug:
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
		log.SetReportCaller(true)
	case g.verbose:
		log.SetLevel(log.DebugLevel)
	case g.quiet:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// bindInputFlags adds the flags naming the files a run reads
func bindInputFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().StringVar(&f.csv, "csv", "", "contact list (CSV with a header row and an email column)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject template file")
	cmd.Flags().StringVar(&f.html, "html", "", "body template file (.html, or .md for markdown)")
	cmd.Flags().StringVar(&f.attachment, "attachment", "", "file attached to every message")
	cmd.Flags().StringVar(&f.env, "env", config.DefaultEnvFile, "env file with the SMTP settings")
	cmd.Flags().IntVar(&f.fromRow, "from-row", 0, "skip the first N contacts (0-indexed)")
	cmd.Flags().BoolVar(&f.verifyDomain, "verify-domain", true, "check that the domain of every address resolves")
}

// bindRunFlags adds the flags controlling a send
func bindRunFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().IntVar(&f.sleep, "sleep", config.DefaultSleep, "seconds to wait between two messages")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "render and log every message without sending")
	cmd.Flags().IntVar(&f.max, "max", 0, "maximum number of emails to send (0 = no limit)")
	cmd.Flags().BoolVar(&f.updateContacts, "update-contacts", false, "write status and sent_at back into the contact file")
	cmd.Flags().StringVar(&f.log, "log", config.DefaultLogFile, "outbox log file")
}

// apply overwrites job with every flag set on the command line, zero
// values included
func (f *jobFlags) apply(cmd *cobra.Command, job *config.Job) {
	fs := cmd.Flags()

	if fs.Changed("csv") {
		job.CSV = f.csv
	}
	if fs.Changed("subject") {
		job.Subject = f.subject
	}
	if fs.Changed("html") {
		job.HTML = f.html
	}
	if fs.Changed("attachment") {
		job.Attachment = f.attachment
	}
	if fs.Changed("env") {
		job.Env = f.env
	}
	if fs.Changed("log") {
		job.Log = f.log
	}
	if fs.Changed("sleep") {
		sleep := f.sleep
		job.Sleep = &sleep
	}
	if fs.Changed("max") {
		job.Max = f.max
	}
	if fs.Changed("from-row") {
		job.FromRow = f.fromRow
	}
	if fs.Changed("dry-run") {
		job.DryRun = f.dryRun
	}
	if fs.Changed("update-contacts") {
		job.UpdateContacts = f.updateContacts
	}
	if fs.Changed("verify-domain") {
		verify := f.verifyDomain
		job.VerifyDomain = &verify
	}
}

// loadJob merges the job file over the defaults, then applies the command
// line flags on top
func loadJob(cmd *cobra.Command, g *globalOptions, f *jobFlags) (*config.Job, error) {
	job := &config.Job{}

	path := g.cfgFile
	if path == "" {
		path = config.DefaultJobFile
	}

	if _, err := os.Stat(path); err == nil {
		job, err = config.LoadJob(path)
		if err != nil {
			return nil, err
		}
		log.Debug("Loaded job file", "path", path)
	} else if g.cfgFile != "" {
		return nil, fmt.Errorf("job file not found: %s", g.cfgFile)
	}

	if err := job.Merge(config.DefaultJob()); err != nil {
		return nil, err
	}
	f.apply(cmd, job)

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return job, nil
}

func runSend(cmd *cobra.Command, g *globalOptions, f *jobFlags) error {
	ctx := cmd.Context()

	job, err := loadJob(cmd, g, f)
	if err != nil {
		return err
	}

	vars := map[string]string{
		"csv":     job.CSV,
		"log":     job.Log,
		"dry_run": strconv.FormatBool(job.DryRun),
	}
	hooks := hook.NewRunner(vars, "")
	hooks.Stdout = cmd.OutOrStdout()
	hooks.Stderr = cmd.ErrOrStderr()

	if err := hooks.RunHooks(ctx, job.Before); err != nil {
		return fmt.Errorf("before hooks failed: %w", err)
	}

	p, err := pipeline.New(ctx, pipeline.OptionsFromJob(job))
	if err != nil {
		return fmt.Errorf("failed to prepare run: %w", err)
	}

	start := time.Now()
	stats, runErr := p.Run(ctx)
	if stats != nil {
		fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
		for k, v := range stats.Vars() {
			vars[k] = v
		}
	}
	vars["status"] = "completed"
	if runErr != nil {
		vars["status"] = "failed"
	}

	// After hooks also run for interrupted runs, without the cancelled context
	if err := hooks.RunHooks(context.WithoutCancel(ctx), job.After); err != nil {
		log.Error("After hooks failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return fmt.Errorf("mail merge failed: %w", runErr)
	}

	log.Debug("Run finished", "elapsed", time.Since(start).Round(time.Millisecond), "log", job.Log)
	return nil
}
