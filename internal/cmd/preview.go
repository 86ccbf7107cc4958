package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oarkflow/mailmerge/internal/contacts"
	"github.com/oarkflow/mailmerge/internal/mailer"
	"github.com/oarkflow/mailmerge/internal/pipeline"
)

func newPreviewCmd(g *globalOptions) *cobra.Command {
	f := &jobFlags{}
	var (
		raw      bool
		showHTML bool
	)

	previewCmd := &cobra.Command{
		Use:   "preview [row]",
		Short: "Render the message for one contact",
		Long: `Render the message for one contact and print it. Nothing is sent.

Rows are counted from 0, like --from-row. Without a row the first contact
that would be sent is shown.

Use --raw to print the complete MIME message.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			job, err := loadJob(cmd, g, f)
			if err != nil {
				return err
			}
			job.DryRun = true

			p, err := pipeline.New(ctx, pipeline.OptionsFromJob(job))
			if err != nil {
				return fmt.Errorf("preview failed: %w", err)
			}

			rec, err := pickRecord(p.Book(), job.FromRow, args)
			if err != nil {
				return err
			}

			msg, err := p.Message(rec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if raw {
				return mailer.NewDryRunSender(p.SMTP(), out).Send(ctx, msg)
			}

			fmt.Fprintf(out, "Row:     %d\n", rec.Row)
			fmt.Fprintf(out, "From:    %s\n", p.SMTP().From())
			if msg.ToName != "" {
				fmt.Fprintf(out, "To:      %s <%s>\n", msg.ToName, msg.To)
			} else {
				fmt.Fprintf(out, "To:      %s\n", msg.To)
			}
			fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
			if msg.Attachment != nil {
				fmt.Fprintf(out, "Attach:  %s (%s, %d bytes)\n", msg.Attachment.Name, msg.Attachment.ContentType, len(msg.Attachment.Data))
			}
			fmt.Fprintln(out)
			if showHTML {
				fmt.Fprintln(out, msg.HTML)
			} else {
				fmt.Fprintln(out, msg.Text)
			}
			return nil
		},
	}

	bindInputFlags(previewCmd, f)
	previewCmd.Flags().BoolVar(&raw, "raw", false, "print the complete MIME message")
	previewCmd.Flags().BoolVar(&showHTML, "show-html", false, "print the HTML body instead of the plain text")

	return previewCmd
}

// pickRecord returns the row named in args, or the first contact at or
// after fromRow that has not been sent or skipped
func pickRecord(book *contacts.Book, fromRow int, args []string) (contacts.Record, error) {
	if len(book.Records) == 0 {
		return contacts.Record{}, fmt.Errorf("the contact file has no rows")
	}

	if len(args) == 1 {
		row, err := strconv.Atoi(args[0])
		if err != nil || row < 0 {
			return contacts.Record{}, fmt.Errorf("invalid row %q", args[0])
		}
		if row >= len(book.Records) {
			return contacts.Record{}, fmt.Errorf("row %d out of range, the contact file has %d rows", row, len(book.Records))
		}
		return book.Records[row], nil
	}

	for _, rec := range book.Records {
		if rec.Row >= fromRow && !rec.Status().Done() {
			return rec, nil
		}
	}
	return contacts.Record{}, fmt.Errorf("no pending contacts from row %d", fromRow)
}
