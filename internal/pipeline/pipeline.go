/*
Package pipeline provides the mail merge run orchestration for mailmerge.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/oarkflow/mailmerge/internal/config"
	"github.com/oarkflow/mailmerge/internal/contacts"
	"github.com/oarkflow/mailmerge/internal/mailer"
	"github.com/oarkflow/mailmerge/internal/outbox"
	"github.com/oarkflow/mailmerge/internal/tmpl"
)

// Options contains options for a run
type Options struct {
	CSV        string
	Subject    string
	HTML       string
	Attachment string
	Env        string
	Log        string

	// Sleep is the pause between two sends
	Sleep time.Duration

	DryRun         bool
	Max            int
	FromRow        int
	UpdateContacts bool
	VerifyDomain   bool

	DateFormat      string
	NameColumn      string
	Label           string
	RequiredColumns []string
	Defaults        map[string]string

	// DryRunOutput receives the raw MIME of every message in dry-run mode
	DryRunOutput io.Writer
}

// OptionsFromJob converts a merged job into run options
func OptionsFromJob(job *config.Job) Options {
	return Options{
		CSV:             job.CSV,
		Subject:         job.Subject,
		HTML:            job.HTML,
		Attachment:      job.Attachment,
		Env:             job.Env,
		Log:             job.Log,
		Sleep:           time.Duration(job.SleepSeconds()) * time.Second,
		DryRun:          job.DryRun,
		Max:             job.Max,
		FromRow:         job.FromRow,
		UpdateContacts:  job.UpdateContacts,
		VerifyDomain:    job.Verify(),
		DateFormat:      job.DateFormat,
		NameColumn:      job.NameColumn,
		Label:           job.Label,
		RequiredColumns: job.RequiredColumns,
		Defaults:        job.Defaults,
	}
}

// DialFunc opens the sender used for live runs
type DialFunc func(ctx context.Context, cfg *config.SMTP) (mailer.Sender, error)

func dialSMTP(ctx context.Context, cfg *config.SMTP) (mailer.Sender, error) {
	return mailer.Dial(ctx, cfg)
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithDialer replaces the SMTP dialer
func WithDialer(dial DialFunc) Option {
	return func(p *Pipeline) { p.dial = dial }
}

// WithResolver replaces the resolver used to verify recipient domains
func WithResolver(r mailer.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithClock replaces the clock used for {{today}}, sent_at and log timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLookupEnv replaces the process environment lookup
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(p *Pipeline) { p.lookupEnv = lookup }
}

// Pipeline drives a mail merge run
type Pipeline struct {
	options    Options
	smtp       *config.SMTP
	templates  *tmpl.Templates
	book       *contacts.Book
	attachment *mailer.Attachment
	validator  *mailer.Validator
	runID      string

	dial      DialFunc
	resolver  mailer.Resolver
	now       func() time.Time
	lookupEnv func(string) (string, bool)
}

// New loads everything a run needs. Any error here is fatal and happens
// before a single message is sent.
func New(ctx context.Context, opts Options, options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		options: opts,
		dial:    dialSMTP,
		now:     time.Now,
		runID:   uuid.NewString(),
	}
	for _, o := range options {
		o(p)
	}

	if p.options.NameColumn == "" {
		p.options.NameColumn = config.DefaultNameColumn
	}
	if p.options.DateFormat == "" {
		p.options.DateFormat = config.DefaultDateFormat
	}

	smtp, err := config.LoadSMTP(opts.Env, p.lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load SMTP settings: %w", err)
	}
	if err := smtp.Validate(!opts.DryRun); err != nil {
		return nil, fmt.Errorf("invalid SMTP settings: %w", err)
	}
	p.smtp = smtp
	log.Debug("SMTP settings loaded", "source", smtp.Source, "addr", smtp.Addr(), "sender", smtp.From())

	p.templates, err = tmpl.Load(opts.Subject, opts.HTML)
	if err != nil {
		return nil, err
	}

	p.book, err = contacts.Load(opts.CSV, opts.RequiredColumns...)
	if err != nil {
		return nil, err
	}
	log.Debug("Contacts loaded", "file", opts.CSV, "rows", len(p.book.Records), "columns", p.book.Header)

	if opts.Attachment != "" {
		p.attachment, err = mailer.LoadAttachment(opts.Attachment)
		if err != nil {
			return nil, err
		}
		log.Debug("Attachment loaded", "name", p.attachment.Name, "type", p.attachment.ContentType,
			"size", len(p.attachment.Data))
	}

	p.validator = mailer.NewValidator(opts.VerifyDomain)
	if opts.VerifyDomain && p.resolver != nil {
		p.validator.Resolver = p.resolver
	}

	return p, nil
}

// RunID returns the identifier written to every outbox row of this run
func (p *Pipeline) RunID() string {
	return p.runID
}

// Book returns the loaded contacts
func (p *Pipeline) Book() *contacts.Book {
	return p.book
}

// SMTP returns the loaded SMTP settings
func (p *Pipeline) SMTP() *config.SMTP {
	return p.smtp
}

// Run processes the contact list
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	start := p.now()
	stats := &Stats{RunID: p.runID, DryRun: p.options.DryRun}

	out, err := outbox.Open(p.options.Log)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	log.Info("Starting mail merge", "run", p.runID, "contacts", len(p.book.Records), "dry_run", p.options.DryRun)

	changed := false
	selected := p.selectContacts(ctx, out, stats, &changed)
	stats.Selected = len(selected)

	if len(selected) == 0 {
		log.Warn("No contacts to send emails to")
		return stats, p.saveContacts(changed)
	}

	sender, err := p.sender(ctx)
	if err != nil {
		// Nothing can be delivered without a connection
		reason := mailer.Describe(err)
		for _, rec := range selected {
			p.fail(out, rec, reason, stats, &changed)
		}
		stats.Duration = p.now().Sub(start)
		return stats, errors.Join(err, p.saveContacts(changed))
	}

	log.Info("Ready to send", "count", len(selected))

	var interrupted error
	for i, rec := range selected {
		if i > 0 {
			if err := sleep(ctx, p.options.Sleep); err != nil {
				interrupted = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		log.Info("Processing contact", "n", fmt.Sprintf("%d/%d", i+1, len(selected)), "to", rec.Email())
		p.process(ctx, sender, out, rec, stats, &changed)
	}

	if err := sender.Close(); err != nil {
		log.Warn("Failed to close SMTP connection", "error", err)
	}

	stats.Duration = p.now().Sub(start)

	if err := p.saveContacts(changed); err != nil {
		return stats, err
	}

	if interrupted != nil {
		log.Warn("Run interrupted", "processed", stats.Sent+stats.Failed, "selected", stats.Selected)
		return stats, fmt.Errorf("run interrupted: %w", interrupted)
	}

	log.Info("Mail merge completed", "sent", stats.Sent, "failed", stats.Failed,
		"duration", stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// selectContacts applies --from-row, status skipping, address validation
// and --max, in that order
func (p *Pipeline) selectContacts(ctx context.Context, out *outbox.Log, stats *Stats, changed *bool) []contacts.Record {
	var selected []contacts.Record

	for _, rec := range p.book.Records {
		if rec.Row < p.options.FromRow {
			continue
		}

		if status := rec.Status(); status.Done() {
			log.Info("Skipping contact", "email", rec.Email(), "status", status)
			stats.Skipped++
			continue
		}

		if err := p.validator.Valid(ctx, rec.Email()); err != nil {
			log.Error("Invalid email address", "row", rec.Row, "email", rec.Email(), "error", err)
			stats.Invalid++
			p.record(out, rec, outbox.StatusError, mailer.Describe(err))
			if p.updating() {
				rec.MarkError()
				*changed = true
			}
			continue
		}

		selected = append(selected, rec)
		if p.options.Max > 0 && len(selected) >= p.options.Max {
			break
		}
	}

	return selected
}

func (p *Pipeline) sender(ctx context.Context) (mailer.Sender, error) {
	if p.options.DryRun {
		log.Info("Dry run, no email will be sent")
		return mailer.NewDryRunSender(p.smtp, p.options.DryRunOutput), nil
	}
	return p.dial(ctx, p.smtp)
}

// process renders and sends the message for one contact. Failures are
// recorded and never stop the batch.
func (p *Pipeline) process(ctx context.Context, sender mailer.Sender, out *outbox.Log, rec contacts.Record, stats *Stats, changed *bool) {
	msg, err := p.Message(rec)
	if err == nil {
		err = sender.Send(ctx, msg)
	}
	if err != nil {
		reason := mailer.Describe(err)
		log.Error("Failed to send email", "to", rec.Email(), "reason", reason)
		p.fail(out, rec, reason, stats, changed)
		return
	}

	stats.Sent++
	if p.options.DryRun {
		log.Info("Email simulated", "to", rec.Email(), "subject", msg.Subject)
		p.record(out, rec, outbox.StatusDryRun, "dry run, not sent")
		return
	}

	log.Info("Email sent", "to", rec.Email())
	p.record(out, rec, outbox.StatusSent, "sent")
	if p.options.UpdateContacts {
		rec.MarkSent(p.now())
		*changed = true
	}
}

func (p *Pipeline) fail(out *outbox.Log, rec contacts.Record, reason string, stats *Stats, changed *bool) {
	stats.Failed++
	p.record(out, rec, outbox.StatusError, reason)
	if p.updating() {
		rec.MarkError()
		*changed = true
	}
}

// Message renders the message for one contact
func (p *Pipeline) Message(rec contacts.Record) (*mailer.Message, error) {
	c := p.context(rec)

	if missing := p.templates.Unresolved(c); len(missing) > 0 {
		log.Debug("Placeholders without a value", "row", rec.Row, "fields", missing)
	}

	rendered, err := p.templates.Render(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	return &mailer.Message{
		To:         rec.Email(),
		ToName:     rec.Get(p.options.NameColumn),
		Subject:    rendered.Subject,
		HTML:       rendered.HTML,
		Text:       rendered.Text,
		Attachment: p.attachment,
	}, nil
}

func (p *Pipeline) context(rec contacts.Record) *tmpl.Context {
	return tmpl.New(rec.Values(), tmpl.Options{
		SenderName: p.smtp.SenderName,
		Now:        p.now(),
		DateFormat: p.options.DateFormat,
		Defaults:   p.options.Defaults,
	})
}

// label describes a contact in the outbox log
func (p *Pipeline) label(rec contacts.Record) string {
	if p.options.Label == "" {
		return ""
	}
	return strings.Join(strings.Fields(p.context(rec).Apply(p.options.Label)), " ")
}

func (p *Pipeline) record(out *outbox.Log, rec contacts.Record, status, info string) {
	err := out.Write(outbox.Entry{
		RunID:     p.runID,
		Row:       rec.Row,
		Email:     rec.Email(),
		Name:      p.context(rec).Get(p.options.NameColumn),
		Label:     p.label(rec),
		Status:    status,
		Info:      info,
		Timestamp: p.now().Format(time.RFC3339),
	})
	if err != nil {
		log.Error("Failed to write outbox log", "path", out.Path(), "error", err)
	}
}

func (p *Pipeline) updating() bool {
	return p.options.UpdateContacts && !p.options.DryRun
}

func (p *Pipeline) saveContacts(changed bool) error {
	if !changed || !p.updating() {
		return nil
	}
	if err := p.book.Save(p.options.CSV); err != nil {
		return fmt.Errorf("failed to update contacts: %w", err)
	}
	log.Info("Contacts updated", "file", p.options.CSV)
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
