package mailer

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/oarkflow/mailmerge/internal/config"
)

// DryRunSender composes messages without sending them. No network
// connection is ever opened.
type DryRunSender struct {
	config *config.SMTP

	// Out receives the raw MIME message when set
	Out io.Writer

	// Count is the number of messages composed so far
	Count int
}

// NewDryRunSender creates a sender that only composes messages
func NewDryRunSender(cfg *config.SMTP, out io.Writer) *DryRunSender {
	return &DryRunSender{config: cfg, Out: out}
}

// Send composes msg and logs what would have been sent
func (s *DryRunSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := Compose(s.config, msg)
	if err != nil {
		return err
	}

	if s.Out != nil {
		if _, err := m.WriteTo(s.Out); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	s.Count++
	log.Debug("Dry run, message not sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Close is a no-op
func (s *DryRunSender) Close() error {
	return nil
}
