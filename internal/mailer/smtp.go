package mailer

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/wneessen/go-mail"

	"github.com/oarkflow/mailmerge/internal/config"
)

// SMTPSender sends every message of a run over one SMTP connection
type SMTPSender struct {
	config *config.SMTP
	client *mail.Client
}

// Dial opens and authenticates the SMTP connection. With SSL the
// connection uses implicit TLS; otherwise STARTTLS is negotiated according
// to the configured policy.
func Dial(ctx context.Context, cfg *config.SMTP) (*SMTPSender, error) {
	client, err := mail.NewClient(cfg.Host, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	log.Debug("Connecting to SMTP server", "addr", cfg.Addr(), "ssl", cfg.SSL, "starttls", cfg.StartTLS)
	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr(), err)
	}
	log.Info("Connected to SMTP server", "addr", cfg.Addr(), "user", cfg.Username)

	return &SMTPSender{
		config: cfg,
		client: client,
	}, nil
}

func clientOptions(cfg *config.SMTP) []mail.Option {
	opts := []mail.Option{
		mail.WithTimeout(cfg.Timeout),
	}

	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		switch cfg.StartTLS {
		case config.StartTLSNone:
			opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
		case config.StartTLSOpportunistic:
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		default:
			opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		}
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(authType(cfg.Auth)),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	// The port goes last so no TLS option can reset it
	return append(opts, mail.WithPort(cfg.Port))
}

func authType(auth string) mail.SMTPAuthType {
	switch auth {
	case config.AuthLogin:
		return mail.SMTPAuthLogin
	case config.AuthCRAMMD5:
		return mail.SMTPAuthCramMD5
	default:
		return mail.SMTPAuthPlain
	}
}

// Send composes msg and transmits it on the open connection
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := Compose(s.config, msg)
	if err != nil {
		return err
	}

	if err := s.client.Send(m); err != nil {
		return fmt.Errorf("failed to send to %s: %w", msg.To, err)
	}
	return nil
}

// Close ends the SMTP session
func (s *SMTPSender) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close SMTP connection: %w", err)
	}
	return nil
}
