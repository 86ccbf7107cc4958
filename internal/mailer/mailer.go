/*
Package mailer composes merge messages and delivers them over SMTP.

A run uses a single Sender. SMTPSender keeps one authenticated connection
open for the whole batch; DryRunSender composes every message the same way
but never touches the network.
*/
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/oarkflow/mailmerge"
	"github.com/oarkflow/mailmerge/internal/config"
)

// Message is a single merged email
type Message struct {
	To         string
	ToName     string
	Subject    string
	HTML       string
	Text       string
	Attachment *Attachment
}

// Attachment is a file attached to every message of a run
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// LoadAttachment reads an attachment once so every message shares it
func LoadAttachment(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Attachment{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Compose builds the MIME message: a text/plain part with a text/html
// alternative, followed by the attachment when there is one.
func Compose(from *config.SMTP, msg *Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if err := m.FromFormat(from.SenderName, from.SenderEmail); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	if msg.ToName != "" {
		if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, msg.To, err)
		}
	} else if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, msg.To, err)
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetUserAgent("mailmerge " + mailmerge.Version)

	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)

	if a := msg.Attachment; a != nil {
		err := m.AttachReader(a.Name, bytes.NewReader(a.Data),
			mail.WithFileContentType(mail.ContentType(a.ContentType)))
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", a.Name, err)
		}
	}

	return m, nil
}
