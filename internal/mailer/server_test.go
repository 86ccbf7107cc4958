package mailer

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/mailmerge/internal/config"
)

const (
	testUser     = "user@example.com"
	testPassword = "secret"
)

// received is a message accepted by the test server
type received struct {
	From string
	To   []string
	Data []byte
}

// backend is an in-memory SMTP backend requiring PLAIN authentication
type backend struct {
	mu       sync.Mutex
	messages []received
	conns    map[string]bool
	reject   map[string]bool
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.Conn().RemoteAddr().String()] = true
	return &session{backend: b}, nil
}

func (b *backend) Messages() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]received, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *backend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

type session struct {
	backend *backend
	authed  bool
	from    string
	to      []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != testUser || password != testPassword {
			return errors.New("invalid username or password")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.backend.reject[to] {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, received{From: s.from, To: s.to, Data: data})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// startServer runs a plain-text SMTP server on a random local port and
// returns settings pointing at it
func startServer(t *testing.T, reject ...string) (*backend, *config.SMTP) {
	t.Helper()

	be := &backend{conns: make(map[string]bool), reject: make(map[string]bool)}
	for _, addr := range reject {
		be.reject[addr] = true
	}

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = 10 << 20
	srv.MaxRecipients = 10

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(l)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	cfg := &config.SMTP{
		Host:        "127.0.0.1",
		Port:        l.Addr().(*net.TCPAddr).Port,
		SSL:         false,
		StartTLS:    config.StartTLSNone,
		Auth:        config.AuthPlain,
		Username:    testUser,
		Password:    testPassword,
		Timeout:     5 * time.Second,
		SenderName:  "Gonzalo Medrano",
		SenderEmail: "gonzalo@example.com",
	}
	return be, cfg
}

// part is a decoded MIME part of a received message
type part struct {
	ContentType string
	Filename    string
	Body        []byte
}

// parsed is a decoded received message
type parsed struct {
	Subject string
	From    []*mail.Address
	To      []*mail.Address
	Parts   []part
}

func parseMessage(t *testing.T, data []byte) parsed {
	t.Helper()

	mr, err := mail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)

	var out parsed
	out.Subject, err = mr.Header.Subject()
	require.NoError(t, err)
	out.From, err = mr.Header.AddressList("From")
	require.NoError(t, err)
	out.To, err = mr.Header.AddressList("To")
	require.NoError(t, err)

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			out.Parts = append(out.Parts, part{ContentType: ct, Body: body})
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			name, _ := h.Filename()
			out.Parts = append(out.Parts, part{ContentType: ct, Filename: name, Body: body})
		}
	}
	return out
}
