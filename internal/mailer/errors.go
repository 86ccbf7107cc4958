package mailer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"

	"github.com/wneessen/go-mail"
)

// ErrInvalidAddress is returned for recipient addresses that cannot be used
var ErrInvalidAddress = errors.New("invalid email address")

// Describe returns a short reason for a failed send, suitable for the
// outbox log
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		sendErr *mail.SendError
		dnsErr  *net.DNSError
		opErr   *net.OpError
		recErr  tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
		authErr x509.UnknownAuthorityError
	)

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, ErrInvalidAddress):
		return "invalid address: " + msg
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted: " + msg
	case errors.As(err, &sendErr):
		kind := "permanent"
		if sendErr.IsTemp() {
			kind = "temporary"
		}
		reason := "SMTP error"
		switch sendErr.Reason {
		case mail.ErrSMTPRcptTo:
			reason = "recipient refused"
		case mail.ErrSMTPMailFrom:
			reason = "sender refused"
		}
		return reason + " (" + kind + "): " + msg
	case strings.Contains(lower, "auth"):
		return "authentication failed: " + msg
	case errors.As(err, &recErr), errors.As(err, &certErr), errors.As(err, &authErr),
		strings.Contains(lower, "tls"):
		return "TLS error: " + msg
	case errors.As(err, &dnsErr):
		return "DNS error: " + msg
	case errors.As(err, &opErr):
		return "connection error: " + msg
	default:
		return "SMTP error: " + msg
	}
}
