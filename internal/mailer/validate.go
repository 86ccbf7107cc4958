package mailer

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"strings"
)

var addressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Validator checks recipient addresses before anything is sent
type Validator struct {
	// Resolver verifies that the domain exists; nil skips the check
	Resolver Resolver
}

// NewValidator creates a validator. With verifyDomain the domain of each
// address must resolve.
func NewValidator(verifyDomain bool) *Validator {
	v := &Validator{}
	if verifyDomain {
		v.Resolver = net.DefaultResolver
	}
	return v
}

// Valid returns nil when address can be used as a recipient
func (v *Validator) Valid(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if !addressRe.MatchString(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}

	if v.Resolver == nil {
		return nil
	}

	domain := address[strings.LastIndex(address, "@")+1:]
	if _, err := v.Resolver.LookupHost(ctx, domain); err != nil {
		return fmt.Errorf("%w: domain %s does not resolve: %v", ErrInvalidAddress, domain, err)
	}
	return nil
}
