package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingSettings is returned when required SMTP settings are absent
var ErrMissingSettings = errors.New("missing required settings")

// Environment keys read by LoadSMTP
const (
	EnvHost        = "SMTP_HOST"
	EnvPort        = "SMTP_PORT"
	EnvSSL         = "SMTP_SSL"
	EnvStartTLS    = "SMTP_STARTTLS"
	EnvAuth        = "SMTP_AUTH"
	EnvUser        = "SMTP_USER"
	EnvPass        = "SMTP_PASS"
	EnvTimeout     = "SMTP_TIMEOUT"
	EnvSenderName  = "SENDER_NAME"
	EnvSenderEmail = "SENDER_EMAIL"
)

var envKeys = []string{
	EnvHost, EnvPort, EnvSSL, EnvStartTLS, EnvAuth, EnvUser,
	EnvPass, EnvTimeout, EnvSenderName, EnvSenderEmail,
}

// StartTLS policies used when SSL is off
const (
	StartTLSMandatory     = "mandatory"
	StartTLSOpportunistic = "opportunistic"
	StartTLSNone          = "none"
)

// Authentication mechanisms
const (
	AuthPlain   = "plain"
	AuthLogin   = "login"
	AuthCRAMMD5 = "cram-md5"
)

// SMTP holds the SMTP endpoint, credentials and sender identity
type SMTP struct {
	Host        string
	Port        int
	SSL         bool
	StartTLS    string
	Auth        string
	Username    string
	Password    string
	Timeout     time.Duration
	SenderName  string
	SenderEmail string

	// Source describes where the settings came from, for logging
	Source string
}

// LoadSMTP reads SMTP settings from the env file at envPath and the
// process environment. Process environment values win over the file.
// A missing env file is not an error. lookup defaults to os.LookupEnv.
func LoadSMTP(envPath string, lookup func(string) (string, bool)) (*SMTP, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	values := make(map[string]string)
	var sources []string

	if envPath != "" {
		fileValues, err := godotenv.Read(envPath)
		switch {
		case err == nil:
			for k, v := range fileValues {
				values[k] = strings.TrimSpace(v)
			}
			sources = append(sources, envPath)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", envPath, err)
		}
	}

	fromEnv := false
	for _, key := range envKeys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			values[key] = strings.TrimSpace(v)
			fromEnv = true
		}
	}
	if fromEnv {
		sources = append(sources, "environment")
	}

	cfg := &SMTP{
		Host:        values[EnvHost],
		Username:    values[EnvUser],
		Password:    values[EnvPass],
		SenderName:  values[EnvSenderName],
		SenderEmail: values[EnvSenderEmail],
		StartTLS:    StartTLSMandatory,
		Auth:        AuthPlain,
		Timeout:     30 * time.Second,
		SSL:         true,
		Source:      strings.Join(sources, " + "),
	}

	if v := values[EnvSSL]; v != "" {
		ssl, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvSSL, v, err)
		}
		cfg.SSL = ssl
	}

	if v := values[EnvPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Port = port
	} else if cfg.SSL {
		cfg.Port = 465
	} else {
		cfg.Port = 587
	}

	if v := values[EnvStartTLS]; v != "" {
		switch p := strings.ToLower(v); p {
		case StartTLSMandatory, StartTLSOpportunistic, StartTLSNone:
			cfg.StartTLS = p
		default:
			return nil, fmt.Errorf("invalid %s %q (want mandatory, opportunistic or none)", EnvStartTLS, v)
		}
	}

	if v := values[EnvAuth]; v != "" {
		switch a := strings.ToLower(v); a {
		case AuthPlain, AuthLogin, AuthCRAMMD5:
			cfg.Auth = a
		default:
			return nil, fmt.Errorf("invalid %s %q (want plain, login or cram-md5)", EnvAuth, v)
		}
	}

	if v := values[EnvTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid %s %q", EnvTimeout, v)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

// Validate checks that the settings needed for a run are present.
// Credentials and host are only needed when messages are really sent.
func (c *SMTP) Validate(live bool) error {
	required := map[string]string{
		EnvSenderName:  c.SenderName,
		EnvSenderEmail: c.SenderEmail,
	}
	if live {
		required[EnvHost] = c.Host
		required[EnvUser] = c.Username
		required[EnvPass] = c.Password
	}

	var missing []string
	for key, value := range required {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingSettings, strings.Join(missing, ", "))
	}

	if _, err := mail.ParseAddress(c.SenderEmail); err != nil {
		return fmt.Errorf("invalid %s %q: %w", EnvSenderEmail, c.SenderEmail, err)
	}

	return nil
}

// Addr returns the host:port of the SMTP endpoint
func (c *SMTP) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// From returns the formatted sender address
func (c *SMTP) From() string {
	return (&mail.Address{Name: c.SenderName, Address: c.SenderEmail}).String()
}
