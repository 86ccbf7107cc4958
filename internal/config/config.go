/*
Package config provides configuration loading and validation for mailmerge.

Two sources feed a run: the optional YAML job file, which carries defaults
for every command line flag, and the SMTP settings, which come from an env
file and the process environment.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultJobFile is the job file picked up when --config is not given
const DefaultJobFile = ".mailmerge.yaml"

// Default values for a run
const (
	DefaultEnvFile    = ".env"
	DefaultLogFile    = "outbox_log.csv"
	DefaultSleep      = 3
	DefaultDateFormat = "02/01/2006"
	DefaultNameColumn = "contact_name"
)

// Job describes a single mail merge run
type Job struct {
	// CSV is the path to the contact file
	CSV string `yaml:"csv,omitempty"`

	// Subject is the path to the subject template
	Subject string `yaml:"subject,omitempty"`

	// HTML is the path to the body template (.html, or .md for markdown)
	HTML string `yaml:"html,omitempty"`

	// Attachment is an optional file attached to every message
	Attachment string `yaml:"attachment,omitempty"`

	// Env is the path to the env file with SMTP settings
	Env string `yaml:"env,omitempty"`

	// Sleep is the pause between two sends, in seconds
	Sleep *int `yaml:"sleep,omitempty"`

	// Max limits the number of contacts processed (0 means no limit)
	Max int `yaml:"max,omitempty"`

	// FromRow skips the first rows of the contact file
	FromRow int `yaml:"from_row,omitempty"`

	// UpdateContacts writes status and sent_at back into the contact file
	UpdateContacts bool `yaml:"update_contacts,omitempty"`

	// DryRun renders and logs every message without sending
	DryRun bool `yaml:"dry_run,omitempty"`

	// Log is the path of the outbox log
	Log string `yaml:"log,omitempty"`

	// VerifyDomain resolves the domain of every address before sending
	VerifyDomain *bool `yaml:"verify_domain,omitempty"`

	// DateFormat is the Go layout used for the {{today}} field
	DateFormat string `yaml:"date_format,omitempty"`

	// NameColumn holds the recipient display name
	NameColumn string `yaml:"name_column,omitempty"`

	// Label is a template describing a contact in logs
	Label string `yaml:"label,omitempty"`

	// RequiredColumns must be present in the contact file header
	RequiredColumns []string `yaml:"required_columns,omitempty"`

	// Defaults are used for placeholders with an empty value
	Defaults map[string]string `yaml:"defaults,omitempty"`

	// Before hooks run before the contact file is read
	Before []Hook `yaml:"before,omitempty"`

	// After hooks run once the run is over, even when it failed
	After []Hook `yaml:"after,omitempty"`

	// Includes other job files
	Includes []string `yaml:"includes,omitempty"`
}

// Hook is a command run before or after a mail merge
type Hook struct {
	// Command to run
	Cmd string `yaml:"cmd"`

	// Directory to run the command in
	Dir string `yaml:"dir,omitempty"`

	// Environment variables
	Env map[string]string `yaml:"env,omitempty"`

	// Output shows the command output
	Output bool `yaml:"output,omitempty"`

	// If condition; the hook runs when it renders to "true" or "1"
	If string `yaml:"if,omitempty"`

	// FailFast stops on error
	FailFast bool `yaml:"fail_fast,omitempty"`

	// Shell runs command in shell
	Shell bool `yaml:"shell,omitempty"`
}

// DefaultJob returns a job with every default applied
func DefaultJob() *Job {
	verify := true
	sleep := DefaultSleep
	return &Job{
		Env:          DefaultEnvFile,
		Sleep:        &sleep,
		Log:          DefaultLogFile,
		VerifyDomain: &verify,
		DateFormat:   DefaultDateFormat,
		NameColumn:   DefaultNameColumn,
	}
}

// LoadJob loads a job file, resolving its includes
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	job.resolvePaths(baseDir)

	for _, include := range job.Includes {
		includePath := include
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, include)
		}

		// Support glob patterns
		matches, err := filepath.Glob(includePath)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %s: %w", include, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("include %s matched no files", include)
		}

		for _, match := range matches {
			includeJob, err := LoadJob(match)
			if err != nil {
				return nil, fmt.Errorf("failed to load include %s: %w", match, err)
			}

			if err := mergo.Merge(&job, includeJob, mergo.WithAppendSlice, mergo.WithoutDereference); err != nil {
				return nil, fmt.Errorf("failed to merge include %s: %w", match, err)
			}
		}
	}

	return &job, nil
}

// resolvePaths makes relative file paths relative to the job file
func (j *Job) resolvePaths(baseDir string) {
	for _, p := range []*string{&j.CSV, &j.Subject, &j.HTML, &j.Attachment, &j.Env, &j.Log} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// Merge fills every unset field of j from other. Values already set on j
// win, including pointers set to a zero value.
func (j *Job) Merge(other *Job) error {
	if other == nil {
		return nil
	}
	if err := mergo.Merge(j, other, mergo.WithoutDereference); err != nil {
		return fmt.Errorf("failed to merge job settings: %w", err)
	}
	return nil
}

// Verify reports whether domain verification is enabled
func (j *Job) Verify() bool {
	return j.VerifyDomain == nil || *j.VerifyDomain
}

// SleepSeconds returns the pause between two sends
func (j *Job) SleepSeconds() int {
	if j.Sleep == nil {
		return DefaultSleep
	}
	return *j.Sleep
}

// Validate validates the job
func (j *Job) Validate() error {
	var errs []error

	if j.CSV == "" {
		errs = append(errs, errors.New("--csv is required"))
	}
	if j.Subject == "" {
		errs = append(errs, errors.New("--subject is required"))
	}
	if j.HTML == "" {
		errs = append(errs, errors.New("--html is required"))
	}
	if j.Sleep != nil && *j.Sleep < 0 {
		errs = append(errs, fmt.Errorf("sleep must not be negative, got %d", *j.Sleep))
	}
	if j.Max < 0 {
		errs = append(errs, fmt.Errorf("max must not be negative, got %d", j.Max))
	}
	if j.FromRow < 0 {
		errs = append(errs, fmt.Errorf("from_row must not be negative, got %d", j.FromRow))
	}
	if strings.TrimSpace(j.DateFormat) == "" {
		errs = append(errs, errors.New("date_format must not be empty"))
	}

	return errors.Join(errs...)
}

// DefaultTemplate returns the starter job file written by init
func DefaultTemplate() string {
	return `# mailmerge job file
# Every key can be overridden with the matching command line flag.

# Contact list and templates
csv: contacts.csv
subject: subject.txt
html: email_template.html

# Optional file attached to every message
# attachment: cv.pdf

# SMTP settings (SMTP_HOST, SMTP_PORT, SMTP_SSL, SMTP_USER, SMTP_PASS,
# SENDER_NAME, SENDER_EMAIL). Process environment wins over this file.
env: .env

# Seconds to wait between two messages
sleep: 3

# Process at most this many contacts (0 = all)
max: 0

# Skip the first rows of the contact file
from_row: 0

# Write status and sent_at back into the contact file
update_contacts: false

# Outbox log
log: outbox_log.csv

# Resolve the recipient domain before sending
verify_domain: true

# Layout of the {{today}} placeholder (Go reference time)
date_format: "02/01/2006"

# Column holding the recipient display name
name_column: contact_name

# How a contact is described in logs
label: "{{hotel_name}} ({{city}})"

required_columns:
  - email

# Values used when a placeholder is empty
defaults:
  contact_name: Responsabile delle risorse umane

# Commands run around a send. After hooks can use {{run_id}}, {{sent}},
# {{failed}}, {{skipped}}, {{invalid}}, {{selected}} and {{status}}.
# before:
#   - cmd: ./export_contacts.sh
#     fail_fast: true
# after:
#   - cmd: echo "{{sent}} sent, {{failed}} failed"
#     shell: true
#     output: true
`
}
