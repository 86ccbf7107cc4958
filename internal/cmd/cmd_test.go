package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/mailmerge"
	"github.com/oarkflow/mailmerge/internal/config"
	"github.com/oarkflow/mailmerge/internal/outbox"
)

// workspace creates a directory holding a small campaign and makes it the
// working directory
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	for _, key := range []string{
		config.EnvHost, config.EnvPort, config.EnvSSL, config.EnvStartTLS, config.EnvAuth,
		config.EnvUser, config.EnvPass, config.EnvTimeout, config.EnvSenderName, config.EnvSenderEmail,
	} {
		t.Setenv(key, "")
	}

	files := map[string]string{
		"contacts.csv": "email,hotel_name,city,contact_name\n" +
			"a@example.com,Hotel Roma,Roma,Anna\n" +
			"b@example.com,Hotel Bari,Bari,\n",
		"subject.txt":   "Candidatura per {{hotel_name}}",
		"template.html": "<p>Gentile {{contact_name}},</p><p>{{hotel_name}}, {{city}}</p><p>{{sender_name}}</p>",
		".env":          "SENDER_NAME=Gonzalo Medrano\nSENDER_EMAIL=gonzalo@example.com\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var inputArgs = []string{"--csv", "contacts.csv", "--subject", "subject.txt", "--html", "template.html"}

func TestHelpListsFlags(t *testing.T) {
	workspace(t)

	out, err := execute("--help")
	require.NoError(t, err)

	for _, flag := range []string{
		"--csv", "--subject", "--html", "--attachment", "--env", "--sleep", "--dry-run",
		"--max", "--from-row", "--update-contacts", "--log", "--verify-domain", "--config",
	} {
		assert.Contains(t, out, flag)
	}
}

func TestSendDryRun(t *testing.T) {
	dir := workspace(t)

	args := append([]string{"--dry-run", "--sleep", "0", "--verify-domain=false", "--update-contacts"}, inputArgs...)
	out, err := execute(args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Simulated: 2")

	entries, err := outbox.ReadFile(filepath.Join(dir, config.DefaultLogFile))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, outbox.StatusDryRun, entries[0].Status)
	assert.Equal(t, "a@example.com", entries[0].Email)

	data, err := os.ReadFile(filepath.Join(dir, "contacts.csv"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "status")
}

func TestSendRequiresInputs(t *testing.T) {
	workspace(t)

	_, err := execute("--dry-run")
	require.Error(t, err)
	for _, flag := range []string{"--csv", "--subject", "--html"} {
		assert.Contains(t, err.Error(), flag)
	}
}

func TestSendLiveRequiresCredentials(t *testing.T) {
	workspace(t)

	_, err := execute(inputArgs...)
	require.ErrorIs(t, err, config.ErrMissingSettings)
	assert.Contains(t, err.Error(), config.EnvHost)
}

func TestSendWithJobFile(t *testing.T) {
	dir := workspace(t)

	job := `
csv: contacts.csv
subject: subject.txt
html: template.html
dry_run: true
sleep: 0
max: 5
verify_domain: false
log: campaign_log.csv
defaults:
  contact_name: Responsabile delle risorse umane
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultJobFile), []byte(job), 0o644))

	out, err := execute("--max", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulated: 1")

	entries, err := outbox.ReadFile(filepath.Join(dir, "campaign_log.csv"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// resolveJob runs loadJob for a send command parsed from args
func resolveJob(t *testing.T, args ...string) *config.Job {
	t.Helper()

	g := &globalOptions{}
	f := &jobFlags{}
	var job *config.Job
	cmd := &cobra.Command{
		Use: "mailmerge",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			job, err = loadJob(cmd, g, f)
			return err
		},
	}
	cmd.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "", "job file")
	bindInputFlags(cmd, f)
	bindRunFlags(cmd, f)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	require.NotNil(t, job)
	return job
}

func TestFlagsOverrideJobFileWithZeroValues(t *testing.T) {
	dir := workspace(t)

	job := `
csv: contacts.csv
subject: subject.txt
html: template.html
dry_run: true
update_contacts: true
max: 1
from_row: 1
sleep: 5
verify_domain: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultJobFile), []byte(job), 0o644))

	fromFile := resolveJob(t)
	assert.True(t, fromFile.DryRun)
	assert.True(t, fromFile.UpdateContacts)
	assert.Equal(t, 1, fromFile.Max)
	assert.Equal(t, 1, fromFile.FromRow)
	assert.Equal(t, 5, fromFile.SleepSeconds())
	assert.False(t, fromFile.Verify())

	overridden := resolveJob(t,
		"--dry-run=false", "--update-contacts=false", "--max", "0",
		"--from-row", "0", "--sleep", "0", "--verify-domain=true",
	)
	assert.False(t, overridden.DryRun)
	assert.False(t, overridden.UpdateContacts)
	assert.Equal(t, 0, overridden.Max)
	assert.Equal(t, 0, overridden.FromRow)
	assert.Equal(t, 0, overridden.SleepSeconds())
	assert.True(t, overridden.Verify())
	assert.Equal(t, "contacts.csv", overridden.CSV)

	// with dry_run switched off a real run needs credentials
	_, err := execute("--dry-run=false")
	require.ErrorIs(t, err, config.ErrMissingSettings)
}

func TestSendRunsHooks(t *testing.T) {
	dir := workspace(t)

	job := `
csv: contacts.csv
subject: subject.txt
html: template.html
dry_run: true
sleep: 0
verify_domain: false
before:
  - cmd: echo "starting {{csv}}"
    shell: true
    output: true
after:
  - cmd: echo "{{status}} {{sent}}/{{selected}} run={{run_id}}"
    shell: true
    output: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "campaign.yaml"), []byte(job), 0o644))

	out, err := execute("--config", "campaign.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "starting contacts.csv")
	assert.Contains(t, out, "completed 2/2 run=")
}

func TestSendBeforeHookFailureStopsRun(t *testing.T) {
	dir := workspace(t)

	job := `
csv: contacts.csv
subject: subject.txt
html: template.html
dry_run: true
before:
  - cmd: exit 1
    shell: true
    fail_fast: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "campaign.yaml"), []byte(job), 0o644))

	_, err := execute("--config", "campaign.yaml")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultLogFile))
}

func TestMissingJobFile(t *testing.T) {
	workspace(t)

	_, err := execute("--config", "missing.yaml", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestCheck(t *testing.T) {
	workspace(t)

	args := append([]string{"check", "--dry-run", "--verify-domain=false"}, inputArgs...)
	out, err := execute(args...)
	require.NoError(t, err)

	assert.Contains(t, out, "2 rows")
	assert.Contains(t, out, "Pending: 2")
	assert.Contains(t, out, "gonzalo@example.com")
	assert.Contains(t, out, "Ready to send")
}

func TestPreview(t *testing.T) {
	workspace(t)

	out, err := execute(append([]string{"preview", "1"}, inputArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Row:     1")
	assert.Contains(t, out, "To:      b@example.com")
	assert.Contains(t, out, "Subject: Candidatura per Hotel Bari")
	assert.Contains(t, out, "Hotel Bari, Bari")
	assert.NotContains(t, out, "<p>")

	out, err = execute(append([]string{"preview"}, inputArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "To:      Anna <a@example.com>")

	out, err = execute(append([]string{"preview", "0", "--show-html"}, inputArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "<p>Gentile Anna,</p>")

	out, err = execute(append([]string{"preview", "0", "--raw"}, inputArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "multipart/alternative")
	assert.Contains(t, out, "Subject: Candidatura per Hotel Roma")
}

func TestPreviewBadRow(t *testing.T) {
	workspace(t)

	for _, row := range []string{"7", "-1", "x"} {
		_, err := execute(append([]string{"preview", row}, inputArgs...)...)
		assert.Error(t, err, row)
	}
}

func TestInit(t *testing.T) {
	dir := workspace(t)

	out, err := execute("init")
	require.NoError(t, err)
	assert.Contains(t, out, config.DefaultJobFile)

	job, err := config.LoadJob(filepath.Join(dir, config.DefaultJobFile))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSleep, job.SleepSeconds())

	_, err = execute("init")
	require.Error(t, err)

	_, err = execute("init", "--force")
	require.NoError(t, err)

	_, err = execute("init", "--config", "other.yaml")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "other.yaml"))
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mailmerge "+mailmerge.Version))
}

func TestCompletion(t *testing.T) {
	out, err := execute("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "mailmerge")

	_, err = execute("completion", "tcsh")
	require.Error(t, err)
}

func TestCompletionInstall(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	out, err := execute("completion", "install", "fish")
	require.NoError(t, err)

	path := filepath.Join(home, ".config/fish/completions/mailmerge.fish")
	assert.Contains(t, out, path)
	assert.FileExists(t, path)
}
