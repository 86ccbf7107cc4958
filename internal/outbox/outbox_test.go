package outbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCreatesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox_log.csv")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(Entry{
		RunID: "run-1", Row: 1, Email: "a@example.com", Name: "Anna",
		Label: "Hotel Roma (Roma)", Status: StatusSent, Timestamp: "2024-05-01T10:00:00Z",
	}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(Entry{
		RunID: "run-2", Row: 2, Email: "b@example.com", Status: StatusError,
		Info: "recipient refused, mailbox unavailable", Timestamp: "2024-05-02T10:00:00Z",
	}))
	assert.Equal(t, 1, l.Count())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "run_id,row,email,name,label,status,info,timestamp", lines[0])
	assert.Equal(t, "run-1,1,a@example.com,Anna,Hotel Roma (Roma),SENT,,2024-05-01T10:00:00Z", lines[1])
	assert.Equal(t, `run-2,2,b@example.com,,,ERROR,"recipient refused, mailbox unavailable",2024-05-02T10:00:00Z`, lines[2])
}

func TestWriteFillsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(Entry{RunID: "r", Row: 1, Email: "a@example.com", Status: StatusDryRun}))

	// readable while the log is still open
	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, StatusDryRun, entries[0].Status)
	assert.Equal(t, path, l.Path())
}

func TestOpenEmptyExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(Entry{RunID: "r", Row: 3, Email: "c@example.com", Status: StatusSent}))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "run_id,row,email"))
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "log.csv"))
	require.Error(t, err)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	runID, counts := Summary(nil)
	assert.Empty(t, runID)
	assert.Empty(t, counts)

	runID, counts = Summary([]Entry{
		{RunID: "old", Status: StatusSent},
		{RunID: "new", Status: StatusSent},
		{RunID: "new", Status: StatusError},
		{RunID: "new", Status: StatusSent},
	})
	assert.Equal(t, "new", runID)
	assert.Equal(t, map[string]int{StatusSent: 2, StatusError: 1}, counts)
}
