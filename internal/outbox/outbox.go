/*
Package outbox appends the outcome of every processed contact to a CSV log.

Rows are flushed as they are written, so an interrupted run keeps every
outcome recorded before the interruption. Each invocation tags its rows
with a run ID.
*/
package outbox

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
)

// Outcome statuses
const (
	StatusSent   = "SENT"
	StatusDryRun = "DRY_RUN"
	StatusError  = "ERROR"
)

// Entry is one row of the outbox log
type Entry struct {
	RunID     string `csv:"run_id"`
	Row       int    `csv:"row"`
	Email     string `csv:"email"`
	Name      string `csv:"name"`
	Label     string `csv:"label"`
	Status    string `csv:"status"`
	Info      string `csv:"info"`
	Timestamp string `csv:"timestamp"`
}

// Log is an append-only outbox file
type Log struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	needHeader bool
	count      int
}

// Open opens the log at path for appending, creating it if needed. The
// header row is written only when the file is new or empty.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat outbox log: %w", err)
	}

	return &Log{
		file:       f,
		path:       path,
		needHeader: info.Size() == 0,
	}, nil
}

// Write appends e to the log. A zero Timestamp is filled with the current
// time.
func (l *Log) Write(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}

	rows := []Entry{e}
	var err error
	if l.needHeader {
		err = gocsv.Marshal(rows, l.file)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, l.file)
	}
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush outbox log: %w", err)
	}

	l.needHeader = false
	l.count++
	return nil
}

// Count returns the number of entries written through l
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the log file path
func (l *Log) Path() string {
	return l.path
}

// Close closes the log file
func (l *Log) Close() error {
	return l.file.Close()
}

// ReadFile returns every entry in the log at path
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	if err := gocsv.UnmarshalFile(f, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse outbox log %s: %w", path, err)
	}
	return entries, nil
}

// Summary counts entries per status for the most recent run in entries
func Summary(entries []Entry) (runID string, counts map[string]int) {
	counts = make(map[string]int)
	if len(entries) == 0 {
		return "", counts
	}

	runID = entries[len(entries)-1].RunID
	for _, e := range entries {
		if e.RunID == runID {
			counts[e.Status]++
		}
	}
	return runID, counts
}
