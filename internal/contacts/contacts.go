/*
Package contacts reads and rewrites the CSV contact list of a mail merge.

The file must have a header row. Every row becomes a Record keyed by the
header names; the column order of the file is kept so the file can be
written back unchanged apart from the status and sent_at columns.
*/
package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Reserved columns
const (
	ColumnEmail  = "email"
	ColumnStatus = "status"
	ColumnSentAt = "sent_at"
)

// SentAtLayout is the layout of the sent_at column
const SentAtLayout = "2006-01-02 15:04:05"

// ErrMissingColumns is returned when required columns are absent from the header
var ErrMissingColumns = errors.New("missing required columns")

// Status is the delivery status of a contact
type Status string

const (
	StatusPending Status = ""
	StatusSent    Status = "SENT"
	StatusSkip    Status = "SKIP"
	StatusError   Status = "ERROR"
)

// ParseStatus normalizes a status cell
func ParseStatus(s string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

// Done reports whether a contact with this status must not be sent again
func (s Status) Done() bool {
	return s == StatusSent || s == StatusSkip
}

// Record is a single contact row
type Record struct {
	// Row is the zero-based index of the row, header excluded
	Row int

	values map[string]string
}

// NewRecord creates a record from column values
func NewRecord(row int, values map[string]string) Record {
	r := Record{Row: row, values: make(map[string]string, len(values))}
	for k, v := range values {
		r.values[k] = v
	}
	return r
}

// Get returns the trimmed value of a column
func (r Record) Get(column string) string {
	return strings.TrimSpace(r.values[column])
}

// Set sets the value of a column
func (r Record) Set(column, value string) {
	r.values[column] = value
}

// Email returns the email address of the contact
func (r Record) Email() string {
	return r.Get(ColumnEmail)
}

// Status returns the parsed status of the contact
func (r Record) Status() Status {
	return ParseStatus(r.values[ColumnStatus])
}

// MarkSent records a successful send
func (r Record) MarkSent(at time.Time) {
	r.values[ColumnStatus] = string(StatusSent)
	r.values[ColumnSentAt] = at.Format(SentAtLayout)
}

// MarkError records a failed send. sent_at is left untouched.
func (r Record) MarkError() {
	r.values[ColumnStatus] = string(StatusError)
}

// Values returns a copy of the column values
func (r Record) Values() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Book is a loaded contact file
type Book struct {
	// Header lists the columns in file order
	Header []string

	// Records lists the rows in file order
	Records []Record
}

// Load reads a contact file. The email column is always required.
func Load(path string, required ...string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contacts: %w", err)
	}
	defer f.Close()

	book, err := Read(f, required...)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts %s: %w", path, err)
	}
	return book, nil
}

// Read parses contacts from r
func Read(r io.Reader, required ...string) (*Book, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty, a header row is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		header[i] = strings.TrimSpace(name)
	}

	if err := checkColumns(header, append([]string{ColumnEmail}, required...)); err != nil {
		return nil, err
	}

	book := &Book{Header: header}
	for row := 0; ; row++ {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row, err)
		}
		if len(cells) > len(header) {
			return nil, fmt.Errorf("row %d has %d cells, header has %d columns", row, len(cells), len(header))
		}

		values := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(cells) {
				values[column] = cells[i]
			} else {
				values[column] = ""
			}
		}
		book.Records = append(book.Records, Record{Row: row, values: values})
	}

	return book, nil
}

func checkColumns(header, required []string) error {
	var missing []string
	for _, column := range required {
		column = strings.TrimSpace(column)
		if column == "" || slices.Contains(header, column) || slices.Contains(missing, column) {
			continue
		}
		missing = append(missing, column)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (found: %s)", ErrMissingColumns,
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return nil
}

// Count returns the number of records with each status
func (b *Book) Count() map[Status]int {
	counts := make(map[Status]int)
	for _, r := range b.Records {
		counts[r.Status()]++
	}
	return counts
}

// Save writes the book back to path, keeping the column order. The status
// and sent_at columns are appended when the file does not have them.
func (b *Book) Save(path string) error {
	header := slices.Clone(b.Header)
	for _, column := range []string{ColumnStatus, ColumnSentAt} {
		if !slices.Contains(header, column) {
			header = append(header, column)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := b.write(tmp, header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write contacts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write contacts: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	b.Header = header
	return nil
}

func (b *Book) write(w io.Writer, header []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range b.Records {
		for i, column := range header {
			row[i] = r.values[column]
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
