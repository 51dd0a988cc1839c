package supervision

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
)

// Delimiter separates fields in the supervision file. Free text routinely
// contains commas, so the pipe is used instead.
const Delimiter = '|'

// CSVLog appends records to a pipe-delimited file, writing Header first when
// the file is missing or empty. Fields containing the delimiter, quotes or
// newlines are quoted by encoding/csv, so rows stay unambiguous.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog returns a log writing to path. Nothing is touched on disk until the first Append.
func NewCSVLog(path string) (*CSVLog, error) {
	if path == "" {
		return nil, errors.New("NewCSVLog: path is empty")
	}
	return &CSVLog{path: path}, nil
}

func (l *CSVLog) Path() string { return l.path }

// Append writes one row, creating the file and its header on first use.
func (l *CSVLog) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := fileutils.EnsureParentDir(l.path); err != nil {
		return fmt.Errorf("supervision csv: mkdir: %w", err)
	}
	needHeader, err := fileutils.IsEmptyOrMissing(l.path)
	if err != nil {
		return fmt.Errorf("supervision csv: stat: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supervision csv: open: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = Delimiter
	if needHeader {
		if err := w.Write(Header); err != nil {
			_ = f.Close()
			return fmt.Errorf("supervision csv: write header: %w", err)
		}
	}
	if err := w.Write(rec.Row()); err != nil {
		_ = f.Close()
		return fmt.Errorf("supervision csv: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("supervision csv: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("supervision csv: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("supervision csv: close: %w", err)
	}
	return nil
}

// ReadAll loads every data row of a supervision file, skipping the header.
func ReadAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = Delimiter
	r.FieldsPerRecord = len(Header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read supervision file: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}
