// Package ledger implements the append-only CSV attendance log.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sink"
)

// DefaultPath matches the layout used by existing attendance logs.
const DefaultPath = "logs/attendance.csv"

// CSV appends one row per entry: identity, timestamp, label.
type CSV struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

// OpenCSV opens path for appending, creating it and its directory if needed.
func OpenCSV(path string) (*CSV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return &CSV{path: path, f: f, w: csv.NewWriter(f)}, nil
}

// Path returns the file being written.
func (c *CSV) Path() string { return c.path }

// Append writes and flushes a single row.
func (c *CSV) Append(ctx context.Context, e sink.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.f == nil {
		return os.ErrClosed
	}
	if err := c.w.Write([]string{string(e.Identity), e.At.Format(sink.TimestampLayout), e.Label}); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.f.Close())
	c.f = nil
	return err
}

// ReadCSV parses a ledger file. Timestamps are interpreted in loc.
func ReadCSV(path string, loc *time.Location) ([]sink.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	var out []sink.Entry
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		at, err := time.ParseInLocation(sink.TimestampLayout, rec[1], loc)
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		out = append(out, sink.Entry{Identity: presence.Identity(rec[0]), At: at, Label: rec[2]})
	}
}

// Truncate empties the ledger file if it exists.
func Truncate(path string) error {
	err := os.Truncate(path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
