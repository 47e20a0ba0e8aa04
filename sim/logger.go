package sim

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// RunLogger writes one CSV row per call, for offline plotting of a filter
// run against truth.
type RunLogger struct {
	f   *os.File
	fmt string
	n   int
}

// NewRunLogger creates fn and writes the header row.
func NewRunLogger(fn string, headers ...string) (*RunLogger, error) {
	f, err := os.Create(fn)
	if err != nil {
		return nil, errors.Wrap(err, "sim: creating run log")
	}
	if _, err := fmt.Fprintln(f, strings.Join(headers, ",")); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "sim: writing run log header")
	}
	s := strings.Repeat("%f,", len(headers))
	return &RunLogger{f: f, fmt: s[:len(s)-1] + "\n", n: len(headers)}, nil
}

// Log writes one row.  The value count must match the header count.
func (l *RunLogger) Log(v ...interface{}) error {
	if len(v) != l.n {
		return errors.Errorf("sim: run log row has %d values, want %d", len(v), l.n)
	}
	_, err := fmt.Fprintf(l.f, l.fmt, v...)
	return errors.Wrap(err, "sim: writing run log row")
}

// Close flushes and closes the log file.
func (l *RunLogger) Close() error {
	return l.f.Close()
}
