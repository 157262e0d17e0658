// v0
// internal/alert/alert.go
// Package alert carries operator-facing warnings to the display log and to the
// append-only warning file.
package alert

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"nrgchamp/ecsmonitor/internal/health"
)

type Level int

const (
	Info Level = iota
	Warning
)

func (l Level) String() string {
	if l == Warning {
		return "warning"
	}
	return "info"
}

// Entry is one human-readable alert line.
type Entry struct {
	Level Level
	Text  string
	At    time.Time
}

// FromEvent renders a tracker event. Rotations are informational, misses are warnings.
func FromEvent(ev health.Event) Entry {
	lvl := Warning
	if ev.Kind == health.EventSwitched {
		lvl = Info
	}
	return Entry{Level: lvl, Text: ev.Message(), At: ev.At}
}

type Sink interface {
	Post(e Entry) error
}

// LogSink shows alerts on the structured display log.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Post(e Entry) error {
	if e.Level == Warning {
		s.Log.Warn("alert", "text", e.Text, "at", e.At.Format(time.RFC3339))
	} else {
		s.Log.Info("alert", "text", e.Text, "at", e.At.Format(time.RFC3339))
	}
	return nil
}

// FileLog appends one line per alert to a file. The file is opened per write so it
// can be rotated or removed while the monitor runs.
type FileLog struct {
	mu   sync.Mutex
	path string
}

func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("alert: empty log file path")
	}
	return &FileLog{path: path}, nil
}

func (f *FileLog) Path() string { return f.path }

func (f *FileLog) Post(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	_, werr := fmt.Fprintf(fh, "%s %s\n", e.At.Format(time.RFC3339), e.Text)
	cerr := fh.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", f.path, werr)
	}
	return cerr
}

// Fanout posts each entry to every sink and joins their errors.
type Fanout []Sink

func (fo Fanout) Post(e Entry) error {
	var errs []error
	for _, s := range fo {
		if err := s.Post(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
