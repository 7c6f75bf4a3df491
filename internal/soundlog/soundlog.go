// Package soundlog writes an optional CSV log of per-sample group detections
// and event boundaries, one timestamped file per process run. It exists for
// offline tuning of scoring thresholds: graph the detections, pick better
// values, restart.
package soundlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// header is the CSV column layout. One row per reported group score and one
// row per event boundary.
var header = []string{"timestamp", "source", "group", "score", "class", "class_score", "event"}

// Logger appends detection rows to a single CSV file. The zero value is a
// disabled logger that discards everything; use [New] for an active one.
// Safe for concurrent use by multiple source workers.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// New creates the log directory if needed and opens a timestamped CSV file
// inside it, writing the header row.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("soundlog: create dir %q: %w", dir, err)
	}
	name := time.Now().Format("2006-01-02_15-04-05") + "_sound_log.csv"
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("soundlog: create %q: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("soundlog: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("soundlog: flush header: %w", err)
	}
	return &Logger{f: f, w: w, path: path}, nil
}

// Path returns the log file path, or "" for a disabled logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Detection records one reported group score for one sample.
func (l *Logger) Detection(at time.Time, source, group string, score float64, topClass string, topScore float64) error {
	return l.write([]string{
		at.Format(time.RFC3339),
		source,
		group,
		formatScore(score),
		topClass,
		formatScore(topScore),
		"",
	})
}

// Event records one event boundary ("start" or "end").
func (l *Logger) Event(at time.Time, source, group string, score float64, eventType string) error {
	return l.write([]string{
		at.Format(time.RFC3339),
		source,
		group,
		formatScore(score),
		"",
		"",
		eventType,
	})
}

// Close flushes and closes the underlying file. Safe on a disabled logger.
func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	flushErr := l.w.Error()
	closeErr := l.f.Close()
	l.f = nil
	if flushErr != nil {
		return fmt.Errorf("soundlog: flush: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("soundlog: close: %w", closeErr)
	}
	return nil
}

// write appends one row, flushing immediately so the log survives a crash.
func (l *Logger) write(row []string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("soundlog: write row: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("soundlog: flush: %w", err)
	}
	return nil
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
