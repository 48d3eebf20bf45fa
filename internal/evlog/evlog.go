// Package evlog implements the persistent, size- and age-bounded,
// newest-first event log (C11). It is off the hot path: every emit
// rewrites the backing file.
//
// No direct teacher grounding file exists for this component (the teacher
// uses zerolog exclusively for process logs, not a bounded on-disk ring);
// its shape is original to this repo's own spec, built on the stdlib
// (os/bufio) since no example repo carries a bounded-log library and
// zerolog itself has no notion of "prepend and truncate a file" (see
// DESIGN.md).
package evlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Log is a bounded, newest-first append log backed by a single file.
type Log struct {
	mu         sync.Mutex
	path       string
	maxLines   int
	maxAge     time.Duration
	lines      []string // newest first
	emitsSince int       // emits since last GC pass
}

// Open loads an existing log file (if present), seeding the in-memory
// buffer with its first maxLines lines (the newest, since the file is
// newest-first), and returns a ready-to-use Log.
func Open(path string, maxLines int, maxAgeDays int) (*Log, error) {
	l := &Log{path: path, maxLines: maxLines, maxAge: time.Duration(maxAgeDays) * 24 * time.Hour}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file %s: %w", path, err)
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	l.lines = lines
	return l, nil
}

// Emit prepends a formatted line stamped with the current time, truncates
// to maxLines, and every 100 emits also discards lines older than maxAge.
func (l *Log) Emit(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	line := fmt.Sprintf("%s %s", now.Format(timestampLayout), message)
	l.lines = append([]string{line}, l.lines...)
	if len(l.lines) > l.maxLines {
		l.lines = l.lines[:l.maxLines]
	}

	l.emitsSince++
	if l.emitsSince >= 100 {
		l.gc(now)
		l.emitsSince = 0
	}

	return l.flush()
}

// gc drops any line whose parsed leading timestamp is older than maxAge.
// Lines with an unparseable prefix are kept (matching the teacher's
// "best-effort timestamp parsing, never drop on ambiguity" stance).
func (l *Log) gc(now time.Time) {
	if l.maxAge <= 0 {
		return
	}
	kept := l.lines[:0:0]
	for _, line := range l.lines {
		if len(line) < len(timestampLayout) {
			kept = append(kept, line)
			continue
		}
		ts, err := time.Parse(timestampLayout, line[:len(timestampLayout)])
		if err != nil {
			kept = append(kept, line)
			continue
		}
		if now.Sub(ts) <= l.maxAge {
			kept = append(kept, line)
		}
	}
	l.lines = kept
}

func (l *Log) flush() error {
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("write log file %s: %w", l.path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range l.lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	return w.Flush()
}

// Lines returns a copy of the current in-memory buffer, newest first.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Len reports the number of lines currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}
