// Package logsink stores the per-invocation log lines the scheduler reads
// back. Every sink is append-only and keyed by the invocation's log id.
package logsink

import (
	"bufio"
	"fmt"
	"jobexecutor/internal/apperrors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink is an append-only writer keyed by log id.
type Sink interface {
	Append(logID int64, line string) error
}

// Page is a window of log lines starting at FromLine (1-based).
type Page struct {
	FromLine int      `json:"fromLineNum"`
	ToLine   int      `json:"toLineNum"`
	Lines    []string `json:"lines"`
}

const timeLayout = "2006-01-02 15:04:05"

// FileSink writes one file per log id under a base directory, grouped by day.
type FileSink struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	paths map[int64]string
}

// NewFileSink creates a file sink rooted at dir. The directory is created
// on first use.
func NewFileSink(dir string) *FileSink {
	return &FileSink{
		dir:   dir,
		now:   time.Now,
		paths: make(map[int64]string),
	}
}

// Append writes a timestamped line to the log file for logID.
func (s *FileSink) Append(logID int64, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	path, err := s.pathLocked(logID, now)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.Internal("logsink.append", err)
	}
	defer f.Close()

	line = strings.TrimRight(line, "\r\n")
	if _, err := fmt.Fprintf(f, "%s %s\n", now.Format(timeLayout), line); err != nil {
		return apperrors.Internal("logsink.append", err)
	}
	return nil
}

// Read returns the lines of logID starting at fromLine (1-based). A log id
// that was never written is NotFound.
func (s *FileSink) Read(logID int64, fromLine int) (*Page, error) {
	if fromLine < 1 {
		fromLine = 1
	}

	s.mu.Lock()
	path, ok := s.paths[logID]
	s.mu.Unlock()
	if !ok {
		found, err := s.find(logID)
		if err != nil {
			return nil, err
		}
		path = found
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("log", strconv.FormatInt(logID, 10))
		}
		return nil, apperrors.Internal("logsink.read", err)
	}
	defer f.Close()

	page := &Page{FromLine: fromLine, ToLine: fromLine - 1, Lines: []string{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		if n < fromLine {
			continue
		}
		page.Lines = append(page.Lines, scanner.Text())
		page.ToLine = n
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Internal("logsink.read", err)
	}
	return page, nil
}

func (s *FileSink) pathLocked(logID int64, now time.Time) (string, error) {
	if path, ok := s.paths[logID]; ok {
		return path, nil
	}
	day := filepath.Join(s.dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", apperrors.Internal("logsink.mkdir", err)
	}
	path := filepath.Join(day, strconv.FormatInt(logID, 10)+".log")
	s.paths[logID] = path
	return path, nil
}

// find locates a log file written by an earlier process.
func (s *FileSink) find(logID int64) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", strconv.FormatInt(logID, 10)+".log"))
	if err != nil {
		return "", apperrors.Internal("logsink.find", err)
	}
	if len(matches) == 0 {
		return "", apperrors.NotFound("log", strconv.FormatInt(logID, 10))
	}
	// Day directories sort chronologically; the newest wins.
	return matches[len(matches)-1], nil
}

// MemorySink keeps lines in memory. Used by the one-shot CLI and tests.
type MemorySink struct {
	mu    sync.Mutex
	lines map[int64][]string
	echo  func(logID int64, line string)
}

// NewMemorySink creates an empty in-memory sink. echo, if non-nil, is
// called for every appended line.
func NewMemorySink(echo func(logID int64, line string)) *MemorySink {
	return &MemorySink{lines: make(map[int64][]string), echo: echo}
}

func (s *MemorySink) Append(logID int64, line string) error {
	s.mu.Lock()
	s.lines[logID] = append(s.lines[logID], line)
	s.mu.Unlock()
	if s.echo != nil {
		s.echo(logID, line)
	}
	return nil
}

// Lines returns a copy of the lines appended for logID.
func (s *MemorySink) Lines(logID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines[logID]))
	copy(out, s.lines[logID])
	return out
}

// Read returns lines of logID from fromLine (1-based).
func (s *MemorySink) Read(logID int64, fromLine int) (*Page, error) {
	if fromLine < 1 {
		fromLine = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, ok := s.lines[logID]
	if !ok {
		return nil, apperrors.NotFound("log", strconv.FormatInt(logID, 10))
	}
	page := &Page{FromLine: fromLine, ToLine: fromLine - 1, Lines: []string{}}
	for i := fromLine - 1; i < len(lines); i++ {
		page.Lines = append(page.Lines, lines[i])
		page.ToLine = i + 1
	}
	return page, nil
}
