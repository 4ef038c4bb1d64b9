// Package journal keeps a durable, append-only audit trail of analyses:
// one JSON line per terminal state, fsynced before Append returns.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one journal line.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	AnalysisID  string    `json:"analysis_id,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Tenant      string    `json:"tenant,omitempty"`
	State       string    `json:"state"`
	Risk        string    `json:"risk,omitempty"`
	FailedCount int       `json:"failed_count"`
	Samples     int       `json:"samples"`
	Error       string    `json:"error,omitempty"`
}

// Journal is a daily append-only file.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
	now  func() time.Time
}

// Open creates or opens today's journal file under dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("analyses-%s.jsonl", time.Now().Format("20060102")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &Journal{file: file, path: path, now: time.Now}, nil
}

// Path returns the file being written.
func (j *Journal) Path() string { return j.path }

// Append writes e with fsync. A zero Timestamp is set to now.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// Replay reads every well-formed entry of a journal file. A missing file
// yields no entries.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // torn or malformed line
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Rotate closes j and opens a fresh file for the current day, returning
// the old path.
func Rotate(dir string, j *Journal) (*Journal, string, error) {
	oldPath := j.Path()
	if err := j.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close current journal: %w", err)
	}
	next, err := Open(dir)
	if err != nil {
		return nil, "", err
	}
	return next, oldPath, nil
}
