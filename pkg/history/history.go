// Package history provides the append-only log of goals, decisions, and
// outcomes, persisted as JSONL in the repository state directory.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge/pkg/logx"
)

// Kind classifies a history entry.
type Kind string

const (
	KindCommand Kind = "command" // an issued goal or user command
	KindThought Kind = "thought" // a planning or retry decision
	KindResult  Kind = "result"  // an attempt or step outcome
)

// Entry is one immutable history record.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEntry builds an entry with a fresh ID and timestamp. The payload must
// be JSON-marshalable.
func NewEntry(kind Kind, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal history payload: %w", err)
	}
	return Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   raw,
	}, nil
}

const logFilename = "history.jsonl"

// Log is the append-only history writer and reader. Appends sync to disk
// before returning. Entries are never rewritten.
type Log struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	logger *logx.Logger
}

// Open opens (or creates) the history log under the state directory.
func Open(stateDir string) (*Log, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(stateDir, logFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history log %s: %w", path, err)
	}

	return &Log{
		path:   path,
		file:   file,
		logger: logx.NewLogger("history"),
	}, nil
}

// Append durably persists one entry. On failure the error is logged and
// returned; callers treat it as "no history for this step" and continue.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	jsonData, err := json.Marshal(e)
	if err != nil {
		return logx.Wrap(err, "failed to serialize history entry")
	}

	if _, err := l.file.Write(append(jsonData, '\n')); err != nil {
		return logx.Wrap(err, "failed to write history entry")
	}

	// Durable before return.
	if err := l.file.Sync(); err != nil {
		return logx.Wrap(err, "failed to sync history log")
	}

	return nil
}

// Cursor is a finite, most-recent-first iterator over history entries.
// Each call to Recent returns a fresh cursor, so iteration is restartable.
type Cursor struct {
	entries []Entry // already filtered, newest first
	pos     int
}

// Next returns the next entry, or false when exhausted.
func (c *Cursor) Next() (Entry, bool) {
	if c.pos >= len(c.entries) {
		return Entry{}, false
	}
	e := c.entries[c.pos]
	c.pos++
	return e, true
}

// Recent returns a cursor over up to n entries, newest first, optionally
// filtered by kind. Unparsable lines are skipped with a warning.
func (l *Log) Recent(n int, kinds ...Kind) (*Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Cursor{}, nil
		}
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer file.Close()

	kindSet := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var all []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn("skipping unparsable history line: %v", err)
			continue
		}
		if len(kindSet) > 0 && !kindSet[e.Kind] {
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan history log: %w", err)
	}

	// Newest first, capped at n.
	var selected []Entry
	for i := len(all) - 1; i >= 0 && len(selected) < n; i-- {
		selected = append(selected, all[i])
	}

	return &Cursor{entries: selected}, nil
}

// Path returns the on-disk location of the log file.
func (l *Log) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close history log: %w", err)
	}
	return nil
}
