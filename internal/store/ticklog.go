package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lazypower/vivarium/internal/life"
)

// TickLogFile is the tick log file name inside the data directory.
const TickLogFile = "ticks.jsonl"

// TickRecord is one line of the tick log.
type TickRecord struct {
	Tick          uint64      `json:"tick"`
	At            time.Time   `json:"at"`
	WallAge       float64     `json:"wall_age"`
	SubjectiveAge float64     `json:"subjective_age"`
	Dilation      float64     `json:"dilation"`
	Vitals        life.Vitals `json:"vitals"`
	Condition     string      `json:"condition"`
	Stimuli       int         `json:"stimuli"`
	Memories      int         `json:"memories"`
	Archived      int         `json:"archived"`
	Errors        int         `json:"errors"`
}

// TickLog appends tick records to a JSONL file through a buffer. Nothing
// reaches the file until Flush.
type TickLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// OpenTickLog opens path for appending, creating it if needed.
func OpenTickLog(path string) (*TickLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create tick log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open tick log: %w", err)
	}
	return &TickLog{f: f, w: bufio.NewWriterSize(f, 64*1024), path: path}, nil
}

// Path returns the file path.
func (l *TickLog) Path() string { return l.path }

// Append buffers one record.
func (l *TickLog) Append(rec TickRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tick %d: %w", rec.Tick, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return os.ErrClosed
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("buffer tick %d: %w", rec.Tick, err)
	}
	return nil
}

// Buffered returns the number of bytes waiting for a flush.
func (l *TickLog) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Buffered()
}

// Flush writes buffered records to the file and syncs it.
func (l *TickLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return os.ErrClosed
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush tick log: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync tick log: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	ferr := l.w.Flush()
	cerr := l.f.Close()
	l.f = nil
	if ferr != nil {
		return fmt.Errorf("flush tick log: %w", ferr)
	}
	return cerr
}

// ReadTicks reads the tick log at path and returns the last n records
// (all when n <= 0). Malformed lines are skipped.
func ReadTicks(path string, n int) ([]TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick log: %w", err)
	}
	defer f.Close()
	return ParseTicks(f, n)
}

// ParseTicks parses JSONL tick records from r, keeping the last n.
func ParseTicks(r io.Reader, n int) ([]TickRecord, error) {
	var out []TickRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec TickRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines
		}
		out = append(out, rec)
		if n > 0 && len(out) > 2*n {
			out = append(out[:0], out[len(out)-n:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan tick log: %w", err)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
