package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileLog persists the discovery log as a single JSON array on disk.
// Safe for concurrent use within one process.
//
// A missing or unparseable file reads as an empty log. Writes replace the
// file atomically via a temp file and rename.
type FileLog struct {
	mu   sync.Mutex
	path string
}

var _ Log = (*FileLog)(nil)

// NewFileLog creates a FileLog stored at path. The file is created lazily on
// the first write.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Append implements [Log].
func (l *FileLog) Append(_ context.Context, c Clue) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	clues := l.read()
	clues = append(clues, c)
	return l.write(clues)
}

// List implements [Log].
func (l *FileLog) List(_ context.Context) ([]Clue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(), nil
}

// Reset implements [Log]. The file is rewritten as an empty array rather than
// removed.
func (l *FileLog) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write([]Clue{})
}

// Close implements [Log]. It is a no-op.
func (l *FileLog) Close() error { return nil }

func (l *FileLog) read() []Clue {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("discovery: read log file", "path", l.path, "err", err)
		}
		return []Clue{}
	}
	var clues []Clue
	if err := json.Unmarshal(data, &clues); err != nil {
		slog.Warn("discovery: log file is not a JSON array, treating as empty", "path", l.path, "err", err)
		return []Clue{}
	}
	if clues == nil {
		clues = []Clue{}
	}
	return clues
}

func (l *FileLog) write(clues []Clue) error {
	data, err := json.MarshalIndent(clues, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: marshal: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("discovery: create dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".discovered-*.json")
	if err != nil {
		return fmt.Errorf("discovery: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("discovery: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("discovery: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("discovery: replace log file: %w", err)
	}
	return nil
}
