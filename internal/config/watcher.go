package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file, and any data files registered with
// [Watcher.Track], and invokes callbacks when their content changes.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	self     fileState
	tracked  map[string]*trackedFile
	done     chan struct{}
	stopOnce sync.Once
}

// fileState is the last observed fingerprint of a file. A missing file has
// the zero state.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
	ok    bool
}

type trackedFile struct {
	path  string
	state fileState
	fn    func(path string)
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		tracked:  make(map[string]*trackedFile),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	if !st.ok {
		return nil, fmt.Errorf("config: watcher initial load: %q: %w", path, fs.ErrNotExist)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.self = st

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Track registers a data file under name. fn runs whenever the file's content
// changes, appears or disappears. Tracking a name again replaces its path and
// callback; the new path's current state becomes the baseline.
func (w *Watcher) Track(name, path string, fn func(path string)) {
	_, st, _ := readState(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked[name] = &trackedFile{path: path, state: st, fn: fn}
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
			w.checkTracked()
		}
	}
}

// check reloads the config file if it changed and is valid.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	last := w.self
	w.mu.Unlock()
	if info.ModTime().Equal(last.mtime) {
		return
	}

	data, st, err := readState(w.path)
	if err != nil {
		slog.Warn("config watcher: failed to read config", "path", w.path, "err", err)
		return
	}
	if st.hash == last.hash {
		// Touched but identical.
		w.mu.Lock()
		w.self = st
		w.mu.Unlock()
		return
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.self = st
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback can call Current or Track.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) checkTracked() {
	w.mu.Lock()
	files := make([]*trackedFile, 0, len(w.tracked))
	for _, tf := range w.tracked {
		files = append(files, tf)
	}
	w.mu.Unlock()

	for _, tf := range files {
		_, st, err := readState(tf.path)
		if err != nil {
			slog.Warn("config watcher: cannot read tracked file", "path", tf.path, "err", err)
			continue
		}

		w.mu.Lock()
		changed := st.ok != tf.state.ok || st.hash != tf.state.hash
		tf.state = st
		w.mu.Unlock()

		if changed {
			slog.Info("config watcher: data file changed", "path", tf.path)
			tf.fn(tf.path)
		}
	}
}

// readState reads path and fingerprints it. A missing file is not an error;
// it yields nil data and the zero state.
func readState(path string) ([]byte, fileState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fileState{}, nil
	}
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	return data, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data), ok: true}, nil
}
