// Package sessionlog writes one log file per engine run and keeps only the
// most recent ones.
//
// A session log holds a start banner, every line the engine emitted in the
// order it was read, and an end banner. Files are named session-<id>.log;
// ids sort by creation time.
package sessionlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRetention is how many session logs are kept.
const DefaultRetention = 10

const (
	filePrefix = "session-"
	fileSuffix = ".log"
)

// ErrClosed is returned when writing to a closed log.
var ErrClosed = errors.New("session log is closed")

// Info describes one session log on disk.
type Info struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Manager allocates session logs in one directory.
type Manager struct {
	dir       string
	retention int
	ids       IDGenerator
	clock     Clock
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention sets how many logs are kept. Values below 1 are ignored.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.retention = n
		}
	}
}

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithClock replaces the wall clock used for banners.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager for dir. The directory is created on first
// use.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:       dir,
		retention: DefaultRetention,
		ids:       UUIDv7Generator{},
		clock:     wallClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the log directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create allocates a new session id, evicts the oldest logs so that the
// new one fits within retention, and opens the log with its start banner.
func (m *Manager) Create() (*Writer, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	if err := m.evict(m.retention - 1); err != nil {
		m.logger.Warn("session log eviction failed", "error", err)
	}

	id := m.ids.Generate()
	path := filepath.Join(m.dir, filePrefix+id+fileSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create session log %s: %w", id, err)
	}

	w := &Writer{id: id, path: path, file: f, clock: m.clock, started: m.clock.Now()}
	if err := w.banner(fmt.Sprintf("=== autolock session %s started %s ===",
		id, w.started.Format(time.RFC3339))); err != nil {
		f.Close()
		return nil, err
	}
	m.logger.Debug("session log created", "id", id, "path", path)
	return w, nil
}

// List returns the logs on disk, oldest first. A missing directory is an
// empty list.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session logs: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			ID:      strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix),
			Path:    filepath.Join(m.dir, name),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// evict removes the oldest logs until at most keep remain.
func (m *Manager) evict(keep int) error {
	logs, err := m.List()
	if err != nil {
		return err
	}
	var errs []error
	for len(logs) > keep {
		if err := os.Remove(logs[0].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		} else {
			m.logger.Debug("session log evicted", "id", logs[0].ID)
		}
		logs = logs[1:]
	}
	return errors.Join(errs...)
}

// Writer appends lines to one session log. Safe for concurrent use.
type Writer struct {
	id      string
	path    string
	clock   Clock
	started time.Time

	mu     sync.Mutex
	file   *os.File
	lines  int
	closed bool
}

// ID returns the session id.
func (w *Writer) ID() string { return w.id }

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Lines returns how many engine lines were written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// WriteLine appends one engine line verbatim. A trailing newline is added
// if the line has none.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.lines++
	return w.writeLocked(line)
}

// Close writes the end banner and closes the file. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	end := w.clock.Now()
	err := w.writeLocked(fmt.Sprintf("=== autolock session %s ended %s lines=%d ===",
		w.id, end.Format(time.RFC3339), w.lines))
	return errors.Join(err, w.file.Close())
}

func (w *Writer) banner(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(line)
}

func (w *Writer) writeLocked(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(w.file, line); err != nil {
		return fmt.Errorf("write session log %s: %w", w.id, err)
	}
	return nil
}
