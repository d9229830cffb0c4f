// Package session owns the engine's process lifecycle.
//
// A Runner moves through Idle → Preparing → Running → Stopping → Idle.
// Start renders the artifacts from the current store state, opens a
// session log and spawns the engine; exactly one reader goroutine then
// feeds every output line through the event parser into the stores. The
// session ends when Stop is called or when the engine's output closes,
// which is handled as an implicit stop. Either way both stores are
// persisted, the log is closed and the runner returns to Idle.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/autolock/internal/artifact"
	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/sessionlog"
	"github.com/roach88/autolock/internal/store"
	"github.com/roach88/autolock/internal/whitelist"
)

// State is the runner lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
)

const (
	DefaultStopGrace    = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second

	// MaxLineSize bounds one engine line. Bytes past it are dropped and the
	// line is logged truncated.
	MaxLineSize = 1 << 20
)

// Config is what the runner needs besides the stores.
type Config struct {
	// EnginePath is the engine executable.
	EnginePath string

	// EngineArgs are passed before the generated arguments.
	EngineArgs []string

	// Debug makes the engine emit its structured event lines.
	Debug bool

	// WorkDir receives the generated artifacts.
	WorkDir string

	// Templates are the strategy templates to number.
	Templates []artifact.Template

	// Ports are the destination ports intercepted per family.
	Ports map[protocol.Protocol][]string

	// RequiredFiles must exist before the engine is spawned.
	RequiredFiles []string

	// StopGrace is how long Stop waits after interrupting the engine
	// before killing it.
	StopGrace time.Duration

	// DrainTimeout bounds how long Stop waits for the reader to finish
	// after the engine exited.
	DrainTimeout time.Duration
}

// Stores are the stores a runner owns for the life of its sessions.
type Stores struct {
	KV        store.KV
	Commit    *commit.Store
	Disallow  *disallow.Store
	Whitelist *whitelist.Store
}

// Runner supervises one engine process at a time.
type Runner struct {
	cfg      Config
	stores   Stores
	logs     *sessionlog.Manager
	launcher Launcher
	observer notify.Observer
	logger   *slog.Logger
	learner  *Learner

	mu      sync.Mutex
	state   State
	current *run
	lastID  string
}

// run is one spawned session.
type run struct {
	proc   Process
	out    io.ReadCloser
	log    *sessionlog.Writer
	cancel context.CancelFunc
	group  *errgroup.Group

	readerDone chan struct{}
	exited     chan struct{}
	done       chan struct{}

	closeOut sync.Once
	exitErr  error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l Launcher) Option {
	return func(r *Runner) { r.launcher = l }
}

// WithObserver sets the observer for engine lines and session messages.
// Register it before the first Start.
func WithObserver(o notify.Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates an idle runner.
func NewRunner(cfg Config, stores Stores, logs *sessionlog.Manager, opts ...Option) *Runner {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	r := &Runner{
		cfg:      cfg,
		stores:   stores,
		logs:     logs,
		launcher: ExecLauncher{},
		observer: notify.Nop{},
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.learner = NewLearner(stores.Commit, stores.Disallow, stores.Whitelist, r.observer, r.logger)
	return r
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Running reports whether an engine is alive. A process that exited while
// the runner still says Running counts as not running.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.current == nil {
		return false
	}
	select {
	case <-r.current.exited:
		return false
	default:
		return true
	}
}

// SessionID returns the active session log id, or "" when idle.
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.log.ID()
}

// LastSessionID returns the id of the most recently started session, even
// after it ended.
func (r *Runner) LastSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}

// Done returns a channel closed when the current session has fully ended.
// When no session is active the channel is already closed.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.current.done
}

// Stats returns the current (or last) session's bookkeeping.
func (r *Runner) Stats() Stats {
	return r.learner.Stats()
}

// Start prepares the artifacts and spawns the engine. It is valid only
// from Idle; on any failure the runner is Idle again and nothing is left
// running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return newError(ErrCodeNotIdle, nil, "runner is %s", state)
	}
	r.state = StatePreparing
	r.mu.Unlock()

	s, err := r.start(ctx)
	if err != nil {
		r.setState(StateIdle)
		r.logger.Error("session start failed", "error", err)
		r.observer.Output("session: start failed: " + err.Error())
		return err
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	r.mu.Lock()
	r.current = s
	r.lastID = s.log.ID()
	r.state = StateRunning
	r.mu.Unlock()

	r.logger.Info("session started", "id", s.log.ID(), "pid", s.proc.Pid())
	r.observer.Output(fmt.Sprintf("session: %s started", s.log.ID()))

	s.group.Go(func() error {
		defer close(s.readerDone)
		return r.read(readerCtx, s)
	})
	s.group.Go(func() error {
		s.exitErr = s.proc.Wait()
		close(s.exited)
		return nil
	})
	go r.supervise(s)
	return nil
}

func (r *Runner) start(ctx context.Context) (*run, error) {
	if err := r.checkPreconditions(); err != nil {
		return nil, err
	}

	arts, err := r.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	if arts.Numbering.Total() == 0 {
		return nil, newError(ErrCodeStartupPrecondition, nil, "strategy templates contain no directives")
	}

	logw, err := r.logs.Create()
	if err != nil {
		return nil, newError(ErrCodeStartupPrecondition, err, "open session log")
	}

	args := append([]string{}, r.cfg.EngineArgs...)
	args = append(args, "@"+arts.RunConfig, "--preload="+arts.Preload)
	if r.cfg.Debug {
		args = append(args, "--debug=1")
	}

	proc, out, err := r.launcher.Launch(ctx, LaunchSpec{Path: r.cfg.EnginePath, Args: args, Dir: r.cfg.WorkDir})
	if err != nil {
		logw.Close()
		return nil, newError(ErrCodeSpawnFailure, err, "spawn engine")
	}

	r.learner.Reset()
	return &run{
		proc:       proc,
		out:        out,
		log:        logw,
		group:      &errgroup.Group{},
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func (r *Runner) checkPreconditions() error {
	if r.cfg.EnginePath == "" {
		return newError(ErrCodeStartupPrecondition, nil, "no engine executable configured")
	}
	if _, err := exec.LookPath(r.cfg.EnginePath); err != nil {
		return newError(ErrCodeStartupPrecondition, err, "engine executable %s", r.cfg.EnginePath)
	}
	if len(r.cfg.Templates) == 0 {
		return newError(ErrCodeStartupPrecondition, nil, "no strategy templates")
	}
	for _, path := range r.cfg.RequiredFiles {
		if _, err := os.Stat(path); err != nil {
			return newError(ErrCodeStartupPrecondition, err, "required file %s", path)
		}
	}
	return nil
}

// read is the session's only store mutator. It returns when the output
// stream ends or ctx is cancelled.
func (r *Runner) read(ctx context.Context, s *run) error {
	parser := event.NewParser()
	br := bufio.NewReaderSize(s.out, 64*1024)

	for {
		line, truncated, err := ReadLine(br, MaxLineSize)
		if err == nil || len(line) > 0 {
			if !r.handleLine(ctx, s, parser, line, truncated) {
				return nil
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.logger.Warn("engine output read failed", "error", err)
			}
			return nil
		}
	}
}

// handleLine logs one raw line and applies its event. It reports false
// once ctx is cancelled; the line is still logged.
func (r *Runner) handleLine(ctx context.Context, s *run, parser *event.Parser, line string, truncated bool) bool {
	r.learner.Line()
	if err := s.log.WriteLine(line); err != nil {
		r.logger.Warn("session log write failed", "error", err)
	}
	if ctx.Err() != nil {
		return false
	}

	if truncated {
		r.logger.Warn("engine line too long, truncated and ignored", "limit", MaxLineSize)
		r.observer.Output(fmt.Sprintf("session: ignored engine line longer than %d bytes", MaxLineSize))
		return true
	}
	r.observer.Output(line)
	if ev, ok := parser.Parse(line); ok {
		r.learner.Apply(ctx, ev)
	}
	return true
}

// readLine returns the next line without its terminator. At most limit
// bytes are kept; truncated reports that the rest was discarded. err is
// non-nil only when the stream ended, possibly after a final partial line.
func ReadLine(br *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf       []byte
		truncated bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		n := min(len(chunk), limit-len(buf))
		buf = append(buf, chunk[:n]...)
		if n < len(chunk) {
			truncated = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimSuffix(string(buf), "\r"), truncated, err
	}
}

// supervise turns the end of the output stream into an implicit stop and
// finalizes the session once both goroutines are done.
func (r *Runner) supervise(s *run) {
	<-s.readerDone
	if r.transition(StateRunning, StateStopping) {
		r.logger.Warn("engine output closed, stopping session")
		r.terminate(s)
	}
	s.group.Wait()
	r.finish(s)
}

// Stop ends the session: interrupt, wait out the grace period, kill, drain
// the reader, persist both stores. Stop from Idle is a no-op. ctx bounds
// only the wait for finalization.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	s := r.current
	switch r.state {
	case StateIdle:
		r.mu.Unlock()
		return nil
	case StatePreparing:
		r.mu.Unlock()
		return newError(ErrCodeNotIdle, nil, "session is still starting")
	case StateRunning:
		r.state = StateStopping
		r.mu.Unlock()
		r.terminate(s)
		r.drain(s)
	case StateStopping:
		r.mu.Unlock()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate makes sure the process is gone: interrupt, bounded wait, kill.
func (r *Runner) terminate(s *run) {
	select {
	case <-s.exited:
		return
	default:
	}

	if err := s.proc.Signal(os.Interrupt); err != nil {
		r.logger.Debug("interrupt failed", "pid", s.proc.Pid(), "error", err)
	}
	select {
	case <-s.exited:
		return
	case <-time.After(r.cfg.StopGrace):
	}

	r.logger.Warn("engine ignored interrupt, killing", "pid", s.proc.Pid(), "grace", r.cfg.StopGrace)
	if err := s.proc.Kill(); err != nil {
		r.logger.Error("kill failed", "pid", s.proc.Pid(), "error", err)
	}
	select {
	case <-s.exited:
	case <-time.After(r.cfg.StopGrace):
		r.logger.Error("engine did not exit after kill", "pid", s.proc.Pid())
		r.closeOutput(s)
	}
}

// drain waits for the reader to consume what the engine wrote before it
// exited. A descendant still holding the pipe open is cut off after the
// drain timeout.
func (r *Runner) drain(s *run) {
	select {
	case <-s.readerDone:
	case <-time.After(r.cfg.DrainTimeout):
		r.logger.Warn("engine output still open after exit, closing")
		s.cancel()
		r.closeOutput(s)
	}
}

func (r *Runner) closeOutput(s *run) {
	s.closeOut.Do(func() { s.out.Close() })
}

func (r *Runner) finish(s *run) {
	s.cancel()
	r.closeOutput(s)

	ctx := context.Background()
	if err := r.stores.Commit.Save(ctx); err != nil {
		r.logger.Error("commit store not saved", "error", err)
	}
	if err := r.stores.Disallow.Save(ctx); err != nil {
		r.logger.Error("disallow list not saved", "error", err)
	}
	if err := s.log.Close(); err != nil {
		r.logger.Warn("session log close failed", "error", err)
	}

	attrs := []any{"id", s.log.ID(), "lines", s.log.Lines()}
	var exitErr *exec.ExitError
	switch {
	case s.exitErr == nil:
	case errors.As(s.exitErr, &exitErr):
		attrs = append(attrs, "exit_code", exitErr.ExitCode())
	default:
		attrs = append(attrs, "exit", s.exitErr)
	}
	r.logger.Info("session ended", attrs...)
	r.observer.Output(fmt.Sprintf("session: %s ended", s.log.ID()))

	r.mu.Lock()
	r.current = nil
	r.state = StateIdle
	r.mu.Unlock()
	close(s.done)
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// transition moves from one state to another and reports whether it did.
func (r *Runner) transition(from, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = to
	return true
}
