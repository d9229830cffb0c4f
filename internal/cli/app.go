package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/autolock/internal/artifact"
	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/config"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/session"
	"github.com/roach88/autolock/internal/sessionlog"
	"github.com/roach88/autolock/internal/store"
	"github.com/roach88/autolock/internal/whitelist"
)

// app is the loaded state one command works on.
type app struct {
	cfg       *config.Config
	store     *store.Store
	disallow  *disallow.Store
	whitelist *whitelist.Store
	commit    *commit.Store
	logger    *slog.Logger
}

// openApp loads the configuration, opens the state database and loads
// every store. observer may be nil.
func openApp(ctx context.Context, opts *RootOptions, observer notify.Observer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}

	logger := opts.logger()
	logger.Debug("opening database", "path", cfg.DBPath())
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	if observer == nil {
		observer = notify.Nop{}
	}
	d := disallow.New(st, disallow.WithLogger(logger), disallow.WithObserver(observer))
	d.Load(ctx)
	w := whitelist.New(st, whitelist.WithLogger(logger), whitelist.WithObserver(observer))
	w.Load(ctx)
	c := commit.New(st, d, commit.WithLogger(logger), commit.WithObserver(observer))
	c.Load(ctx)

	return &app{
		cfg:       cfg,
		store:     st,
		disallow:  d,
		whitelist: w,
		commit:    c,
		logger:    logger,
	}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// runner builds a session runner over the app's stores.
func (a *app) runner(observer notify.Observer, opts ...session.Option) (*session.Runner, error) {
	templates, err := artifact.LoadTemplates(a.cfg.TemplatesDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load strategy templates", err)
	}
	grace, err := a.cfg.StopGrace()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	cfg := session.Config{
		EnginePath:    a.cfg.Engine.Path,
		EngineArgs:    a.cfg.Engine.Args,
		Debug:         a.cfg.Engine.DebugEnabled(),
		WorkDir:       a.cfg.WorkDir(),
		Templates:     templates,
		Ports:         a.cfg.PortMap(),
		RequiredFiles: a.cfg.Engine.RequiredFiles,
		StopGrace:     grace,
	}
	stores := session.Stores{
		KV:        a.store,
		Commit:    a.commit,
		Disallow:  a.disallow,
		Whitelist: a.whitelist,
	}
	if observer == nil {
		observer = notify.Nop{}
	}
	opts = append([]session.Option{session.WithObserver(observer), session.WithLogger(a.logger)}, opts...)
	a.logger.Debug("runner configured", "engine", cfg.EnginePath, "templates", len(templates), "work_dir", cfg.WorkDir)
	return session.NewRunner(cfg, stores, a.logs(), opts...), nil
}

// logs returns the session log manager for the configured directory.
func (a *app) logs() *sessionlog.Manager {
	return sessionlog.NewManager(a.cfg.LogDir(),
		sessionlog.WithRetention(a.cfg.LogRetention),
		sessionlog.WithLogger(a.logger))
}

// storeError maps a store mutation failure onto an exit error.
func storeError(action string, err error) error {
	return WrapExitError(ExitFailure, fmt.Sprintf("failed to %s", action), err)
}
