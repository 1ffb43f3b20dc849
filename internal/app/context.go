package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"coordline/internal/config"
	"coordline/internal/db"
	"coordline/internal/engine"
	"coordline/internal/logging"
	"coordline/internal/migrate"
	"coordline/internal/notify"
)

// Options locate a workspace and its store.
type Options struct {
	Workspace string
	Driver    string
	DSN       string
	LogLevel  string
	// LogToStderr skips the workspace log file.
	LogToStderr bool
}

// Runtime is an opened workspace: the engine plus the sinks wired into it.
type Runtime struct {
	Engine   engine.Engine
	Config   *config.Config
	Bus      *notify.Bus
	Webhooks *notify.WebhookSink
	Logger   *logging.Logger
	conn     *sql.DB
}

// Open migrates the store, loads coordline.yml and makes sure the root task
// and the configured governance actors exist.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, opts, cfg)
}

// OpenWithConfig is Open with an already loaded config.
func OpenWithConfig(ctx context.Context, opts Options, cfg *config.Config) (*Runtime, error) {
	dir, err := db.EnsureWorkspace(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	logDir := dir
	if opts.LogToStderr {
		logDir = ""
	}
	logger, err := logging.NewLogger(logDir, opts.LogLevel)
	if err != nil {
		return nil, err
	}
	driver := db.NormalizeDriver(opts.Driver)
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: driver, DSN: opts.DSN})
	if err != nil {
		logger.Close()
		return nil, err
	}
	if err := migrate.MigrateDriver(conn, driver); err != nil {
		conn.Close()
		logger.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	bus := notify.NewBus()
	hooks := notify.NewWebhookSink(cfg.Notifications.Webhooks, logger)
	e := engine.New(conn, driver, cfg)
	e.Logger = logger
	sinks := notify.Multi{notify.LogSink{Logger: logger}, bus}
	if hooks.Enabled() {
		sinks = append(sinks, hooks)
	}
	e.Notifier = sinks

	rt := &Runtime{Engine: e, Config: cfg, Bus: bus, Webhooks: hooks, Logger: logger, conn: conn}
	if _, err := e.Bootstrap(ctx, engine.SystemActor); err != nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return rt, nil
}

// StartWebhooks delivers queued webhook notifications until ctx is done.
func (r *Runtime) StartWebhooks(ctx context.Context) {
	if r.Webhooks.Enabled() {
		go r.Webhooks.Run(ctx)
	}
}

func (r *Runtime) Close() error {
	err := r.conn.Close()
	r.Logger.Close()
	return err
}

// InitWorkspace writes a default coordline.yml unless one exists.
// It reports whether a file was written.
func InitWorkspace(workspace, rootTitle, bestuur string, force bool) (bool, error) {
	if !force {
		existing, err := config.LoadOptional(workspace)
		if err != nil {
			return false, err
		}
		if existing != nil {
			return false, nil
		}
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return false, err
	}
	body := config.GenerateDefault(rootTitle, bestuur)
	if _, err := config.FromYAML([]byte(body)); err != nil {
		return false, err
	}
	if err := os.WriteFile(config.Path(workspace), []byte(body), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
