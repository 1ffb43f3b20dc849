package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"coordline/internal/apperr"
	"coordline/internal/config"
	"coordline/internal/coord"
	"coordline/internal/db"
	"coordline/internal/domain"
	"coordline/internal/engine/auth"
	"coordline/internal/events"
	"coordline/internal/logging"
	"coordline/internal/notify"
	"coordline/internal/repo"
)

// SystemActor is recorded on facts produced without a calling actor.
const SystemActor = "system"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Auth     auth.Service
	Events   events.Writer
	Notifier notify.Sink
	Logger   *logging.Logger
	Config   *config.Config
	Now      func() time.Time
}

func New(conn *sql.DB, driver string, cfg *config.Config) Engine {
	r := repo.Repo{DB: conn, Driver: db.NormalizeDriver(driver)}
	return Engine{
		DB:       conn,
		Repo:     r,
		Auth:     auth.Service{Repo: r, Config: cfg},
		Events:   events.Writer{Repo: r},
		Notifier: notify.Nop{},
		Logger:   logging.NopLogger(),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// afterCommit records the audit fact and sends notifications. Both are best
// effort: the transition has already committed.
func (e Engine) afterCommit(ctx context.Context, fact events.Fact, notes ...notify.Notification) {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, fact); err != nil {
		e.Logger.Error("audit append failed", "action", fact.ActionType, "entity_id", fact.EntityID, "error", err)
	}
	if e.Notifier == nil {
		return
	}
	for _, n := range notes {
		n.Aliases = coord.RemoveAlias(coord.NormalizeAliases(n.Aliases), fact.ActorAlias)
		if len(n.Aliases) == 0 {
			continue
		}
		if n.Event == "" {
			n.Event = fact.ActionType
		}
		if n.EntityID == "" {
			n.EntityID = fact.EntityID
		}
		if n.TS == "" {
			n.TS = e.stamp()
		}
		if err := e.Notifier.Notify(ctx, n); err != nil {
			e.Logger.Warn("notification failed", "event", n.Event, "kind", n.Kind, "error", err)
		}
	}
}

// storeErr classifies repository errors for subject.
func storeErr(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != "":
		return err
	case errors.Is(err, repo.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, err, subject+" not found")
	case errors.Is(err, repo.ErrStale):
		return apperr.Wrap(apperr.Conflict, err, subject+" was modified concurrently")
	case repo.IsUniqueViolation(err):
		return apperr.Wrap(apperr.Conflict, err, subject+" already exists")
	default:
		return err
	}
}

// Bootstrap seeds the root task and the bestuur roles from config. Running
// it again only grants roles that are missing.
func (e Engine) Bootstrap(ctx context.Context, actor string) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if actor == "" {
		actor = SystemActor
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	for _, alias := range e.Config.Governance.Bestuur {
		if err := e.Repo.EnsureActor(ctx, tx, alias, now); err != nil {
			return domain.Task{}, err
		}
		if err := e.Repo.GrantRole(ctx, tx, alias, domain.RoleBestuur, now); err != nil {
			return domain.Task{}, err
		}
	}
	coords := coord.NormalizeAliases(e.Config.Governance.RootCoordinators)
	for _, alias := range coords {
		if err := e.Repo.EnsureActor(ctx, tx, alias, now); err != nil {
			return domain.Task{}, err
		}
	}

	created := false
	root, err := e.Repo.RootTask(ctx, tx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		status := domain.StatusBeschikbaar
		if len(coords) > 0 {
			status = domain.StatusToegewezen
		}
		root = domain.Task{
			ID:                    newID(),
			Title:                 e.Config.Organisation.RootTitle,
			OwnCoordinatorAliases: coords,
			CoordinationType:      domain.Delegeren,
			Points:                e.Config.Organisation.RootPoints,
			Status:                status,
			Version:               1,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := e.Repo.InsertTask(ctx, tx, root); err != nil {
			return domain.Task{}, storeErr(err, "root task")
		}
		created = true
	case err != nil:
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if created {
		e.afterCommit(ctx, events.Fact{
			ActionType: "task.bootstrap",
			EntityType: events.EntityTask,
			EntityID:   root.ID,
			ActorAlias: actor,
			Payload:    events.Payload{"title": root.Title, "points": root.Points, "coordinators": coords},
		})
	}
	return root, nil
}

// AuditLog returns recorded facts, newest first.
func (e Engine) AuditLog(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
