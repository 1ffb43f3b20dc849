package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
	"coordline/internal/events"
	"coordline/internal/ledger"
	"coordline/internal/notify"
	"coordline/internal/repo"
)

// TaskCreateOptions are parameters for carving a sub-task out of a parent.
type TaskCreateOptions struct {
	ParentID         string
	Title            string
	Description      string
	CoordinationType domain.CoordinationType
	Points           int
	// TeamName overrides the parent's team. An empty string clears it.
	TeamName *string
	// Coordinators are assigned directly, without a proposal.
	Coordinators []string
	ActorAlias   string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, apperr.Validationf("title is required")
	}
	if opts.ParentID == "" {
		return domain.Task{}, apperr.Validationf("parent is required")
	}
	if !opts.CoordinationType.Valid() {
		return domain.Task{}, apperr.Validationf("unknown coordination type %q", opts.CoordinationType)
	}
	coords := coord.NormalizeAliases(opts.Coordinators)
	now := e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorAlias, e.now()); err != nil {
		return domain.Task{}, err
	}
	snap, err := e.Repo.LoadSnapshot(ctx, tx)
	if err != nil {
		return domain.Task{}, err
	}
	parent, ok := snap[opts.ParentID]
	if !ok {
		return domain.Task{}, apperr.NotFoundf("parent %s not found", opts.ParentID)
	}
	if !coord.HasPermission(opts.ActorAlias, parent.ID, domain.PermManage, snap) {
		return domain.Task{}, apperr.PermissionDeniedf("%s cannot manage task %s", opts.ActorAlias, parent.ID)
	}
	if coord.EffectiveCoordinationType(parent.ID, snap) == domain.Organiseren {
		return domain.Task{}, apperr.Conflictf("task %s is self-organised and cannot be subdivided", parent.ID)
	}
	if err := ledger.CheckCarve(snap, parent.ID, opts.Points); err != nil {
		return domain.Task{}, err
	}
	team := parent.TeamName
	if opts.TeamName != nil {
		team = teamValue(*opts.TeamName)
		if ledger.CrossTeam(parent.TeamName, team) {
			return domain.Task{}, apperr.Conflictf("team %s differs from parent team %s", deref(team), deref(parent.TeamName))
		}
	}
	if err := e.requireActors(ctx, tx, coords); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.BumpVersion(ctx, tx, parent.ID, parent.Version, now); err != nil {
		return domain.Task{}, storeErr(err, "parent "+parent.ID)
	}

	status := domain.StatusBeschikbaar
	if len(coords) > 0 {
		status = domain.StatusToegewezen
	}
	parentID := parent.ID
	t := domain.Task{
		ID:                    newID(),
		ParentID:              &parentID,
		Title:                 title,
		Description:           strings.TrimSpace(opts.Description),
		OwnCoordinatorAliases: coords,
		CoordinationType:      opts.CoordinationType,
		Points:                opts.Points,
		Status:                status,
		TeamName:              team,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, storeErr(err, "task")
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.create",
		EntityType: events.EntityTask,
		EntityID:   t.ID,
		ActorAlias: opts.ActorAlias,
		Payload:    events.Payload{"parent_id": parentID, "title": t.Title, "points": t.Points, "coordinators": coords},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: coords,
		Payload: map[string]any{"task_id": t.ID, "title": t.Title},
	})
	return t, nil
}

// TaskUpdateOptions carries the fields to change. Nil fields are left alone.
type TaskUpdateOptions struct {
	ID               string
	Title            *string
	Description      *string
	CoordinationType *domain.CoordinationType
	Points           *int
	Status           *domain.TaskStatus
	// TeamName set to "" clears the team.
	TeamName   *string
	ActorAlias string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorAlias, e.now()); err != nil {
		return domain.Task{}, err
	}
	snap, err := e.Repo.LoadSnapshot(ctx, tx)
	if err != nil {
		return domain.Task{}, err
	}
	if _, ok := snap[opts.ID]; !ok {
		return domain.Task{}, apperr.NotFoundf("task %s not found", opts.ID)
	}
	if !coord.HasPermission(opts.ActorAlias, opts.ID, domain.PermManage, snap) {
		return domain.Task{}, apperr.PermissionDeniedf("%s cannot manage task %s", opts.ActorAlias, opts.ID)
	}
	t, err := e.Repo.GetTask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, storeErr(err, "task "+opts.ID)
	}
	if t.Version != snap[opts.ID].Version {
		return t, apperr.Conflictf("task %s was modified concurrently", t.ID)
	}

	changes := events.Payload{}
	// raised points draw on the parent's headroom; guard the parent too
	var raiseParent *domain.TaskNode
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return t, apperr.Validationf("title is required")
		}
		if title != t.Title {
			t.Title = title
			changes["title"] = title
		}
	}
	if opts.Description != nil {
		desc := strings.TrimSpace(*opts.Description)
		if desc != t.Description {
			t.Description = desc
			changes["description"] = desc
		}
	}
	if opts.CoordinationType != nil && *opts.CoordinationType != t.CoordinationType {
		ct := *opts.CoordinationType
		if !ct.Valid() {
			return t, apperr.Validationf("unknown coordination type %q", ct)
		}
		if ct == domain.Organiseren && len(coord.Children(snap)[t.ID]) > 0 {
			return t, apperr.Conflictf("task %s has sub-tasks and cannot become self-organised", t.ID)
		}
		t.CoordinationType = ct
		changes["coordination_type"] = ct
	}
	if opts.Points != nil && *opts.Points != t.Points {
		if err := ledger.CheckRebudget(snap, t.ID, *opts.Points); err != nil {
			return t, err
		}
		if *opts.Points > t.Points && t.ParentID != nil {
			if parent, ok := snap[*t.ParentID]; ok {
				raiseParent = &parent
			}
		}
		changes["points"] = map[string]int{"from": t.Points, "to": *opts.Points}
		t.Points = *opts.Points
	}
	if opts.TeamName != nil {
		team := teamValue(*opts.TeamName)
		if deref(team) != deref(t.TeamName) {
			if t.ParentID != nil && ledger.CrossTeam(snap[*t.ParentID].TeamName, team) {
				return t, apperr.Conflictf("team %s differs from parent team %s", deref(team), deref(snap[*t.ParentID].TeamName))
			}
			t.TeamName = team
			changes["team_name"] = deref(team)
		}
	}
	if opts.Status != nil && *opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, *opts.Status, t.OwnCoordinatorAliases); err != nil {
			return t, err
		}
		changes["status"] = map[string]domain.TaskStatus{"from": t.Status, "to": *opts.Status}
		t.Status = *opts.Status
	}
	if len(changes) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.stamp()
	if raiseParent != nil {
		if err := e.Repo.BumpVersion(ctx, tx, raiseParent.ID, raiseParent.Version, t.UpdatedAt); err != nil {
			return t, storeErr(err, "parent "+raiseParent.ID)
		}
	}
	updated, err := e.Repo.UpdateTask(ctx, tx, t)
	if err != nil {
		return t, storeErr(err, "task "+t.ID)
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.update",
		EntityType: events.EntityTask,
		EntityID:   t.ID,
		ActorAlias: opts.ActorAlias,
		Payload:    changes,
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: updated.OwnCoordinatorAliases,
		Payload: map[string]any{"task_id": t.ID, "changes": changes},
	})
	return updated, nil
}

// ensureTaskTransition allows assignment, completion and their reversals.
// Being assigned requires own coordinators; being available requires none.
func ensureTaskTransition(from, to domain.TaskStatus, own []string) error {
	if !to.Valid() {
		return apperr.Validationf("unknown status %q", to)
	}
	assigned := len(own) > 0
	switch from {
	case domain.StatusBeschikbaar:
		if to == domain.StatusToegewezen && assigned {
			return nil
		}
	case domain.StatusToegewezen:
		if to == domain.StatusGereed {
			return nil
		}
		if to == domain.StatusBeschikbaar && !assigned {
			return nil
		}
	case domain.StatusGereed:
		if to == domain.StatusToegewezen && assigned {
			return nil
		}
		if to == domain.StatusBeschikbaar && !assigned {
			return nil
		}
	}
	return apperr.Conflictf("invalid task status transition %s -> %s", from, to).
		With("own_coordinators", len(own))
}

// MoveResult reports a committed move.
type MoveResult struct {
	Task     domain.Task     `json:"task"`
	Transfer ledger.Transfer `json:"transfer"`
}

// MoveTask re-parents a task and carries its points from the old parent to
// the new one. The new parent's ancestors are not rebalanced.
func (e Engine) MoveTask(ctx context.Context, taskID, newParentID, actor string) (MoveResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MoveResult{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return MoveResult{}, err
	}
	snap, err := e.Repo.LoadSnapshot(ctx, tx)
	if err != nil {
		return MoveResult{}, err
	}
	moved, ok := snap[taskID]
	if !ok {
		return MoveResult{}, apperr.NotFoundf("task %s not found", taskID)
	}
	if moved.ParentID == nil {
		return MoveResult{}, apperr.Conflictf("root task cannot be moved")
	}
	if _, ok := snap[newParentID]; !ok {
		return MoveResult{}, apperr.NotFoundf("target parent %s not found", newParentID)
	}
	sourceID := *moved.ParentID
	if !coord.HasPermission(actor, sourceID, domain.PermManage, snap) {
		return MoveResult{}, apperr.PermissionDeniedf("%s cannot manage current parent %s", actor, sourceID)
	}
	if !coord.HasPermission(actor, newParentID, domain.PermManage, snap) {
		return MoveResult{}, apperr.PermissionDeniedf("%s cannot manage target parent %s", actor, newParentID)
	}
	task, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return MoveResult{}, storeErr(err, "task "+taskID)
	}
	if sourceID == newParentID {
		return MoveResult{Task: task, Transfer: ledger.Transfer{
			Transferable:            true,
			SourceParentPointsAfter: snap[sourceID].Points,
			TargetParentPointsAfter: snap[sourceID].Points,
		}}, nil
	}
	if coord.EffectiveCoordinationType(newParentID, snap) == domain.Organiseren {
		return MoveResult{}, apperr.Conflictf("task %s is self-organised and cannot take sub-tasks", newParentID)
	}
	plan, err := ledger.CheckMove(snap, taskID, newParentID)
	if err != nil {
		return MoveResult{}, err
	}

	now := e.stamp()
	if err := e.Repo.DebitPoints(ctx, tx, plan.SourceParentID, snap[plan.SourceParentID].Points, plan.Points, now); err != nil {
		return MoveResult{}, storeErr(err, "source parent "+plan.SourceParentID)
	}
	if err := e.Repo.CreditPoints(ctx, tx, plan.TargetParentID, plan.Points, now); err != nil {
		return MoveResult{}, storeErr(err, "target parent "+plan.TargetParentID)
	}
	if err := e.Repo.Reparent(ctx, tx, taskID, plan.SourceParentID, plan.TargetParentID, task.Version, now); err != nil {
		return MoveResult{}, storeErr(err, "task "+taskID)
	}
	if err := tx.Commit(); err != nil {
		return MoveResult{}, err
	}
	target := plan.TargetParentID
	task.ParentID = &target
	task.Version++
	task.UpdatedAt = now
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.move",
		EntityType: events.EntityTask,
		EntityID:   taskID,
		ActorAlias: actor,
		Payload: events.Payload{
			"from":                       plan.SourceParentID,
			"to":                         plan.TargetParentID,
			"points":                     plan.Points,
			"source_parent_points_after": plan.Transfer.SourceParentPointsAfter,
			"target_parent_points_after": plan.Transfer.TargetParentPointsAfter,
		},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: task.OwnCoordinatorAliases,
		Payload: map[string]any{"task_id": taskID, "parent_id": target},
	})
	return MoveResult{Task: task, Transfer: plan.Transfer}, nil
}

// DeleteTask removes a task with its whole subtree and every proposal on it.
// It returns the number of deleted tasks.
func (e Engine) DeleteTask(ctx context.Context, taskID, actor string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return 0, err
	}
	snap, err := e.Repo.LoadSnapshot(ctx, tx)
	if err != nil {
		return 0, err
	}
	node, ok := snap[taskID]
	if !ok {
		return 0, apperr.NotFoundf("task %s not found", taskID)
	}
	if node.ParentID == nil {
		return 0, apperr.Conflictf("root task cannot be deleted")
	}
	if !coord.HasPermission(actor, *node.ParentID, domain.PermManage, snap) {
		return 0, apperr.PermissionDeniedf("%s cannot manage parent %s", actor, *node.ParentID)
	}
	task, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return 0, storeErr(err, "task "+taskID)
	}
	if err := e.Repo.BumpVersion(ctx, tx, task.ID, task.Version, e.stamp()); err != nil {
		return 0, storeErr(err, "task "+taskID)
	}
	ids := coord.Subtree(taskID, snap)
	var affected []string
	for _, id := range ids {
		affected = coord.UnionAliases(affected, snap[id].OwnCoordinatorAliases...)
	}
	if _, err := e.Repo.DeleteProposalsForTasks(ctx, tx, ids); err != nil {
		return 0, err
	}
	if _, err := e.Repo.DeleteTasks(ctx, tx, ids); err != nil {
		return 0, err
	}
	// cascaded rows are not always counted by the driver
	n := int64(len(ids))
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.delete",
		EntityType: events.EntityTask,
		EntityID:   taskID,
		ActorAlias: actor,
		Payload:    events.Payload{"parent_id": *node.ParentID, "deleted": n, "points": node.Points},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: affected,
		Payload: map[string]any{"task_id": taskID, "title": task.Title},
	})
	return n, nil
}

// ReclaimTask clears a task's own coordinators so it inherits again. Only a
// manager of the parent can reclaim.
func (e Engine) ReclaimTask(ctx context.Context, taskID, actor string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return domain.Task{}, err
	}
	anc, err := e.Repo.LoadAncestry(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	node, ok := anc[taskID]
	if !ok {
		return domain.Task{}, apperr.NotFoundf("task %s not found", taskID)
	}
	if node.ParentID == nil {
		return domain.Task{}, apperr.Conflictf("root task cannot be reclaimed")
	}
	if !coord.HasPermission(actor, *node.ParentID, domain.PermManage, anc) {
		return domain.Task{}, apperr.PermissionDeniedf("%s cannot manage parent %s", actor, *node.ParentID)
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, storeErr(err, "task "+taskID)
	}
	previous := t.OwnCoordinatorAliases
	if len(previous) == 0 {
		return t, apperr.Conflictf("task %s has no own coordinators", taskID)
	}
	t.OwnCoordinatorAliases = nil
	if t.Status != domain.StatusGereed {
		t.Status = domain.StatusBeschikbaar
	}
	t.UpdatedAt = e.stamp()
	updated, err := e.Repo.UpdateTask(ctx, tx, t)
	if err != nil {
		return t, storeErr(err, "task "+taskID)
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.reclaim",
		EntityType: events.EntityTask,
		EntityID:   taskID,
		ActorAlias: actor,
		Payload:    events.Payload{"previous_coordinators": previous},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: previous,
		Payload: map[string]any{"task_id": taskID, "title": t.Title},
	})
	return updated, nil
}

// ReleaseTask removes actor from the task's own coordinators.
func (e Engine) ReleaseTask(ctx context.Context, taskID, actor string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	anc, err := e.Repo.LoadAncestry(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, ok := anc[taskID]; !ok {
		return domain.Task{}, apperr.NotFoundf("task %s not found", taskID)
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, storeErr(err, "task "+taskID)
	}
	if !coord.Contains(t.OwnCoordinatorAliases, actor) {
		return t, apperr.PermissionDeniedf("%s is not a coordinator of task %s", actor, taskID)
	}
	t.OwnCoordinatorAliases = coord.RemoveAlias(t.OwnCoordinatorAliases, actor)
	if t.ParentID == nil && len(t.OwnCoordinatorAliases) == 0 {
		return t, apperr.Conflictf("%s is the last coordinator of the root task", actor)
	}
	if len(t.OwnCoordinatorAliases) == 0 && t.Status != domain.StatusGereed {
		t.Status = domain.StatusBeschikbaar
	}
	t.UpdatedAt = e.stamp()
	updated, err := e.Repo.UpdateTask(ctx, tx, t)
	if err != nil {
		return t, storeErr(err, "task "+taskID)
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	var inform []string
	if t.ParentID != nil {
		inform = coord.ResolveEffectiveCoordinators(*t.ParentID, anc)
	}
	e.afterCommit(ctx, events.Fact{
		ActionType: "task.release",
		EntityType: events.EntityTask,
		EntityID:   taskID,
		ActorAlias: actor,
		Payload:    events.Payload{"remaining": updated.OwnCoordinatorAliases},
	}, notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: coord.UnionAliases(inform, updated.OwnCoordinatorAliases...),
		Payload: map[string]any{"task_id": taskID, "title": t.Title, "released_by": actor},
	})
	return updated, nil
}

func (e Engine) requireActors(ctx context.Context, tx *sql.Tx, aliases []string) error {
	for _, alias := range aliases {
		if _, err := e.Repo.GetActor(ctx, tx, alias); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return apperr.NotFoundf("actor %s not found", alias)
			}
			return err
		}
	}
	return nil
}

func teamValue(name string) *string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return &name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
