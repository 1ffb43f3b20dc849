package engine

import (
	"context"

	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
	"coordline/internal/ledger"
	"coordline/internal/repo"
)

// TaskView is a task with everything derived from its position in the tree,
// evaluated for one actor.
type TaskView struct {
	domain.Task
	EffectiveCoordinators     []string                `json:"effective_coordinators"`
	PrimaryCoordinator        string                  `json:"primary_coordinator,omitempty"`
	EffectiveCoordinationType domain.CoordinationType `json:"effective_coordination_type"`
	Permissions               []domain.Permission     `json:"permissions"`
	ChildPoints               int                     `json:"child_points"`
	Headroom                  int                     `json:"headroom"`
}

func newTaskView(t domain.Task, actor string, snap domain.Snapshot) TaskView {
	effective := coord.ResolveEffectiveCoordinators(t.ID, snap)
	perms := coord.Permissions(actor, t.ID, snap)
	if perms == nil {
		perms = []domain.Permission{}
	}
	if effective == nil {
		effective = []string{}
	}
	if t.OwnCoordinatorAliases == nil {
		t.OwnCoordinatorAliases = []string{}
	}
	return TaskView{
		Task:                      t,
		EffectiveCoordinators:     effective,
		PrimaryCoordinator:        coord.PrimaryCoordinatorAlias(effective),
		EffectiveCoordinationType: coord.EffectiveCoordinationType(t.ID, snap),
		Permissions:               perms,
		ChildPoints:               coord.ChildPoints(t.ID, snap),
		Headroom:                  ledger.Headroom(snap, t.ID),
	}
}

// GetTaskView returns taskID as seen by actor, who needs READ.
func (e Engine) GetTaskView(ctx context.Context, taskID, actor string) (TaskView, error) {
	snap, err := e.Repo.LoadSnapshot(ctx, nil)
	if err != nil {
		return TaskView{}, err
	}
	if _, ok := snap[taskID]; !ok {
		return TaskView{}, apperr.NotFoundf("task %s not found", taskID)
	}
	if !coord.HasPermission(actor, taskID, domain.PermRead, snap) {
		return TaskView{}, apperr.PermissionDeniedf("%s cannot read task %s", actor, taskID)
	}
	t, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return TaskView{}, storeErr(err, "task "+taskID)
	}
	return newTaskView(t, actor, snap), nil
}

// TaskListOptions filter ListVisibleTasks.
type TaskListOptions struct {
	ParentID    string
	Status      domain.TaskStatus
	TeamName    string
	Coordinator string
	Limit       int
}

// ListVisibleTasks returns the tasks actor can read.
func (e Engine) ListVisibleTasks(ctx context.Context, actor string, opts TaskListOptions) ([]TaskView, error) {
	snap, err := e.Repo.LoadSnapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, nil, repo.TaskFilters{
		ParentID:    opts.ParentID,
		Status:      string(opts.Status),
		TeamName:    opts.TeamName,
		Coordinator: opts.Coordinator,
		Limit:       opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := []TaskView{}
	for _, t := range tasks {
		if !coord.HasPermission(actor, t.ID, domain.PermRead, snap) {
			continue
		}
		out = append(out, newTaskView(t, actor, snap))
	}
	return out, nil
}

// TreeEntry is one row of a depth-first tree listing.
type TreeEntry struct {
	TaskView
	Depth int `json:"depth"`
}

// Tree lists the subtree under rootID depth first, or the whole tree when
// rootID is empty. Subtrees actor cannot read are left out.
func (e Engine) Tree(ctx context.Context, rootID, actor string) ([]TreeEntry, error) {
	snap, err := e.Repo.LoadSnapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	if rootID == "" {
		roots := coord.Roots(snap)
		if len(roots) == 0 {
			return []TreeEntry{}, nil
		}
		rootID = roots[0]
	}
	if _, ok := snap[rootID]; !ok {
		return nil, apperr.NotFoundf("task %s not found", rootID)
	}
	if !coord.HasPermission(actor, rootID, domain.PermRead, snap) {
		return nil, apperr.PermissionDeniedf("%s cannot read task %s", actor, rootID)
	}
	tasks, err := e.Repo.ListTasks(ctx, nil, repo.TaskFilters{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	children := coord.Children(snap)
	out := []TreeEntry{}
	seen := map[string]bool{}
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		if seen[id] {
			return
		}
		seen[id] = true
		t, ok := byID[id]
		if !ok || !coord.HasPermission(actor, id, domain.PermRead, snap) {
			return
		}
		out = append(out, TreeEntry{TaskView: newTaskView(t, actor, snap), Depth: depth})
		for _, child := range children[id] {
			walk(child, depth+1)
		}
	}
	walk(rootID, 0)
	return out, nil
}
