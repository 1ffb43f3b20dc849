// Package ledger validates points budget changes on the task tree.
//
// Nothing here touches storage. Callers commit the returned post-state
// inside a transaction and condition the write on the values previewed here.
package ledger

import (
	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
)

// Transfer is the outcome of a points preview.
type Transfer struct {
	Transferable            bool `json:"transferable"`
	SourceParentPointsAfter int  `json:"source_parent_points_after"`
	TargetParentPointsAfter int  `json:"target_parent_points_after"`
}

// PreviewTransfer decides whether moved points can leave the source parent.
// The target has no upper bound.
func PreviewTransfer(sourceParentPoints, targetParentPoints, movedTaskPoints int) Transfer {
	if movedTaskPoints < 0 || sourceParentPoints < movedTaskPoints {
		return Transfer{
			SourceParentPointsAfter: sourceParentPoints,
			TargetParentPointsAfter: targetParentPoints,
		}
	}
	return Transfer{
		Transferable:            true,
		SourceParentPointsAfter: sourceParentPoints - movedTaskPoints,
		TargetParentPointsAfter: targetParentPoints + movedTaskPoints,
	}
}

// Move is a validated move plan.
type Move struct {
	TaskID         string
	SourceParentID string
	TargetParentID string
	Points         int
	Transfer       Transfer
}

// CheckMove validates moving movedID under targetParentID. Checks run in
// order: root, target existence, cycle, team scope, then the budget.
func CheckMove(snap domain.Snapshot, movedID, targetParentID string) (Move, error) {
	moved, ok := snap[movedID]
	if !ok {
		return Move{}, apperr.NotFoundf("task %s not found", movedID)
	}
	if moved.ParentID == nil {
		return Move{}, apperr.Conflictf("root task cannot be moved")
	}
	target, ok := snap[targetParentID]
	if !ok {
		return Move{}, apperr.NotFoundf("target parent %s not found", targetParentID)
	}
	source, ok := snap[*moved.ParentID]
	if !ok {
		return Move{}, apperr.NotFoundf("source parent %s not found", *moved.ParentID)
	}
	if CreatesCycle(snap, movedID, targetParentID) {
		return Move{}, apperr.Conflictf("cycle detected: %s cannot move under %s", movedID, targetParentID).
			With("task_id", movedID).With("target_parent_id", targetParentID)
	}
	if CrossTeam(target.TeamName, moved.TeamName) {
		return Move{}, apperr.Conflictf("cross-team move not allowed").
			With("target_team", *target.TeamName).With("task_team", teamOrEmpty(moved.TeamName))
	}
	tr := PreviewTransfer(source.Points, target.Points, moved.Points)
	plan := Move{
		TaskID:         movedID,
		SourceParentID: source.ID,
		TargetParentID: target.ID,
		Points:         moved.Points,
		Transfer:       tr,
	}
	if !tr.Transferable {
		return plan, apperr.Conflictf("insufficient points on source parent").
			With("available", source.Points).With("required", moved.Points)
	}
	return plan, nil
}

// CreatesCycle walks from targetParentID up and reports whether movedID is
// met. A revisit is treated as a cycle.
func CreatesCycle(snap domain.Snapshot, movedID, targetParentID string) bool {
	visited := make(map[string]struct{})
	id := targetParentID
	for {
		if id == movedID {
			return true
		}
		if _, seen := visited[id]; seen {
			return true
		}
		visited[id] = struct{}{}
		node, ok := snap[id]
		if !ok || node.ParentID == nil {
			return false
		}
		id = *node.ParentID
	}
}

// CrossTeam reports whether a team-scoped target rejects a task of another
// team. Team-agnostic targets accept anything.
func CrossTeam(targetTeam, taskTeam *string) bool {
	if targetTeam == nil || *targetTeam == "" {
		return false
	}
	return teamOrEmpty(taskTeam) != *targetTeam
}

// Headroom is the part of a parent's budget not yet carved out by children.
func Headroom(snap domain.Snapshot, parentID string) int {
	parent, ok := snap[parentID]
	if !ok {
		return 0
	}
	return parent.Points - coord.ChildPoints(parentID, snap)
}

// CheckCarve validates creating a child with points under parentID.
func CheckCarve(snap domain.Snapshot, parentID string, points int) error {
	if points < 0 {
		return apperr.Validationf("points must be non-negative")
	}
	if _, ok := snap[parentID]; !ok {
		return apperr.NotFoundf("parent %s not found", parentID)
	}
	if free := Headroom(snap, parentID); free < points {
		return apperr.Conflictf("insufficient points on parent").
			With("available", free).With("required", points)
	}
	return nil
}

// CheckRebudget validates changing taskID's points to newPoints: the task
// must still cover its children, and an increase must fit in the parent's
// headroom.
func CheckRebudget(snap domain.Snapshot, taskID string, newPoints int) error {
	if newPoints < 0 {
		return apperr.Validationf("points must be non-negative")
	}
	task, ok := snap[taskID]
	if !ok {
		return apperr.NotFoundf("task %s not found", taskID)
	}
	if carved := coord.ChildPoints(taskID, snap); newPoints < carved {
		return apperr.Conflictf("points below children's total").
			With("children_points", carved).With("requested", newPoints)
	}
	delta := newPoints - task.Points
	if delta <= 0 || task.ParentID == nil {
		return nil
	}
	if free := Headroom(snap, *task.ParentID); free < delta {
		return apperr.Conflictf("insufficient points on parent").
			With("available", free).With("required", delta)
	}
	return nil
}

func teamOrEmpty(team *string) string {
	if team == nil {
		return ""
	}
	return *team
}
