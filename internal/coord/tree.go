package coord

import (
	"sort"

	"coordline/internal/domain"
)

// Ancestors returns the parent chain of taskID, nearest first. The walk stops
// at the root, at a missing node, or on a revisit.
func Ancestors(taskID string, snap domain.Snapshot) []string {
	var out []string
	visited := map[string]struct{}{taskID: {}}
	node, ok := snap[taskID]
	for ok && node.ParentID != nil {
		pid := *node.ParentID
		if _, seen := visited[pid]; seen {
			break
		}
		visited[pid] = struct{}{}
		out = append(out, pid)
		node, ok = snap[pid]
	}
	return out
}

// Children indexes the snapshot by parent id. Child lists are sorted.
func Children(snap domain.Snapshot) map[string][]string {
	out := make(map[string][]string)
	for id, node := range snap {
		if node.ParentID == nil {
			continue
		}
		out[*node.ParentID] = append(out[*node.ParentID], id)
	}
	for pid := range out {
		sort.Strings(out[pid])
	}
	return out
}

// Subtree returns rootID and all of its descendants in breadth-first order.
func Subtree(rootID string, snap domain.Snapshot) []string {
	if _, ok := snap[rootID]; !ok {
		return nil
	}
	children := Children(snap)
	seen := map[string]struct{}{rootID: {}}
	out := []string{rootID}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i]] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// ChildPoints sums the points of the direct children of parentID.
func ChildPoints(parentID string, snap domain.Snapshot) int {
	total := 0
	for _, node := range snap {
		if node.ParentID != nil && *node.ParentID == parentID {
			total += node.Points
		}
	}
	return total
}

// Roots returns the ids of nodes without a parent.
func Roots(snap domain.Snapshot) []string {
	var out []string
	for id, node := range snap {
		if node.ParentID == nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
