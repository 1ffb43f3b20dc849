// Package coord derives coordinator authority from the task tree.
//
// All functions are pure over a domain.Snapshot: they never load, cache or
// mutate state, so they are safe to call from concurrent request handlers.
package coord

import (
	"sort"
	"strings"

	"coordline/internal/domain"
)

// ResolveEffectiveCoordinators walks from taskID towards the root and returns
// the first non-empty own coordinator set it meets, deduplicated and sorted.
// It returns nil when the root is reached without coordinators, when a node
// is missing from the snapshot, or when a node is visited twice.
func ResolveEffectiveCoordinators(taskID string, snap domain.Snapshot) []string {
	visited := make(map[string]struct{})
	id := taskID
	for {
		if _, seen := visited[id]; seen {
			return nil
		}
		visited[id] = struct{}{}
		node, ok := snap[id]
		if !ok {
			return nil
		}
		if set := NormalizeAliases(node.OwnCoordinatorAliases); len(set) > 0 {
			return set
		}
		if node.ParentID == nil {
			return nil
		}
		id = *node.ParentID
	}
}

// EffectiveCoordinationType returns the nearest explicit coordination type on
// the ancestor chain, defaulting to DELEGEREN.
func EffectiveCoordinationType(taskID string, snap domain.Snapshot) domain.CoordinationType {
	visited := make(map[string]struct{})
	id := taskID
	for {
		if _, seen := visited[id]; seen {
			break
		}
		visited[id] = struct{}{}
		node, ok := snap[id]
		if !ok {
			break
		}
		if node.CoordinationType != "" {
			return node.CoordinationType
		}
		if node.ParentID == nil {
			break
		}
		id = *node.ParentID
	}
	return domain.Delegeren
}

// NormalizeAliases trims, drops empties and removes exact duplicates. Case is
// preserved. The result is sorted so callers get a deterministic order.
func NormalizeAliases(aliases []string) []string {
	if len(aliases) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// UnionAliases merges set with extra, normalised.
func UnionAliases(set []string, extra ...string) []string {
	merged := make([]string, 0, len(set)+len(extra))
	merged = append(merged, set...)
	merged = append(merged, extra...)
	return NormalizeAliases(merged)
}

// RemoveAlias returns set without alias.
func RemoveAlias(set []string, alias string) []string {
	out := make([]string, 0, len(set))
	for _, a := range set {
		if a != alias {
			out = append(out, a)
		}
	}
	return NormalizeAliases(out)
}

// Contains reports whether alias is a member of set.
func Contains(set []string, alias string) bool {
	if alias == "" {
		return false
	}
	for _, a := range set {
		if a == alias {
			return true
		}
	}
	return false
}
