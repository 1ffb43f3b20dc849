package coord_test

import (
	"reflect"
	"testing"

	"coordline/internal/coord"
	"coordline/internal/domain"
)

func ptr(s string) *string { return &s }

func node(id string, parent *string, points int, aliases ...string) domain.TaskNode {
	return domain.TaskNode{ID: id, ParentID: parent, Points: points, OwnCoordinatorAliases: aliases}
}

// root(edgar) -> a(thomas) -> a-child()
func narrowingSnapshot() domain.Snapshot {
	return domain.Snapshot{
		"root":    node("root", nil, 100, "edgar"),
		"a":       node("a", ptr("root"), 50, "thomas"),
		"a-child": node("a-child", ptr("a"), 10),
		"b":       node("b", ptr("root"), 20),
	}
}

func TestResolveEffectiveCoordinators(t *testing.T) {
	snap := narrowingSnapshot()
	cases := []struct {
		task string
		want []string
	}{
		{"root", []string{"edgar"}},
		{"a", []string{"thomas"}},
		{"a-child", []string{"thomas"}},
		{"b", []string{"edgar"}},
		{"missing", nil},
	}
	for _, tc := range cases {
		got := coord.ResolveEffectiveCoordinators(tc.task, snap)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.task, got, tc.want)
		}
	}
}

func TestResolveDeduplicatesAndPreservesCase(t *testing.T) {
	snap := domain.Snapshot{"t": node("t", nil, 0, "Bob", "alice", "Bob", " ", "bob")}
	got := coord.ResolveEffectiveCoordinators("t", snap)
	want := []string{"Bob", "alice", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveIsCycleSafe(t *testing.T) {
	snap := domain.Snapshot{
		"self": node("self", ptr("self"), 0),
		"x":    node("x", ptr("y"), 0),
		"y":    node("y", ptr("x"), 0),
	}
	for _, id := range []string{"self", "x", "y"} {
		if got := coord.ResolveEffectiveCoordinators(id, snap); got != nil {
			t.Fatalf("%s: expected empty set on cycle, got %v", id, got)
		}
		if coord.HasPermission("anyone", id, domain.PermRead, snap) {
			t.Fatalf("%s: cycle must grant nothing", id)
		}
	}
	if got := coord.Ancestors("x", snap); !reflect.DeepEqual(got, []string{"y"}) {
		t.Fatalf("ancestors on cycle: %v", got)
	}
}

func TestResolveStopsAtDanglingParent(t *testing.T) {
	snap := domain.Snapshot{"orphan": node("orphan", ptr("gone"), 0)}
	if got := coord.ResolveEffectiveCoordinators("orphan", snap); got != nil {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestOwnCoordinatorsHoldManage(t *testing.T) {
	snap := domain.Snapshot{
		"root": node("root", nil, 10, "ann", "ben"),
		"kid":  node("kid", ptr("root"), 5, "cas", "dee"),
	}
	for id, n := range snap {
		for _, a := range n.OwnCoordinatorAliases {
			if !coord.HasPermission(a, id, domain.PermManage, snap) {
				t.Fatalf("%s should manage %s", a, id)
			}
		}
		for _, outsider := range []string{"zed", "Ann"} {
			if coord.HasPermission(outsider, id, domain.PermManage, snap) {
				t.Fatalf("%s must not manage %s", outsider, id)
			}
			if !coord.HasPermission(outsider, id, domain.PermRead, snap) ||
				!coord.HasPermission(outsider, id, domain.PermOpen, snap) {
				t.Fatalf("%s should read and open %s", outsider, id)
			}
		}
	}
}

func TestUncoordinatedRootGrantsNothing(t *testing.T) {
	snap := domain.Snapshot{"root": node("root", nil, 10)}
	for _, level := range []domain.Permission{domain.PermRead, domain.PermOpen, domain.PermManage} {
		if coord.HasPermission("anyone", "root", level, snap) {
			t.Fatalf("level %s granted on uncoordinated root", level)
		}
	}
	if got := coord.Permissions("anyone", "root", snap); len(got) != 0 {
		t.Fatalf("expected no permissions, got %v", got)
	}
}

func TestDelegationNarrowing(t *testing.T) {
	snap := narrowingSnapshot()
	if !coord.HasPermission("edgar", "a-child", domain.PermRead, snap) {
		t.Fatalf("edgar should keep READ below the delegation")
	}
	if !coord.HasPermission("edgar", "a-child", domain.PermOpen, snap) {
		t.Fatalf("edgar should keep OPEN below the delegation")
	}
	if coord.HasPermission("edgar", "a-child", domain.PermManage, snap) {
		t.Fatalf("edgar must lose MANAGE below the delegation")
	}
	if coord.HasPermission("edgar", "a", domain.PermManage, snap) {
		t.Fatalf("edgar must lose MANAGE on the delegated node")
	}
	if !coord.HasPermission("thomas", "a-child", domain.PermManage, snap) {
		t.Fatalf("thomas should manage the grandchild")
	}
	if !coord.HasPermission("edgar", "b", domain.PermManage, snap) {
		t.Fatalf("edgar should manage undelegated children")
	}
	if coord.HasPermission("", "b", domain.PermRead, snap) {
		t.Fatalf("anonymous actor must be denied")
	}
}

func TestEffectiveCoordinationType(t *testing.T) {
	snap := narrowingSnapshot()
	if got := coord.EffectiveCoordinationType("a-child", snap); got != domain.Delegeren {
		t.Fatalf("default should be DELEGEREN, got %s", got)
	}
	a := snap["a"]
	a.CoordinationType = domain.Organiseren
	next := domain.Snapshot{}
	for k, v := range snap {
		next[k] = v
	}
	next["a"] = a
	if got := coord.EffectiveCoordinationType("a-child", next); got != domain.Organiseren {
		t.Fatalf("inherited type: got %s", got)
	}
	if got := coord.EffectiveCoordinationType("b", next); got != domain.Delegeren {
		t.Fatalf("sibling must not inherit: got %s", got)
	}
}

func TestPrimaryCoordinatorAlias(t *testing.T) {
	if got := coord.PrimaryCoordinatorAlias([]string{"thomas", "Edgar", "anna"}); got != "Edgar" {
		t.Fatalf("got %q", got)
	}
	if got := coord.PrimaryCoordinatorAlias(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestTreeHelpers(t *testing.T) {
	snap := narrowingSnapshot()
	if got := coord.Ancestors("a-child", snap); !reflect.DeepEqual(got, []string{"a", "root"}) {
		t.Fatalf("ancestors: %v", got)
	}
	if got := coord.Subtree("a", snap); !reflect.DeepEqual(got, []string{"a", "a-child"}) {
		t.Fatalf("subtree: %v", got)
	}
	if got := coord.ChildPoints("root", snap); got != 70 {
		t.Fatalf("child points: %d", got)
	}
	if got := coord.Roots(snap); !reflect.DeepEqual(got, []string{"root"}) {
		t.Fatalf("roots: %v", got)
	}
	if got := coord.UnionAliases([]string{"b", "a"}, "a", "c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("union: %v", got)
	}
	if got := coord.RemoveAlias([]string{"a", "b"}, "a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("remove: %v", got)
	}
}
