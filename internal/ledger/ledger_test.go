package ledger_test

import (
	"testing"

	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
	"coordline/internal/ledger"
)

func ptr(s string) *string { return &s }

func TestPreviewTransfer(t *testing.T) {
	cases := []struct {
		name                string
		source, target, mov int
		want                ledger.Transfer
	}{
		{"exact", 10, 0, 10, ledger.Transfer{Transferable: true, SourceParentPointsAfter: 0, TargetParentPointsAfter: 10}},
		{"partial", 30, 5, 10, ledger.Transfer{Transferable: true, SourceParentPointsAfter: 20, TargetParentPointsAfter: 15}},
		{"zero", 0, 0, 0, ledger.Transfer{Transferable: true}},
		{"short", 9, 100, 10, ledger.Transfer{SourceParentPointsAfter: 9, TargetParentPointsAfter: 100}},
		{"negative", 9, 1, -1, ledger.Transfer{SourceParentPointsAfter: 9, TargetParentPointsAfter: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ledger.PreviewTransfer(tc.source, tc.target, tc.mov)
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
			if got.Transferable {
				if got.SourceParentPointsAfter+got.TargetParentPointsAfter != tc.source+tc.target {
					t.Fatalf("points not conserved: %+v", got)
				}
			}
		})
	}
}

func vereniging() domain.Snapshot {
	return domain.Snapshot{
		"root": {ID: "root", Points: 3000, OwnCoordinatorAliases: []string{"Bestuur"}},
		"penn": {ID: "penn", ParentID: ptr("root"), Points: 600},
		"leeg": {ID: "leeg", ParentID: ptr("root"), Points: 0},
	}
}

func TestPenningmeesterScenario(t *testing.T) {
	snap := vereniging()
	if got := coord.ResolveEffectiveCoordinators("penn", snap); len(got) != 1 || got[0] != "Bestuur" {
		t.Fatalf("effective coordinators: %v", got)
	}
	plan, err := ledger.CheckMove(snap, "penn", "leeg")
	if err != nil {
		t.Fatalf("move into zero-point target should pass: %v", err)
	}
	if plan.Transfer.SourceParentPointsAfter != 2400 || plan.Transfer.TargetParentPointsAfter != 600 {
		t.Fatalf("unexpected transfer %+v", plan.Transfer)
	}
	if plan.SourceParentID != "root" || plan.TargetParentID != "leeg" || plan.Points != 600 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestCheckMoveRejections(t *testing.T) {
	team := "jeugd"
	other := "senioren"
	snap := domain.Snapshot{
		"root":  {ID: "root", Points: 100},
		"a":     {ID: "a", ParentID: ptr("root"), Points: 50},
		"a1":    {ID: "a1", ParentID: ptr("a"), Points: 20},
		"small": {ID: "small", ParentID: ptr("root"), Points: 5},
		"s1":    {ID: "s1", ParentID: ptr("small"), Points: 5},
		"big":   {ID: "big", ParentID: ptr("s1"), Points: 40},
		"teamA": {ID: "teamA", ParentID: ptr("root"), Points: 10, TeamName: &team},
		"teamB": {ID: "teamB", ParentID: ptr("root"), Points: 10, TeamName: &other},
	}
	cases := []struct {
		name, moved, target string
		kind                apperr.Kind
	}{
		{"root", "root", "a", apperr.Conflict},
		{"missing target", "a1", "nope", apperr.NotFound},
		{"missing task", "nope", "a", apperr.NotFound},
		{"under itself", "a", "a", apperr.Conflict},
		{"under descendant", "a", "a1", apperr.Conflict},
		{"cross team", "a1", "teamA", apperr.Conflict},
		{"team to other team", "teamB", "teamA", apperr.Conflict},
		{"insufficient source", "big", "root", apperr.Conflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.CheckMove(snap, tc.moved, tc.target)
			if !apperr.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
	// team-agnostic target accepts a team task
	if _, err := ledger.CheckMove(snap, "teamA", "a"); err != nil {
		t.Fatalf("team-agnostic target should accept: %v", err)
	}
}

func TestCreatesCycleGuardsCorruptChains(t *testing.T) {
	snap := domain.Snapshot{
		"m": {ID: "m", ParentID: ptr("r")},
		"x": {ID: "x", ParentID: ptr("y")},
		"y": {ID: "y", ParentID: ptr("x")},
	}
	if !ledger.CreatesCycle(snap, "m", "x") {
		t.Fatalf("looping chain must be treated as a cycle")
	}
	if ledger.CreatesCycle(snap, "m", "unknown") {
		t.Fatalf("missing node ends the walk")
	}
}

func TestCarveAndRebudget(t *testing.T) {
	snap := domain.Snapshot{
		"root": {ID: "root", Points: 100},
		"a":    {ID: "a", ParentID: ptr("root"), Points: 60},
		"a1":   {ID: "a1", ParentID: ptr("a"), Points: 30},
	}
	if got := ledger.Headroom(snap, "root"); got != 40 {
		t.Fatalf("headroom: %d", got)
	}
	if err := ledger.CheckCarve(snap, "root", 40); err != nil {
		t.Fatalf("carve within headroom: %v", err)
	}
	if err := ledger.CheckCarve(snap, "root", 41); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("carve over headroom: %v", err)
	}
	if err := ledger.CheckCarve(snap, "root", -1); !apperr.IsKind(err, apperr.Validation) {
		t.Fatalf("negative carve: %v", err)
	}
	if err := ledger.CheckRebudget(snap, "a", 29); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("below children: %v", err)
	}
	if err := ledger.CheckRebudget(snap, "a", 30); err != nil {
		t.Fatalf("decrease to children total: %v", err)
	}
	if err := ledger.CheckRebudget(snap, "a", 100); err != nil {
		t.Fatalf("increase within headroom: %v", err)
	}
	if err := ledger.CheckRebudget(snap, "a", 101); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("increase over headroom: %v", err)
	}
	if err := ledger.CheckRebudget(snap, "root", 5000); err != nil {
		t.Fatalf("root has no parent budget: %v", err)
	}
}
