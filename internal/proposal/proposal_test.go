package proposal_test

import (
	"reflect"
	"testing"

	"coordline/internal/apperr"
	"coordline/internal/domain"
	"coordline/internal/proposal"
)

func ptr(s string) *string { return &s }

func TestCanActorDecideProposal(t *testing.T) {
	effective := []string{"carla"}
	cases := []struct {
		name     string
		proposer string
		proposed *string
		actor    string
		want     bool
	}{
		{"self-registration by coordinator", "vera", ptr("vera"), "carla", true},
		{"self-registration by volunteer", "vera", ptr("vera"), "vera", false},
		{"self-registration by volunteer who coordinates", "carla", ptr("carla"), "carla", false},
		{"self-registration by outsider", "vera", ptr("vera"), "otto", false},
		{"nomination by nominee", "carla", ptr("vera"), "vera", true},
		{"nomination by nominator", "carla", ptr("vera"), "carla", false},
		{"nomination by outsider", "carla", ptr("vera"), "otto", false},
		{"no nominee", "carla", nil, "carla", false},
		{"empty nominee", "carla", ptr(""), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := proposal.CanActorDecideProposal(tc.proposer, tc.proposed, tc.actor, effective); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestDecideAndAcknowledgeRoundTrip(t *testing.T) {
	p := domain.OpenTask{ID: "p1", TaskID: "t1", ProposerAlias: "vera", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen}
	effective := []string{"carla"}

	if _, err := proposal.Decide(p, "vera", effective, true); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("volunteer cannot accept own registration: %v", err)
	}
	next, err := proposal.Decide(p, "carla", effective, false)
	if err != nil || next != domain.ProposalAfgewezen {
		t.Fatalf("reject: %v %s", err, next)
	}
	p.Status = next
	if _, err := proposal.Decide(p, "carla", effective, true); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("accept after reject must conflict: %v", err)
	}
	if err := proposal.Acknowledge(p.ProposerAlias, p.Status, "carla"); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("only proposer acknowledges: %v", err)
	}
	if err := proposal.Acknowledge(p.ProposerAlias, p.Status, "vera"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := proposal.Acknowledge("vera", domain.ProposalOpen, "vera"); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("open proposals cannot be acknowledged: %v", err)
	}
}

func TestDecideWithoutNominee(t *testing.T) {
	p := domain.OpenTask{ID: "p2", ProposerAlias: "carla", Status: domain.ProposalOpen}
	if _, err := proposal.Decide(p, "carla", []string{"carla"}, true); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	p := domain.OpenTask{ID: "p3", ProposerAlias: "carla", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen}
	if err := proposal.Withdraw(p, "vera"); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("nominee cannot withdraw: %v", err)
	}
	if err := proposal.Withdraw(p, "carla"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	p.Status = domain.ProposalAfgewezen
	if err := proposal.Withdraw(p, "carla"); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("rejected proposals are acknowledged, not withdrawn: %v", err)
	}
}

func TestApplyAcceptAddsCoordinator(t *testing.T) {
	got := proposal.ApplyAccept([]string{"thomas"}, "anna")
	if got.Status != domain.StatusToegewezen {
		t.Fatalf("status: %s", got.Status)
	}
	if !reflect.DeepEqual(got.OwnCoordinatorAliases, []string{"anna", "thomas"}) {
		t.Fatalf("own set: %v", got.OwnCoordinatorAliases)
	}
	again := proposal.ApplyAccept(got.OwnCoordinatorAliases, "anna")
	if !reflect.DeepEqual(again.OwnCoordinatorAliases, []string{"anna", "thomas"}) {
		t.Fatalf("union must deduplicate: %v", again.OwnCoordinatorAliases)
	}
}

func TestIsRelevant(t *testing.T) {
	effective := []string{"carla"}
	selfReg := domain.OpenTask{ProposerAlias: "vera", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen}
	nomination := domain.OpenTask{ProposerAlias: "carla", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen}
	request := domain.OpenTask{ProposerAlias: "vera", Status: domain.ProposalOpen}
	rejected := domain.OpenTask{ProposerAlias: "vera", ProposedAlias: ptr("vera"), Status: domain.ProposalAfgewezen}

	check := func(name string, p domain.OpenTask, actor string, want bool) {
		t.Helper()
		if got := proposal.IsRelevant(p, actor, effective); got != want {
			t.Fatalf("%s/%s: got %v want %v", name, actor, got, want)
		}
	}
	check("selfReg", selfReg, "vera", true)
	check("selfReg", selfReg, "carla", true)
	check("selfReg", selfReg, "otto", false)
	check("nomination", nomination, "vera", true)
	check("nomination", nomination, "carla", true)
	check("nomination", nomination, "otto", false)
	check("request", request, "carla", true)
	check("request", request, "otto", false)
	check("rejected", rejected, "vera", true)
	check("rejected", rejected, "carla", false)
	declined := nomination
	declined.Status = domain.ProposalAfgewezen
	check("declined", declined, "vera", true)
	check("declined", declined, "otto", false)
	check("anonymous", selfReg, "", false)
}

func TestAliasChangeRules(t *testing.T) {
	p := domain.AliasChangeProposal{ID: "a1", RequesterAlias: "bert", CurrentAlias: "bert", RequestedAlias: "albert", Status: domain.ProposalOpen}
	if _, err := proposal.DecideAliasChange(p, "bert", true, true); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("bestuur requester cannot decide own change: %v", err)
	}
	if _, err := proposal.DecideAliasChange(p, "otto", false, true); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("non-bestuur cannot decide: %v", err)
	}
	next, err := proposal.DecideAliasChange(p, "bea", true, false)
	if err != nil || next != domain.ProposalAfgewezen {
		t.Fatalf("reject: %v %s", err, next)
	}
	p.Status = next
	if _, err := proposal.DecideAliasChange(p, "bea", true, true); !apperr.IsKind(err, apperr.Conflict) {
		t.Fatalf("accept after reject: %v", err)
	}
	if !proposal.IsAliasChangeRelevant(p, "bert", false) || proposal.IsAliasChangeRelevant(p, "bea", true) {
		t.Fatalf("rejected alias changes are only relevant to the requester")
	}
}

func TestTransitionUnknownAction(t *testing.T) {
	if _, _, err := proposal.Transition(domain.ProposalOpen, "explode"); !apperr.IsKind(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNominationNeedsBackingNominator(t *testing.T) {
	nomination := domain.OpenTask{ID: "p2", ProposerAlias: "carla", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen}
	if _, err := proposal.Decide(nomination, "vera", []string{"carla"}, true); err != nil {
		t.Fatalf("backed nomination: %v", err)
	}
	moved := []string{"thomas"}
	if _, err := proposal.Decide(nomination, "vera", moved, true); !apperr.IsKind(err, apperr.PermissionDenied) {
		t.Fatalf("accepting a lapsed nomination: %v", err)
	}
	next, err := proposal.Decide(nomination, "vera", moved, false)
	if err != nil || next != domain.ProposalAfgewezen {
		t.Fatalf("declining a lapsed nomination: %v %s", err, next)
	}
	selfReg := domain.OpenTask{ProposerAlias: "vera", ProposedAlias: ptr("vera")}
	if !proposal.NominationBacked(selfReg, moved) {
		t.Fatalf("self-registrations carry no nominator")
	}
}
