// Package proposal holds the decision rules for delegation and alias-change
// proposals. It decides who may act on a proposal and what accepting it
// does; persistence is left to the engine.
package proposal

import (
	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
)

// Action is something an actor can do to a proposal.
type Action string

const (
	ActionAccept      Action = "accept"
	ActionReject      Action = "reject"
	ActionAcknowledge Action = "acknowledge"
	ActionWithdraw    Action = "withdraw"
)

// CanActorDecideProposal reports whether actor may accept or reject.
// Self-registrations are decided by an effective coordinator other than the
// volunteer; nominations only by the nominee. Without a nominee nobody can
// decide.
func CanActorDecideProposal(proposer string, proposed *string, actor string, effective []string) bool {
	if proposed == nil || *proposed == "" || actor == "" {
		return false
	}
	if *proposed == proposer {
		return actor != proposer && coord.Contains(effective, actor)
	}
	return actor == *proposed
}

// Transition validates action against the proposal's current state and
// returns the status after it. A deleted proposal is reported with deleted
// set to true.
func Transition(status domain.ProposalStatus, action Action) (next domain.ProposalStatus, deleted bool, err error) {
	switch action {
	case ActionAccept:
		if status != domain.ProposalOpen {
			return status, false, apperr.Conflictf("proposal is %s, cannot accept", status)
		}
		return status, true, nil
	case ActionReject:
		if status != domain.ProposalOpen {
			return status, false, apperr.Conflictf("proposal is %s, cannot reject", status)
		}
		return domain.ProposalAfgewezen, false, nil
	case ActionAcknowledge:
		if status != domain.ProposalAfgewezen {
			return status, false, apperr.Conflictf("only rejected proposals can be acknowledged")
		}
		return status, true, nil
	case ActionWithdraw:
		if status != domain.ProposalOpen {
			return status, false, apperr.Conflictf("only open proposals can be withdrawn")
		}
		return status, true, nil
	default:
		return status, false, apperr.Validationf("unknown action %q", action)
	}
}

// Decide checks that actor may take a decision on p and returns the status
// it leads to.
func Decide(p domain.OpenTask, actor string, effective []string, accept bool) (domain.ProposalStatus, error) {
	action := ActionReject
	if accept {
		action = ActionAccept
	}
	if p.ProposedAlias == nil {
		return p.Status, apperr.PermissionDeniedf("proposal %s has no nominee yet", p.ID)
	}
	if !CanActorDecideProposal(p.ProposerAlias, p.ProposedAlias, actor, effective) {
		return p.Status, apperr.PermissionDeniedf("%s cannot decide proposal %s", actor, p.ID)
	}
	if accept && !NominationBacked(p, effective) {
		return p.Status, apperr.PermissionDeniedf("%s no longer coordinates the task of proposal %s", p.ProposerAlias, p.ID)
	}
	next, _, err := Transition(p.Status, action)
	return next, err
}

// NominationBacked reports whether a nomination's proposer still belongs to
// the task's effective coordinators. Self-registrations and requests are
// always backed.
func NominationBacked(p domain.OpenTask, effective []string) bool {
	if p.ProposedAlias == nil || *p.ProposedAlias == p.ProposerAlias {
		return true
	}
	return coord.Contains(effective, p.ProposerAlias)
}

// Acknowledge checks that actor may clear a rejected proposal. Only the
// original proposer can.
func Acknowledge(proposer string, status domain.ProposalStatus, actor string) error {
	if actor != proposer {
		return apperr.PermissionDeniedf("only the proposer can acknowledge")
	}
	_, _, err := Transition(status, ActionAcknowledge)
	return err
}

// Withdraw checks that actor may retract an open proposal.
func Withdraw(p domain.OpenTask, actor string) error {
	if actor != p.ProposerAlias {
		return apperr.PermissionDeniedf("only the proposer can withdraw")
	}
	_, _, err := Transition(p.Status, ActionWithdraw)
	return err
}

// Accepted is the task state after an accepted proposal.
type Accepted struct {
	OwnCoordinatorAliases []string
	Status                domain.TaskStatus
}

// ApplyAccept adds the nominee to the task's own coordinators and marks it
// assigned. Points are untouched.
func ApplyAccept(own []string, proposed string) Accepted {
	return Accepted{
		OwnCoordinatorAliases: coord.UnionAliases(own, proposed),
		Status:                domain.StatusToegewezen,
	}
}

// IsRelevant reports whether p belongs in actor's listing: they can decide
// it, proposed it, or were proposed by it.
func IsRelevant(p domain.OpenTask, actor string, effective []string) bool {
	if actor == "" {
		return false
	}
	if p.ProposerAlias == actor {
		return true
	}
	if p.ProposedAlias != nil && *p.ProposedAlias == actor {
		return true
	}
	if p.Status == domain.ProposalAfgewezen {
		return false
	}
	if p.ProposedAlias == nil {
		// unnamed requests are waiting on a coordinator to fill in a nominee
		return coord.Contains(effective, actor)
	}
	return CanActorDecideProposal(p.ProposerAlias, p.ProposedAlias, actor, effective)
}

// CanDecideAliasChange reports whether actor may decide an alias change.
func CanDecideAliasChange(p domain.AliasChangeProposal, actor string, isBestuur bool) bool {
	return isBestuur && actor != "" && actor != p.RequesterAlias
}

// DecideAliasChange checks eligibility and state for an alias decision.
func DecideAliasChange(p domain.AliasChangeProposal, actor string, isBestuur, accept bool) (domain.ProposalStatus, error) {
	if !CanDecideAliasChange(p, actor, isBestuur) {
		return p.Status, apperr.PermissionDeniedf("%s cannot decide alias change %s", actor, p.ID)
	}
	action := ActionReject
	if accept {
		action = ActionAccept
	}
	next, _, err := Transition(p.Status, action)
	return next, err
}

// IsAliasChangeRelevant mirrors IsRelevant for alias changes: bestuur sees
// every open request, requesters see their own.
func IsAliasChangeRelevant(p domain.AliasChangeProposal, actor string, isBestuur bool) bool {
	if actor == "" {
		return false
	}
	if p.RequesterAlias == actor {
		return true
	}
	return isBestuur && p.Status == domain.ProposalOpen
}
