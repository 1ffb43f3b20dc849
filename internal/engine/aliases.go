package engine

import (
	"context"
	"database/sql"
	"strings"

	"coordline/internal/apperr"
	"coordline/internal/domain"
	"coordline/internal/events"
	"coordline/internal/notify"
	"coordline/internal/proposal"
	"coordline/internal/repo"
)

// RequestAliasChange asks the bestuur to rename actor to requested.
func (e Engine) RequestAliasChange(ctx context.Context, actor, requested string) (domain.AliasChangeProposal, error) {
	requested = strings.TrimSpace(requested)
	if err := e.Auth.ValidateAlias(requested); err != nil {
		return domain.AliasChangeProposal{}, err
	}
	if requested == actor {
		return domain.AliasChangeProposal{}, apperr.Validationf("requested alias equals the current alias")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AliasChangeProposal{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetActor(ctx, tx, actor); err != nil {
		return domain.AliasChangeProposal{}, storeErr(err, "actor "+actor)
	}
	if err := e.ensureAliasFree(ctx, tx, requested, actor, ""); err != nil {
		return domain.AliasChangeProposal{}, err
	}
	p := domain.AliasChangeProposal{
		ID:             newID(),
		RequesterAlias: actor,
		CurrentAlias:   actor,
		RequestedAlias: requested,
		Status:         domain.ProposalOpen,
		CreatedAt:      e.stamp(),
	}
	if err := e.Repo.InsertAliasChange(ctx, tx, p); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.AliasChangeProposal{}, apperr.Conflictf("%s already has an open alias change, or %s is already requested", actor, requested)
		}
		return domain.AliasChangeProposal{}, err
	}
	bestuur, err := e.Repo.ActorsWithRole(ctx, tx, domain.RoleBestuur)
	if err != nil {
		return domain.AliasChangeProposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AliasChangeProposal{}, err
	}
	e.afterCommit(ctx, aliasFact("alias_change.request", p, actor), notify.Notification{
		Kind:    notify.DecisionRequired,
		Aliases: bestuur,
		Payload: aliasPayload(p),
	})
	return p, nil
}

// DecideAliasChange accepts or rejects an alias change. Accepting renames
// the actor everywhere in one transaction; if the alias was claimed in the
// meantime nothing changes.
func (e Engine) DecideAliasChange(ctx context.Context, id, actor string, accept bool) (domain.AliasChangeProposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AliasChangeProposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetAliasChange(ctx, tx, id)
	if err != nil {
		return domain.AliasChangeProposal{}, storeErr(err, "alias change "+id)
	}
	isBestuur, err := e.Auth.IsBestuur(ctx, tx, actor)
	if err != nil {
		return p, err
	}
	next, err := proposal.DecideAliasChange(p, actor, isBestuur, accept)
	if err != nil {
		return p, err
	}
	action := "alias_change.rejected"
	inform := p.RequesterAlias
	if accept {
		action = "alias_change.accepted"
		inform = p.RequestedAlias
		if err := e.ensureAliasFree(ctx, tx, p.RequestedAlias, p.CurrentAlias, p.ID); err != nil {
			return p, err
		}
		if err := e.Repo.DeleteAliasChange(ctx, tx, p.ID, domain.ProposalOpen); err != nil {
			return p, storeErr(err, "alias change "+p.ID)
		}
		if err := e.Repo.RenameActor(ctx, tx, p.CurrentAlias, p.RequestedAlias); err != nil {
			if repo.IsUniqueViolation(err) {
				return p, apperr.Conflictf("alias %s was claimed concurrently", p.RequestedAlias)
			}
			return p, storeErr(err, "actor "+p.CurrentAlias)
		}
	} else {
		if err := e.Repo.SetAliasChangeStatus(ctx, tx, p.ID, domain.ProposalOpen, next); err != nil {
			return p, storeErr(err, "alias change "+p.ID)
		}
		p.Status = next
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.afterCommit(ctx, aliasFact(action, p, actor), notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: []string{inform},
		Payload: aliasPayload(p),
	})
	return p, nil
}

// AcknowledgeAliasChange clears a rejected alias change. Only the requester
// can.
func (e Engine) AcknowledgeAliasChange(ctx context.Context, id, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetAliasChange(ctx, tx, id)
	if err != nil {
		return storeErr(err, "alias change "+id)
	}
	if err := proposal.Acknowledge(p.RequesterAlias, p.Status, actor); err != nil {
		return err
	}
	if err := e.Repo.DeleteAliasChange(ctx, tx, p.ID, domain.ProposalAfgewezen); err != nil {
		return storeErr(err, "alias change "+p.ID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.afterCommit(ctx, aliasFact("alias_change.acknowledged", p, actor))
	return nil
}

// AliasChangeView is an alias change as seen by one actor.
type AliasChangeView struct {
	domain.AliasChangeProposal
	CanDecide bool `json:"can_decide"`
}

// ListAliasChanges returns the bestuur's open queue plus actor's own
// requests.
func (e Engine) ListAliasChanges(ctx context.Context, actor string) ([]AliasChangeView, error) {
	isBestuur, err := e.Auth.IsBestuur(ctx, nil, actor)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListAliasChanges(ctx, nil, repo.AliasChangeFilters{})
	if err != nil {
		return nil, err
	}
	out := []AliasChangeView{}
	for _, p := range all {
		if !proposal.IsAliasChangeRelevant(p, actor, isBestuur) {
			continue
		}
		out = append(out, AliasChangeView{
			AliasChangeProposal: p,
			CanDecide:           p.Status == domain.ProposalOpen && proposal.CanDecideAliasChange(p, actor, isBestuur),
		})
	}
	return out, nil
}

// ensureAliasFree fails when alias belongs to another actor or is already
// requested by another open change. Changing only the casing of owner's
// own alias is allowed.
func (e Engine) ensureAliasFree(ctx context.Context, tx *sql.Tx, alias, owner, excludeID string) error {
	taken, err := e.Repo.AliasTaken(ctx, tx, alias)
	if err != nil {
		return err
	}
	if taken && !strings.EqualFold(alias, owner) {
		return apperr.Conflictf("alias %s is already in use", alias)
	}
	claimed, err := e.Repo.RequestedAliasTaken(ctx, tx, alias, excludeID)
	if err != nil {
		return err
	}
	if claimed {
		return apperr.Conflictf("alias %s is already requested", alias)
	}
	return nil
}

func aliasFact(action string, p domain.AliasChangeProposal, actor string) events.Fact {
	return events.Fact{
		ActionType: action,
		EntityType: events.EntityAliasChange,
		EntityID:   p.ID,
		ActorAlias: actor,
		Payload:    events.Payload{"current": p.CurrentAlias, "requested": p.RequestedAlias, "status": p.Status},
	}
}

func aliasPayload(p domain.AliasChangeProposal) map[string]any {
	return map[string]any{"alias_change_id": p.ID, "current": p.CurrentAlias, "requested": p.RequestedAlias}
}
