package engine

import (
	"context"
	"database/sql"
	"strings"

	"coordline/internal/apperr"
	"coordline/internal/coord"
	"coordline/internal/domain"
	"coordline/internal/events"
	"coordline/internal/notify"
	"coordline/internal/proposal"
	"coordline/internal/repo"
)

// RegisterForTask records actor volunteering to coordinate taskID. The
// task's effective coordinators decide.
func (e Engine) RegisterForTask(ctx context.Context, taskID, actor string) (domain.OpenTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OpenTask{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return domain.OpenTask{}, err
	}
	anc, t, err := e.loadTaskForProposal(ctx, tx, taskID)
	if err != nil {
		return domain.OpenTask{}, err
	}
	if !coord.HasPermission(actor, taskID, domain.PermOpen, anc) {
		return domain.OpenTask{}, apperr.PermissionDeniedf("%s cannot register for task %s", actor, taskID)
	}
	effective := coord.ResolveEffectiveCoordinators(taskID, anc)
	if coord.Contains(effective, actor) {
		return domain.OpenTask{}, apperr.Conflictf("%s already coordinates task %s", actor, t.ID)
	}
	self := actor
	p := domain.OpenTask{
		ID:            newID(),
		TaskID:        taskID,
		ProposerAlias: actor,
		ProposedAlias: &self,
		Status:        domain.ProposalOpen,
		CreatedAt:     e.stamp(),
	}
	if err := e.insertProposal(ctx, tx, p); err != nil {
		return domain.OpenTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OpenTask{}, err
	}
	e.afterCommit(ctx, proposalFact("task_proposal.register", p, actor), notify.Notification{
		Kind:    notify.DecisionRequired,
		Aliases: effective,
		Payload: proposalPayload(p, t.Title),
	})
	return p, nil
}

// NominateForTask proposes nominee as coordinator of taskID. Only the
// nominee can accept.
func (e Engine) NominateForTask(ctx context.Context, taskID, nominee, actor string) (domain.OpenTask, error) {
	nominee = strings.TrimSpace(nominee)
	if nominee == "" {
		return domain.OpenTask{}, apperr.Validationf("nominee is required")
	}
	if nominee == actor {
		return domain.OpenTask{}, apperr.Conflictf("register for the task instead of nominating yourself")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OpenTask{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return domain.OpenTask{}, err
	}
	anc, t, err := e.loadTaskForProposal(ctx, tx, taskID)
	if err != nil {
		return domain.OpenTask{}, err
	}
	if !coord.HasPermission(actor, taskID, domain.PermManage, anc) {
		return domain.OpenTask{}, apperr.PermissionDeniedf("%s cannot manage task %s", actor, taskID)
	}
	if err := e.requireActors(ctx, tx, []string{nominee}); err != nil {
		return domain.OpenTask{}, err
	}
	if coord.Contains(t.OwnCoordinatorAliases, nominee) {
		return domain.OpenTask{}, apperr.Conflictf("%s already coordinates task %s", nominee, taskID)
	}
	p := domain.OpenTask{
		ID:            newID(),
		TaskID:        taskID,
		ProposerAlias: actor,
		ProposedAlias: &nominee,
		Status:        domain.ProposalOpen,
		CreatedAt:     e.stamp(),
	}
	if err := e.insertProposal(ctx, tx, p); err != nil {
		return domain.OpenTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OpenTask{}, err
	}
	e.afterCommit(ctx, proposalFact("task_proposal.nominate", p, actor), notify.Notification{
		Kind:    notify.DecisionRequired,
		Aliases: []string{nominee},
		Payload: proposalPayload(p, t.Title),
	})
	return p, nil
}

// RequestDelegate opens a proposal on taskID without a nominee. Nobody can
// decide it until a manager fills one in with SetProposedAlias.
func (e Engine) RequestDelegate(ctx context.Context, taskID, actor string) (domain.OpenTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OpenTask{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, actor, e.now()); err != nil {
		return domain.OpenTask{}, err
	}
	anc, _, err := e.loadTaskForProposal(ctx, tx, taskID)
	if err != nil {
		return domain.OpenTask{}, err
	}
	if !coord.HasPermission(actor, taskID, domain.PermManage, anc) {
		return domain.OpenTask{}, apperr.PermissionDeniedf("%s cannot manage task %s", actor, taskID)
	}
	p := domain.OpenTask{
		ID:            newID(),
		TaskID:        taskID,
		ProposerAlias: actor,
		Status:        domain.ProposalOpen,
		CreatedAt:     e.stamp(),
	}
	if err := e.insertProposal(ctx, tx, p); err != nil {
		return domain.OpenTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OpenTask{}, err
	}
	e.afterCommit(ctx, proposalFact("task_proposal.request", p, actor))
	return p, nil
}

// SetProposedAlias fills in the nominee of a request opened without one.
func (e Engine) SetProposedAlias(ctx context.Context, proposalID, nominee, actor string) (domain.OpenTask, error) {
	nominee = strings.TrimSpace(nominee)
	if nominee == "" {
		return domain.OpenTask{}, apperr.Validationf("nominee is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OpenTask{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetTaskProposal(ctx, tx, proposalID)
	if err != nil {
		return domain.OpenTask{}, storeErr(err, "proposal "+proposalID)
	}
	if p.Status != domain.ProposalOpen || p.ProposedAlias != nil {
		return p, apperr.Conflictf("proposal %s already has a nominee or is closed", proposalID)
	}
	anc, t, err := e.loadTaskForProposal(ctx, tx, p.TaskID)
	if err != nil {
		return p, err
	}
	if !coord.HasPermission(actor, p.TaskID, domain.PermManage, anc) {
		return p, apperr.PermissionDeniedf("%s cannot manage task %s", actor, p.TaskID)
	}
	if nominee == p.ProposerAlias {
		return p, apperr.Conflictf("the requester cannot be the nominee")
	}
	if err := e.requireActors(ctx, tx, []string{nominee}); err != nil {
		return p, err
	}
	if coord.Contains(t.OwnCoordinatorAliases, nominee) {
		return p, apperr.Conflictf("%s already coordinates task %s", nominee, p.TaskID)
	}
	if err := e.Repo.FillProposedAlias(ctx, tx, proposalID, nominee); err != nil {
		return p, storeErr(err, "proposal "+proposalID)
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.ProposedAlias = &nominee
	e.afterCommit(ctx, proposalFact("task_proposal.nominee", p, actor), notify.Notification{
		Kind:    notify.DecisionRequired,
		Aliases: []string{nominee},
		Payload: proposalPayload(p, t.Title),
	})
	return p, nil
}

// WithdrawProposal lets the proposer retract an open proposal.
func (e Engine) WithdrawProposal(ctx context.Context, proposalID, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetTaskProposal(ctx, tx, proposalID)
	if err != nil {
		return storeErr(err, "proposal "+proposalID)
	}
	if err := proposal.Withdraw(p, actor); err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskProposal(ctx, tx, proposalID, domain.ProposalOpen); err != nil {
		return storeErr(err, "proposal "+proposalID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	var nominee []string
	if p.ProposedAlias != nil {
		nominee = []string{*p.ProposedAlias}
	}
	e.afterCommit(ctx, proposalFact("task_proposal.withdraw", p, actor), notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: nominee,
		Payload: proposalPayload(p, ""),
	})
	return nil
}

// Decision is the outcome of deciding a task proposal. Task is set when the
// proposal was accepted.
type Decision struct {
	Proposal domain.OpenTask `json:"proposal"`
	Accepted bool            `json:"accepted"`
	Task     *domain.Task    `json:"task,omitempty"`
}

// DecideTaskProposal accepts or rejects a proposal. Eligibility is checked
// against the coordinators as stored inside the transaction, not as the
// caller last saw them.
func (e Engine) DecideTaskProposal(ctx context.Context, proposalID, actor string, accept bool) (Decision, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetTaskProposal(ctx, tx, proposalID)
	if err != nil {
		return Decision{}, storeErr(err, "proposal "+proposalID)
	}
	anc, err := e.Repo.LoadAncestry(ctx, tx, p.TaskID)
	if err != nil {
		return Decision{}, err
	}
	if _, ok := anc[p.TaskID]; !ok {
		return Decision{}, apperr.NotFoundf("task %s not found", p.TaskID)
	}
	effective := coord.ResolveEffectiveCoordinators(p.TaskID, anc)
	next, err := proposal.Decide(p, actor, effective, accept)
	if err != nil {
		return Decision{}, err
	}

	out := Decision{Proposal: p, Accepted: accept}
	action := "task_proposal.rejected"
	if accept {
		action = "task_proposal.accepted"
		t, err := e.Repo.GetTask(ctx, tx, p.TaskID)
		if err != nil {
			return Decision{}, storeErr(err, "task "+p.TaskID)
		}
		if t.Status == domain.StatusGereed {
			return Decision{}, apperr.Conflictf("task %s is already completed", t.ID)
		}
		applied := proposal.ApplyAccept(t.OwnCoordinatorAliases, *p.ProposedAlias)
		t.OwnCoordinatorAliases = applied.OwnCoordinatorAliases
		t.Status = applied.Status
		t.UpdatedAt = e.stamp()
		updated, err := e.Repo.UpdateTask(ctx, tx, t)
		if err != nil {
			return Decision{}, storeErr(err, "task "+t.ID)
		}
		if err := e.Repo.DeleteTaskProposal(ctx, tx, p.ID, domain.ProposalOpen); err != nil {
			return Decision{}, storeErr(err, "proposal "+p.ID)
		}
		out.Task = &updated
	} else {
		if err := e.Repo.SetTaskProposalStatus(ctx, tx, p.ID, domain.ProposalOpen, next); err != nil {
			return Decision{}, storeErr(err, "proposal "+p.ID)
		}
		out.Proposal.Status = next
	}
	if err := tx.Commit(); err != nil {
		return Decision{}, err
	}
	e.afterCommit(ctx, proposalFact(action, out.Proposal, actor), notify.Notification{
		Kind:    notify.StateChanged,
		Aliases: []string{p.ProposerAlias, *p.ProposedAlias},
		Payload: proposalPayload(out.Proposal, ""),
	})
	return out, nil
}

// AcknowledgeTaskProposal clears a rejected proposal. Only its proposer can.
func (e Engine) AcknowledgeTaskProposal(ctx context.Context, proposalID, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetTaskProposal(ctx, tx, proposalID)
	if err != nil {
		return storeErr(err, "proposal "+proposalID)
	}
	if err := proposal.Acknowledge(p.ProposerAlias, p.Status, actor); err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskProposal(ctx, tx, p.ID, domain.ProposalAfgewezen); err != nil {
		return storeErr(err, "proposal "+p.ID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.afterCommit(ctx, proposalFact("task_proposal.acknowledged", p, actor))
	return nil
}

// ProposalView is a proposal as seen by one actor.
type ProposalView struct {
	domain.OpenTask
	CanDecide     bool `json:"can_decide"`
	CanSetNominee bool `json:"can_set_nominee"`
}

type ProposalListOptions struct {
	TaskID string
	Status domain.ProposalStatus
}

// ListTaskProposals returns the proposals relevant to actor.
func (e Engine) ListTaskProposals(ctx context.Context, actor string, opts ProposalListOptions) ([]ProposalView, error) {
	f := repo.ProposalFilters{Status: string(opts.Status)}
	if opts.TaskID != "" {
		f.TaskIDs = []string{opts.TaskID}
	}
	snap, err := e.Repo.LoadSnapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	if opts.TaskID != "" {
		if _, ok := snap[opts.TaskID]; !ok {
			return nil, apperr.NotFoundf("task %s not found", opts.TaskID)
		}
	}
	ps, err := e.Repo.ListTaskProposals(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	out := []ProposalView{}
	for _, p := range ps {
		effective := coord.ResolveEffectiveCoordinators(p.TaskID, snap)
		if !proposal.IsRelevant(p, actor, effective) {
			continue
		}
		out = append(out, ProposalView{
			OpenTask:      p,
			CanDecide:     p.Status == domain.ProposalOpen && proposal.CanActorDecideProposal(p.ProposerAlias, p.ProposedAlias, actor, effective),
			CanSetNominee: p.Status == domain.ProposalOpen && p.ProposedAlias == nil && coord.Allows(effective, actor, domain.PermManage),
		})
	}
	return out, nil
}

func (e Engine) loadTaskForProposal(ctx context.Context, tx *sql.Tx, taskID string) (domain.Snapshot, domain.Task, error) {
	anc, err := e.Repo.LoadAncestry(ctx, tx, taskID)
	if err != nil {
		return nil, domain.Task{}, err
	}
	if _, ok := anc[taskID]; !ok {
		return nil, domain.Task{}, apperr.NotFoundf("task %s not found", taskID)
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return nil, domain.Task{}, storeErr(err, "task "+taskID)
	}
	if t.Status == domain.StatusGereed {
		return nil, domain.Task{}, apperr.Conflictf("task %s is already completed", taskID)
	}
	return anc, t, nil
}

func (e Engine) insertProposal(ctx context.Context, tx *sql.Tx, p domain.OpenTask) error {
	if err := e.Repo.InsertTaskProposal(ctx, tx, p); err != nil {
		if repo.IsUniqueViolation(err) {
			return apperr.Conflictf("%s already has an open proposal on task %s", p.ProposerAlias, p.TaskID)
		}
		return err
	}
	return nil
}

func proposalFact(action string, p domain.OpenTask, actor string) events.Fact {
	payload := events.Payload{"task_id": p.TaskID, "proposer": p.ProposerAlias, "status": p.Status}
	if p.ProposedAlias != nil {
		payload["proposed"] = *p.ProposedAlias
	}
	return events.Fact{
		ActionType: action,
		EntityType: events.EntityProposal,
		EntityID:   p.ID,
		ActorAlias: actor,
		Payload:    payload,
	}
}

func proposalPayload(p domain.OpenTask, title string) map[string]any {
	out := map[string]any{"task_id": p.TaskID, "proposal_id": p.ID, "proposer": p.ProposerAlias}
	if p.ProposedAlias != nil {
		out["proposed"] = *p.ProposedAlias
	}
	if title != "" {
		out["title"] = title
	}
	return out
}
