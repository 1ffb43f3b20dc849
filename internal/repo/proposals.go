package repo

import (
	"context"
	"database/sql"
	"strings"

	"coordline/internal/domain"
)

const proposalColumns = `id,task_id,proposer_alias,proposed_alias,status,created_at`

func scanProposal(row scanner) (domain.OpenTask, error) {
	var p domain.OpenTask
	var proposed sql.NullString
	err := row.Scan(&p.ID, &p.TaskID, &p.ProposerAlias, &proposed, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if proposed.Valid {
		p.ProposedAlias = &proposed.String
	}
	return p, nil
}

// InsertTaskProposal stores an OPEN proposal. A second OPEN proposal for the
// same task and proposer fails with ErrDuplicate.
func (r Repo) InsertTaskProposal(ctx context.Context, tx *sql.Tx, p domain.OpenTask) error {
	_, err := r.exec(ctx, tx, `INSERT INTO task_proposals(id,task_id,proposer_alias,proposed_alias,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.TaskID, p.ProposerAlias, nullableStringPtr(p.ProposedAlias), p.Status, p.CreatedAt)
	if err != nil {
		return classify(err, "insert task proposal")
	}
	return nil
}

func (r Repo) GetTaskProposal(ctx context.Context, tx *sql.Tx, id string) (domain.OpenTask, error) {
	return scanProposal(r.queryRow(ctx, tx, `SELECT `+proposalColumns+` FROM task_proposals WHERE id=?`, id))
}

type ProposalFilters struct {
	TaskIDs []string
	Status  string
	Alias   string
}

// ListTaskProposals returns proposals oldest first. Alias matches either
// side of the proposal.
func (r Repo) ListTaskProposals(ctx context.Context, tx *sql.Tx, f ProposalFilters) ([]domain.OpenTask, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.TaskIDs) > 0 {
		clauses = append(clauses, "task_id IN ("+placeholders(len(f.TaskIDs))+")")
		args = append(args, stringArgs(f.TaskIDs)...)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Alias != "" {
		clauses = append(clauses, "(proposer_alias=? OR proposed_alias=?)")
		args = append(args, f.Alias, f.Alias)
	}
	rows, err := r.query(ctx, tx, `SELECT `+proposalColumns+` FROM task_proposals WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OpenTask
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetTaskProposalStatus moves a proposal from one status to another. ErrStale
// means the proposal is gone or no longer in from.
func (r Repo) SetTaskProposalStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProposalStatus) error {
	res, err := r.exec(ctx, tx, `UPDATE task_proposals SET status=? WHERE id=? AND status=?`, to, id, from)
	if err != nil {
		return classify(err, "update task proposal")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// FillProposedAlias sets the nominee on an OPEN proposal that has none.
func (r Repo) FillProposedAlias(ctx context.Context, tx *sql.Tx, id, alias string) error {
	res, err := r.exec(ctx, tx, `UPDATE task_proposals SET proposed_alias=? WHERE id=? AND status='OPEN' AND proposed_alias IS NULL`, alias, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// DeleteTaskProposal removes a proposal that is still in status.
func (r Repo) DeleteTaskProposal(ctx context.Context, tx *sql.Tx, id string, status domain.ProposalStatus) error {
	res, err := r.exec(ctx, tx, `DELETE FROM task_proposals WHERE id=? AND status=?`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// DeleteProposalsForTasks removes every proposal attached to the tasks.
func (r Repo) DeleteProposalsForTasks(ctx context.Context, tx *sql.Tx, taskIDs []string) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	res, err := r.exec(ctx, tx, `DELETE FROM task_proposals WHERE task_id IN (`+placeholders(len(taskIDs))+`)`, stringArgs(taskIDs)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
