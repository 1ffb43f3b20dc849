package repo

import (
	"context"
	"database/sql"
	"strings"

	"coordline/internal/domain"
)

const aliasChangeColumns = `id,requester_alias,current_alias,requested_alias,status,created_at`

func scanAliasChange(row scanner) (domain.AliasChangeProposal, error) {
	var p domain.AliasChangeProposal
	err := row.Scan(&p.ID, &p.RequesterAlias, &p.CurrentAlias, &p.RequestedAlias, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// InsertAliasChange stores an OPEN alias change. Unique indexes reject a
// second OPEN request per requester and a requested alias already claimed
// by another OPEN request.
func (r Repo) InsertAliasChange(ctx context.Context, tx *sql.Tx, p domain.AliasChangeProposal) error {
	_, err := r.exec(ctx, tx, `INSERT INTO alias_change_proposals(id,requester_alias,current_alias,requested_alias,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.RequesterAlias, p.CurrentAlias, p.RequestedAlias, p.Status, p.CreatedAt)
	if err != nil {
		return classify(err, "insert alias change")
	}
	return nil
}

func (r Repo) GetAliasChange(ctx context.Context, tx *sql.Tx, id string) (domain.AliasChangeProposal, error) {
	return scanAliasChange(r.queryRow(ctx, tx, `SELECT `+aliasChangeColumns+` FROM alias_change_proposals WHERE id=?`, id))
}

type AliasChangeFilters struct {
	Requester string
	Status    string
}

func (r Repo) ListAliasChanges(ctx context.Context, tx *sql.Tx, f AliasChangeFilters) ([]domain.AliasChangeProposal, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Requester != "" {
		clauses = append(clauses, "requester_alias=?")
		args = append(args, f.Requester)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	rows, err := r.query(ctx, tx, `SELECT `+aliasChangeColumns+` FROM alias_change_proposals WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AliasChangeProposal
	for rows.Next() {
		p, err := scanAliasChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RequestedAliasTaken reports whether another OPEN alias change (other than
// excludeID) already asks for alias, compared case-insensitively.
func (r Repo) RequestedAliasTaken(ctx context.Context, tx *sql.Tx, alias, excludeID string) (bool, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM alias_change_proposals WHERE status='OPEN' AND lower(requested_alias)=lower(?) AND id<>?`, alias, excludeID).Scan(&n)
	return n > 0, err
}

func (r Repo) SetAliasChangeStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProposalStatus) error {
	res, err := r.exec(ctx, tx, `UPDATE alias_change_proposals SET status=? WHERE id=? AND status=?`, to, id, from)
	if err != nil {
		return classify(err, "update alias change")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) DeleteAliasChange(ctx context.Context, tx *sql.Tx, id string, status domain.ProposalStatus) error {
	res, err := r.exec(ctx, tx, `DELETE FROM alias_change_proposals WHERE id=? AND status=?`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// RenameActor moves every reference to from over to to. The actors table's
// case-insensitive unique index turns a concurrent claim of to into
// ErrDuplicate.
func (r Repo) RenameActor(ctx context.Context, tx *sql.Tx, from, to string) error {
	res, err := r.exec(ctx, tx, `UPDATE actors SET alias=? WHERE alias=?`, to, from)
	if err != nil {
		return classify(err, "rename actor")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	updates := []string{
		`UPDATE actor_roles SET alias=? WHERE alias=?`,
		`UPDATE task_coordinators SET alias=? WHERE alias=?`,
		`UPDATE task_proposals SET proposer_alias=? WHERE proposer_alias=?`,
		`UPDATE task_proposals SET proposed_alias=? WHERE proposed_alias=?`,
		`UPDATE alias_change_proposals SET requester_alias=? WHERE requester_alias=?`,
		`UPDATE api_keys SET actor_alias=? WHERE actor_alias=?`,
	}
	for _, stmt := range updates {
		if _, err := r.exec(ctx, tx, stmt, to, from); err != nil {
			return classify(err, "rename actor")
		}
	}
	return nil
}
