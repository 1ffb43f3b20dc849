package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"coordline/internal/db"
	"coordline/internal/domain"
)

// Repo is the SQL store. Methods taking a *sql.Tx run inside it when tx is
// non-nil and on DB otherwise.
type Repo struct {
	DB     *sql.DB
	Driver string
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) bind(query string) string {
	return db.Rebind(r.Driver, query)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return r.q(tx).ExecContext(ctx, r.bind(query), args...)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.q(tx).QueryContext(ctx, r.bind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.q(tx).QueryRowContext(ctx, r.bind(query), args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

const taskColumns = `id,parent_id,title,COALESCE(description,''),COALESCE(coordination_type,''),points,status,team_name,version,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var parentID, teamName sql.NullString
	var coordType string
	err := row.Scan(&t.ID, &parentID, &t.Title, &t.Description, &coordType, &t.Points, &t.Status, &teamName, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.CoordinationType = domain.CoordinationType(coordType)
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if teamName.Valid {
		t.TeamName = &teamName.String
	}
	return t, nil
}

// InsertTask stores t and its own coordinators.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := r.exec(ctx, tx, `INSERT INTO tasks(id,parent_id,title,description,coordination_type,points,status,team_name,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), nullable(string(t.CoordinationType)),
		t.Points, t.Status, nullableStringPtr(t.TeamName), t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return classify(err, "insert task")
	}
	return r.ReplaceCoordinators(ctx, tx, t.ID, t.OwnCoordinatorAliases)
}

// UpdateTask writes t when the stored version still equals t.Version and
// bumps the version. ErrStale means somebody else wrote first.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET title=?, description=?, coordination_type=?, points=?, status=?, team_name=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), nullable(string(t.CoordinationType)), t.Points, t.Status,
		nullableStringPtr(t.TeamName), t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return t, classify(err, "update task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return t, r.staleOrMissing(ctx, tx, t.ID)
	}
	if err := r.ReplaceCoordinators(ctx, tx, t.ID, t.OwnCoordinatorAliases); err != nil {
		return t, err
	}
	t.Version++
	return t, nil
}

// BumpVersion advances a task's version if it still equals expected. Used to
// serialise writers that change rows hanging off the task.
func (r Repo) BumpVersion(ctx context.Context, tx *sql.Tx, id string, expected int, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET version=version+1, updated_at=? WHERE id=? AND version=?`, now, id, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.staleOrMissing(ctx, tx, id)
	}
	return nil
}

// DebitPoints subtracts amount from a parent only if its points still equal
// expected and cover amount.
func (r Repo) DebitPoints(ctx context.Context, tx *sql.Tx, id string, expected, amount int, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET points=points-?, version=version+1, updated_at=? WHERE id=? AND points=? AND points>=?`,
		amount, now, id, expected, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.staleOrMissing(ctx, tx, id)
	}
	return nil
}

// CreditPoints adds amount to a task's points.
func (r Repo) CreditPoints(ctx context.Context, tx *sql.Tx, id string, amount int, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET points=points+?, version=version+1, updated_at=? WHERE id=?`, amount, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reparent moves id from oldParent to newParent, conditioned on both the
// current parent pointer and the version.
func (r Repo) Reparent(ctx context.Context, tx *sql.Tx, id, oldParent, newParent string, version int, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET parent_id=?, version=version+1, updated_at=? WHERE id=? AND parent_id=? AND version=?`,
		newParent, now, id, oldParent, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.staleOrMissing(ctx, tx, id)
	}
	return nil
}

func (r Repo) staleOrMissing(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := r.queryRow(ctx, tx, `SELECT 1 FROM tasks WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStale
}

// GetTask loads a task with its own coordinators.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.queryRow(ctx, tx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	coords, err := r.coordinatorsFor(ctx, tx, []string{t.ID})
	if err != nil {
		return t, err
	}
	t.OwnCoordinatorAliases = coords[t.ID]
	return t, nil
}

// RootTask returns the single task without a parent.
func (r Repo) RootTask(ctx context.Context, tx *sql.Tx) (domain.Task, error) {
	var id string
	err := r.queryRow(ctx, tx, `SELECT id FROM tasks WHERE parent_id IS NULL LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return r.GetTask(ctx, tx, id)
}

type TaskFilters struct {
	ParentID string
	Status   string
	TeamName string
	// Coordinator keeps tasks where the alias is an own coordinator.
	Coordinator string
	Limit       int
}

// ListTasks returns tasks ordered by creation.
func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TeamName != "" {
		clauses = append(clauses, "team_name=?")
		args = append(args, f.TeamName)
	}
	if f.Coordinator != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_coordinators WHERE alias=?)")
		args = append(args, f.Coordinator)
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY created_at, id`, taskColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	var ids []string
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	coords, err := r.coordinatorsFor(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].OwnCoordinatorAliases = coords[tasks[i].ID]
	}
	return tasks, nil
}

// DeleteTasks removes the given tasks. Children cascade through the
// foreign key, so passing a subtree root is enough; passing the whole
// subtree is also fine.
func (r Repo) DeleteTasks(ctx context.Context, tx *sql.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.exec(ctx, tx, `DELETE FROM tasks WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceCoordinators sets the own coordinator set of a task.
func (r Repo) ReplaceCoordinators(ctx context.Context, tx *sql.Tx, taskID string, aliases []string) error {
	if _, err := r.exec(ctx, tx, `DELETE FROM task_coordinators WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, alias := range aliases {
		if _, err := r.exec(ctx, tx, `INSERT INTO task_coordinators(task_id, alias) VALUES (?,?) ON CONFLICT DO NOTHING`, taskID, alias); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) coordinatorsFor(ctx context.Context, tx *sql.Tx, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, tx, `SELECT task_id, alias FROM task_coordinators WHERE task_id IN (`+placeholders(len(ids))+`) ORDER BY task_id, alias`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, alias string
		if err := rows.Scan(&taskID, &alias); err != nil {
			return nil, err
		}
		out[taskID] = append(out[taskID], alias)
	}
	return out, rows.Err()
}

const nodeColumns = `id,parent_id,COALESCE(coordination_type,''),team_name,points,version`

func scanNode(row scanner) (domain.TaskNode, error) {
	var n domain.TaskNode
	var parentID, teamName sql.NullString
	var coordType string
	if err := row.Scan(&n.ID, &parentID, &coordType, &teamName, &n.Points, &n.Version); err != nil {
		if err == sql.ErrNoRows {
			return n, ErrNotFound
		}
		return n, err
	}
	n.CoordinationType = domain.CoordinationType(coordType)
	if parentID.Valid {
		n.ParentID = &parentID.String
	}
	if teamName.Valid {
		n.TeamName = &teamName.String
	}
	return n, nil
}

// LoadSnapshot projects the whole tree.
func (r Repo) LoadSnapshot(ctx context.Context, tx *sql.Tx) (domain.Snapshot, error) {
	rows, err := r.query(ctx, tx, `SELECT `+nodeColumns+` FROM tasks`)
	if err != nil {
		return nil, err
	}
	snap := domain.Snapshot{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	crows, err := r.query(ctx, tx, `SELECT task_id, alias FROM task_coordinators ORDER BY task_id, alias`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var taskID, alias string
		if err := crows.Scan(&taskID, &alias); err != nil {
			return nil, err
		}
		n, ok := snap[taskID]
		if !ok {
			continue
		}
		n.OwnCoordinatorAliases = append(n.OwnCoordinatorAliases, alias)
		snap[taskID] = n
	}
	return snap, crows.Err()
}

// LoadAncestry projects taskID and its ancestors only. The walk stops on a
// missing node or a revisit.
func (r Repo) LoadAncestry(ctx context.Context, tx *sql.Tx, taskID string) (domain.Snapshot, error) {
	snap := domain.Snapshot{}
	id := taskID
	for {
		if _, seen := snap[id]; seen {
			break
		}
		n, err := scanNode(r.queryRow(ctx, tx, `SELECT `+nodeColumns+` FROM tasks WHERE id=?`, id))
		if err == ErrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		snap[id] = n
		if n.ParentID == nil {
			break
		}
		id = *n.ParentID
	}
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	coords, err := r.coordinatorsFor(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for id, aliases := range coords {
		n := snap[id]
		n.OwnCoordinatorAliases = aliases
		snap[id] = n
	}
	return snap, nil
}
