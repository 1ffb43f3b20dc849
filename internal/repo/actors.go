package repo

import (
	"context"
	"database/sql"

	"coordline/internal/domain"
)

// EnsureActor registers alias if it is not known yet.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, alias, now string) error {
	_, err := r.exec(ctx, tx, `INSERT INTO actors(alias, created_at) VALUES (?,?) ON CONFLICT DO NOTHING`, alias, now)
	return err
}

// InsertActor registers alias and fails with ErrDuplicate when it is taken
// under any casing.
func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, alias, now string) error {
	if _, err := r.exec(ctx, tx, `INSERT INTO actors(alias, created_at) VALUES (?,?)`, alias, now); err != nil {
		return classify(err, "insert actor")
	}
	return nil
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, alias string) (domain.Actor, error) {
	var a domain.Actor
	err := r.queryRow(ctx, tx, `SELECT alias, created_at FROM actors WHERE alias=?`, alias).Scan(&a.Alias, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	roles, err := r.ActorRoles(ctx, tx, alias)
	if err != nil {
		return a, err
	}
	a.Roles = roles
	return a, nil
}

// AliasTaken reports whether an actor already uses alias, ignoring case.
func (r Repo) AliasTaken(ctx context.Context, tx *sql.Tx, alias string) (bool, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM actors WHERE lower(alias)=lower(?)`, alias).Scan(&n)
	return n > 0, err
}

func (r Repo) ListActors(ctx context.Context, tx *sql.Tx) ([]domain.Actor, error) {
	rows, err := r.query(ctx, tx, `SELECT alias, created_at FROM actors ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	var actors []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.Alias, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		actors = append(actors, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range actors {
		roles, err := r.ActorRoles(ctx, tx, actors[i].Alias)
		if err != nil {
			return nil, err
		}
		actors[i].Roles = roles
	}
	return actors, nil
}

func (r Repo) GrantRole(ctx context.Context, tx *sql.Tx, alias, role, now string) error {
	_, err := r.exec(ctx, tx, `INSERT INTO actor_roles(alias, role, granted_at) VALUES (?,?,?) ON CONFLICT DO NOTHING`, alias, role, now)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, alias, role string) (bool, error) {
	res, err := r.exec(ctx, tx, `DELETE FROM actor_roles WHERE alias=? AND role=?`, alias, role)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, alias string) ([]string, error) {
	rows, err := r.query(ctx, tx, `SELECT role FROM actor_roles WHERE alias=? ORDER BY role`, alias)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r Repo) HasRole(ctx context.Context, tx *sql.Tx, alias, role string) (bool, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM actor_roles WHERE alias=? AND role=?`, alias, role).Scan(&n)
	return n > 0, err
}

// CountRole returns how many actors hold role.
func (r Repo) CountRole(ctx context.Context, tx *sql.Tx, role string) (int, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM actor_roles WHERE role=?`, role).Scan(&n)
	return n, err
}

// ActorsWithRole lists the aliases holding role.
func (r Repo) ActorsWithRole(ctx context.Context, tx *sql.Tx, role string) ([]string, error) {
	rows, err := r.query(ctx, tx, `SELECT alias FROM actor_roles WHERE role=? ORDER BY alias`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}
