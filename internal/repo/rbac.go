package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) InsertCapability(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO capabilities(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRoleCapability(ctx context.Context, tx *sql.Tx, roleID, capID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_capabilities(role_id, capability_id) VALUES (?,?)`, roleID, capID)
	return err
}

// AssignRole grants a role to an actor scoped to one form version.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, formVersionID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(form_version_id, actor_id, role_id) VALUES (?,?,?)`, formVersionID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, formVersionID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE form_version_id=? AND actor_id=? AND role_id=?`, formVersionID, actorID, roleID)
	return err
}

func (r Repo) ActorHasCapability(ctx context.Context, formVersionID, actorID, capability string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_capabilities rc ON rc.role_id=ar.role_id
WHERE ar.form_version_id=? AND ar.actor_id=? AND rc.capability_id=? LIMIT 1`,
		formVersionID, actorID, capability)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ActorRoles(ctx context.Context, formVersionID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE form_version_id=? AND actor_id=?`, formVersionID, actorID)
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
