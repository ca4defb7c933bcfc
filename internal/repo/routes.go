package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

func (r Repo) InsertRoute(ctx context.Context, tx *sql.Tx, rt domain.Route) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO routes(id,form_version_id,from_block_key,to_block_key,condition_json) VALUES (?,?,?,?,?)`,
		rt.ID, rt.FormVersionID, rt.FromBlockKey, rt.ToBlockKey, rt.ConditionJSON)
	return err
}

func (r Repo) GetRoute(ctx context.Context, id string) (domain.Route, error) {
	var rt domain.Route
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_version_id,from_block_key,to_block_key,condition_json FROM routes WHERE id=?`, id).
		Scan(&rt.ID, &rt.FormVersionID, &rt.FromBlockKey, &rt.ToBlockKey, &rt.ConditionJSON)
	if err == sql.ErrNoRows {
		return rt, ErrNotFound
	}
	return rt, err
}

// ListRoutes returns all routes for a form version; order is not
// guaranteed.
func (r Repo) ListRoutes(ctx context.Context, formVersionID string) ([]domain.Route, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,form_version_id,from_block_key,to_block_key,condition_json FROM routes WHERE form_version_id=?`, formVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Route
	for rows.Next() {
		var rt domain.Route
		if err := rows.Scan(&rt.ID, &rt.FormVersionID, &rt.FromBlockKey, &rt.ToBlockKey, &rt.ConditionJSON); err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}
