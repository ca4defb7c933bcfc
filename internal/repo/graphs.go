package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"caseflow/internal/domain"
)

// LoadGraph loads the process graph persisted for a form version. A form
// version with no graph yields an empty graph, not an error. A corrupt
// blob yields nil, which callers treat as "graph definition missing".
func (r Repo) LoadGraph(ctx context.Context, formVersionID string) (*domain.ProcessGraph, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT graph_json FROM process_graphs WHERE form_version_id=?`, formVersionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return &domain.ProcessGraph{FormVersionID: formVersionID}, nil
	}
	if err != nil {
		return nil, err
	}
	var g domain.ProcessGraph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, nil
	}
	g.FormVersionID = formVersionID
	return &g, nil
}

// SaveGraph overwrites the persisted graph in full; graphs are never
// merged.
func (r Repo) SaveGraph(ctx context.Context, g domain.ProcessGraph) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO process_graphs(form_version_id,graph_json,updated_at) VALUES (?,?,?)
ON CONFLICT(form_version_id) DO UPDATE SET graph_json=excluded.graph_json, updated_at=excluded.updated_at`,
		g.FormVersionID, string(raw), now)
	return err
}
