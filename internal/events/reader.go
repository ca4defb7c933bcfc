package events

import (
	"context"
	"database/sql"
	"strings"

	"caseflow/internal/domain"
)

// ListOptions filter the event log. AfterID is used by the webhook
// dispatcher to poll incrementally.
type ListOptions struct {
	CaseID  string
	Type    string
	AfterID int64
	Limit   int
}

// List returns events in ascending id order.
func List(ctx context.Context, db *sql.DB, opts ListOptions) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if opts.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, opts.CaseID)
	}
	if opts.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, opts.Type)
	}
	if opts.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, opts.AfterID)
	}
	query := `SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CaseID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
