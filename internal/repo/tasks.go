package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

func scanTask(scan func(dest ...any) error) (domain.TaskItem, error) {
	var t domain.TaskItem
	var status string
	var assigneeUser, assigneeGroup, dueAt sql.NullString
	err := scan(&t.ID, &t.CaseBlockID, &status, &assigneeUser, &assigneeGroup, &dueAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Status = domain.BlockStatus(status)
	if assigneeUser.Valid {
		t.AssigneeUserID = &assigneeUser.String
	}
	if assigneeGroup.Valid {
		t.AssigneeGroupID = &assigneeGroup.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	return t, nil
}

// GetTaskByCaseBlock returns the single task mirrored against a case
// block.
func (r Repo) GetTaskByCaseBlock(ctx context.Context, caseBlockID string) (domain.TaskItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,case_block_id,status,assignee_user_id,assignee_group_id,due_at,created_at,updated_at FROM tasks WHERE case_block_id=?`, caseBlockID)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// UpsertTask creates or replaces the 1:1 task record for a case block.
// The unique constraint on case_block_id keeps the mirror exact.
func (r Repo) UpsertTask(ctx context.Context, tx *sql.Tx, t domain.TaskItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,case_block_id,status,assignee_user_id,assignee_group_id,due_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(case_block_id) DO UPDATE SET status=excluded.status, assignee_user_id=excluded.assignee_user_id, assignee_group_id=excluded.assignee_group_id, due_at=excluded.due_at, updated_at=excluded.updated_at`,
		t.ID, t.CaseBlockID, string(t.Status),
		nullableStringPtr(t.AssigneeUserID), nullableStringPtr(t.AssigneeGroupID), nullableStringPtr(t.DueAt),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) ListTasksForCase(ctx context.Context, caseID string) ([]domain.TaskItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id,t.case_block_id,t.status,t.assignee_user_id,t.assignee_group_id,t.due_at,t.created_at,t.updated_at
FROM tasks t JOIN case_blocks b ON b.id=t.case_block_id WHERE b.case_id=? ORDER BY t.created_at ASC, t.id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskItem
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
