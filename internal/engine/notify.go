package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// Notification types.
const (
	NotifyTaskAssigned      = "task.assigned"
	NotifyTaskStatusChanged = "task.status_changed"
	NotifyTaskDueSoon       = "task.due_soon"
	NotifyTaskOverdue       = "task.overdue"
)

// emit writes one notification carrying a snapshot of the case block and
// its task. A missing block is a silent no-op: notifications never fail an
// operation that already committed.
func (e Engine) emit(ctx context.Context, notifType, caseBlockID string) error {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	c, err := e.Repo.GetCase(ctx, b.CaseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	payload := map[string]any{
		"type":            notifType,
		"case_id":         b.CaseID,
		"form_version_id": c.FormVersionID,
		"case_block_id":   b.ID,
		"block_key":       b.BlockKey,
		"title":           b.Title,
		"status":          b.Status,
		"at":              e.nowRFC3339(),
	}
	if b.AssigneeUserID != nil {
		payload["assignee_user_id"] = *b.AssigneeUserID
	}
	if b.AssigneeGroupID != nil {
		payload["assignee_group_id"] = *b.AssigneeGroupID
	}
	if b.DueAt != nil {
		payload["due_at"] = *b.DueAt
	}
	if t, err := e.Repo.GetTaskByCaseBlock(ctx, caseBlockID); err == nil {
		payload["task_id"] = t.ID
		payload["task_status"] = t.Status
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.Repo.InsertNotification(ctx, domain.Notification{
		ID:          uuid.New().String(),
		Type:        notifType,
		PayloadJSON: string(raw),
		CreatedAt:   e.nowRFC3339(),
	})
}

func (e Engine) EmitAssigned(ctx context.Context, caseBlockID string) error {
	return e.emit(ctx, NotifyTaskAssigned, caseBlockID)
}

func (e Engine) EmitStatusChanged(ctx context.Context, caseBlockID string) error {
	return e.emit(ctx, NotifyTaskStatusChanged, caseBlockID)
}

func (e Engine) EmitDueSoon(ctx context.Context, caseBlockID string) error {
	return e.emit(ctx, NotifyTaskDueSoon, caseBlockID)
}

func (e Engine) EmitOverdue(ctx context.Context, caseBlockID string) error {
	return e.emit(ctx, NotifyTaskOverdue, caseBlockID)
}

// ListNotifications returns the most recent notifications, newest first.
func (e Engine) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return e.Repo.ListRecentNotifications(ctx, limit)
}
