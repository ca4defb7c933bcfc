package engine

import (
	"context"
	"strings"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/events"
)

// ParseStatus normalizes a user-supplied status string. Accepted spellings
// are case-insensitive; "inprogress" and "in-progress" map to in_progress.
func ParseStatus(s string) (domain.BlockStatus, error) {
	if s == "" {
		return "", validationf("status is required")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return domain.StatusOpen, nil
	case "inprogress", "in-progress", "in_progress":
		return domain.StatusInProgress, nil
	case "waiting":
		return domain.StatusWaiting, nil
	case "done":
		return domain.StatusDone, nil
	case "rejected":
		return domain.StatusRejected, nil
	}
	return "", validationf("unknown status %q", s)
}

// Assign sets the task assignee and due date for a case block. A nil
// dueAt keeps the current due date; an empty one clears it. Assigning a
// finished block revives it to open so the new assignee can act on it.
func (e Engine) Assign(ctx context.Context, caseBlockID string, userID, groupID, dueAt *string, actorID string) (domain.CaseBlock, error) {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return b, err
	}
	now := e.nowRFC3339()
	b.AssigneeUserID = userID
	b.AssigneeGroupID = groupID
	if dueAt != nil {
		if *dueAt == "" {
			b.DueAt = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *dueAt); err != nil {
				return b, validationf("due_at must be RFC3339, got %q", *dueAt)
			}
			b.DueAt = dueAt
		}
	}
	if b.Status == domain.StatusDone || b.Status == domain.StatusRejected {
		b.Status = domain.StatusOpen
	}
	b.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCaseBlock(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.mirrorTaskTx(ctx, tx, b.ID, b.Status, userID, groupID, b.DueAt); err != nil {
		return b, err
	}
	payload := events.EventPayload{"block_key": b.BlockKey}
	if userID != nil {
		payload["assignee_user_id"] = *userID
	}
	if groupID != nil {
		payload["assignee_group_id"] = *groupID
	}
	if b.DueAt != nil {
		payload["due_at"] = *b.DueAt
	}
	if err := e.Events.Append(ctx, tx, "task.assigned", b.CaseID, "case_block", b.ID, actorID, payload); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	if err := e.EmitAssigned(ctx, b.ID); err != nil {
		return b, err
	}
	return b, nil
}

// SetTaskStatus updates the task status for a case block and mirrors it
// onto the block itself. Locked blocks reject status changes; reopening is
// the only way out of locked.
func (e Engine) SetTaskStatus(ctx context.Context, caseBlockID, status, actorID string) (domain.CaseBlock, error) {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return b, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return b, err
	}
	if b.Status == domain.StatusLocked {
		return b, invalidStatef("case block %s is locked", b.ID)
	}
	now := e.nowRFC3339()
	b.Status = parsed
	b.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCaseBlock(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.mirrorTaskTx(ctx, tx, b.ID, parsed, b.AssigneeUserID, b.AssigneeGroupID, b.DueAt); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "task.status_changed", b.CaseID, "case_block", b.ID, actorID, events.EventPayload{
		"block_key": b.BlockKey,
		"status":    string(parsed),
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	if err := e.EmitStatusChanged(ctx, b.ID); err != nil {
		return b, err
	}
	return b, nil
}

// ListTasks returns the task records of a case.
func (e Engine) ListTasks(ctx context.Context, caseID string) ([]domain.TaskItem, error) {
	return e.Repo.ListTasksForCase(ctx, caseID)
}

// SweepResult reports a due-date sweep.
type SweepResult struct {
	DueSoon []string `json:"due_soon,omitempty"`
	Overdue []string `json:"overdue,omitempty"`
}

// SweepDueTasks scans unfinished blocks with a due date and emits due-soon
// and overdue notifications. The due-soon window comes from config; a zero
// window disables due-soon. Invoked by the caller (CLI or server), there is
// no background scheduler.
func (e Engine) SweepDueTasks(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	blocks, err := e.Repo.ListDueCaseBlocks(ctx)
	if err != nil {
		return res, err
	}
	now := e.now().UTC()
	window := 0
	if e.Config != nil {
		window = e.Config.Engine.DueSoonHours
	}
	for _, b := range blocks {
		if b.DueAt == nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, *b.DueAt)
		if err != nil {
			continue
		}
		switch {
		case now.After(due):
			if err := e.EmitOverdue(ctx, b.ID); err != nil {
				return res, err
			}
			res.Overdue = append(res.Overdue, b.ID)
		case window > 0 && now.Add(time.Duration(window)*time.Hour).After(due):
			if err := e.EmitDueSoon(ctx, b.ID); err != nil {
				return res, err
			}
			res.DueSoon = append(res.DueSoon, b.ID)
		}
	}
	return res, nil
}
