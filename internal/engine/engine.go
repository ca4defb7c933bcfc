package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/condition"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// Engine owns the case/case-block lifecycle and the services layered on
// top of it: routing, stage orchestration, tasks and notifications.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// StartCaseOptions are parameters for starting a case.
type StartCaseOptions struct {
	FormVersionID  string
	ActorID        string
	StartBlockKeys []string
}

// StartCase creates a case for a form version and opens one case block per
// selected start key. Every requested key must be pinned to the form
// version.
func (e Engine) StartCase(ctx context.Context, opts StartCaseOptions) (domain.Case, error) {
	if opts.FormVersionID == "" {
		return domain.Case{}, validationf("form version is required")
	}
	if _, err := e.Repo.GetFormVersion(ctx, opts.FormVersionID); err != nil {
		return domain.Case{}, err
	}
	pins := make([]domain.BlockPin, 0, len(opts.StartBlockKeys))
	for _, key := range opts.StartBlockKeys {
		pin, err := e.Repo.GetBlockPinByKey(ctx, opts.FormVersionID, key)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Case{}, validationf("block key %s is not pinned to form version %s", key, opts.FormVersionID)
			}
			return domain.Case{}, err
		}
		pins = append(pins, pin)
	}
	selection, err := json.Marshal(map[string]any{"blockKeys": opts.StartBlockKeys})
	if err != nil {
		return domain.Case{}, err
	}
	c := domain.Case{
		ID:                 uuid.New().String(),
		FormVersionID:      opts.FormVersionID,
		StartedBy:          opts.ActorID,
		StartedAt:          e.nowRFC3339(),
		StartSelectionJSON: string(selection),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "case.started", c.ID, "case", c.ID, opts.ActorID, events.EventPayload{
		"form_version_id": c.FormVersionID,
		"block_keys":      opts.StartBlockKeys,
	}); err != nil {
		return domain.Case{}, err
	}
	var opened []domain.CaseBlock
	for _, pin := range pins {
		b, err := e.openBlockTx(ctx, tx, c.ID, pin, nil, opts.ActorID)
		if err != nil {
			return domain.Case{}, err
		}
		opened = append(opened, b)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	for _, b := range opened {
		if err := e.EmitAssigned(ctx, b.ID); err != nil {
			return c, err
		}
	}
	return c, nil
}

// openBlockTx is the shared open-step: it instantiates a case block for a
// pinned block definition, mirrors an open task against it and logs the
// event. Notifications are emitted by the caller after commit.
func (e Engine) openBlockTx(ctx context.Context, tx *sql.Tx, caseID string, pin domain.BlockPin, rule *domain.AssignmentRule, actorID string) (domain.CaseBlock, error) {
	now := e.nowRFC3339()
	userID, groupID, dueAt := e.ResolveAssignment(rule)
	b := domain.CaseBlock{
		ID:                uuid.New().String(),
		CaseID:            caseID,
		BlockDefinitionID: pin.ID,
		BlockKey:          pin.BlockKey,
		BlockVersion:      pin.BlockVersion,
		Title:             pin.Title,
		Status:            domain.StatusOpen,
		AssigneeUserID:    userID,
		AssigneeGroupID:   groupID,
		DueAt:             dueAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertCaseBlock(ctx, tx, b); err != nil {
		return b, fmt.Errorf("insert case block: %w", err)
	}
	t := domain.TaskItem{
		ID:              uuid.New().String(),
		CaseBlockID:     b.ID,
		Status:          domain.StatusOpen,
		AssigneeUserID:  userID,
		AssigneeGroupID: groupID,
		DueAt:           dueAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.UpsertTask(ctx, tx, t); err != nil {
		return b, fmt.Errorf("upsert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "case.block.opened", caseID, "case_block", b.ID, actorID, events.EventPayload{
		"block_key": b.BlockKey,
	}); err != nil {
		return b, err
	}
	return b, nil
}

// CompleteBlockResult reports the fan-out of a block completion. Routes
// whose target key is not pinned are skipped and listed in SkippedTargets.
type CompleteBlockResult struct {
	Block          domain.CaseBlock   `json:"block"`
	Opened         []domain.CaseBlock `json:"opened,omitempty"`
	SkippedTargets []string           `json:"skipped_targets,omitempty"`
}

// CompleteBlock locks a case block, closes its task and opens the target
// block of every satisfied route leaving this block's key.
func (e Engine) CompleteBlock(ctx context.Context, caseBlockID, actorID string) (CompleteBlockResult, error) {
	var res CompleteBlockResult
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return res, err
	}
	if b.Status.Terminal() {
		return res, invalidStatef("case block %s is already %s", b.ID, b.Status)
	}
	c, err := e.Repo.GetCase(ctx, b.CaseID)
	if err != nil {
		return res, err
	}
	routes, err := e.Repo.ListRoutes(ctx, c.FormVersionID)
	if err != nil {
		return res, err
	}
	data := parseBlockData(b.DataJSON)

	now := e.nowRFC3339()
	b.Status = domain.StatusLocked
	b.LockedBy = &actorID
	b.LockedAt = &now
	b.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateCaseBlock(ctx, tx, b); err != nil {
		return res, err
	}
	if err := e.mirrorTaskTx(ctx, tx, b.ID, domain.StatusDone, b.AssigneeUserID, b.AssigneeGroupID, b.DueAt); err != nil {
		return res, err
	}
	if err := e.Events.Append(ctx, tx, "case.block.completed", b.CaseID, "case_block", b.ID, actorID, events.EventPayload{
		"block_key": b.BlockKey,
	}); err != nil {
		return res, err
	}

	for _, rt := range routes {
		if rt.FromBlockKey != b.BlockKey {
			continue
		}
		cond, err := condition.Parse(rt.ConditionJSON)
		if err != nil {
			// Malformed stored conditions degrade to unsatisfied; the
			// route validator reports them.
			continue
		}
		if !condition.Evaluate(cond, data) {
			continue
		}
		pin, err := e.Repo.GetBlockPinByKey(ctx, c.FormVersionID, rt.ToBlockKey)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				res.SkippedTargets = append(res.SkippedTargets, rt.ToBlockKey)
				continue
			}
			return res, err
		}
		opened, err := e.openBlockTx(ctx, tx, b.CaseID, pin, nil, actorID)
		if err != nil {
			return res, err
		}
		res.Opened = append(res.Opened, opened)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Block = b
	if err := e.EmitStatusChanged(ctx, b.ID); err != nil {
		return res, err
	}
	for _, opened := range res.Opened {
		if err := e.EmitAssigned(ctx, opened.ID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ReopenBlock transitions a locked block back to open. Requires the reopen
// capability on the owning form version.
func (e Engine) ReopenBlock(ctx context.Context, caseBlockID, actorID, reason string) (domain.CaseBlock, error) {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return b, err
	}
	c, err := e.Repo.GetCase(ctx, b.CaseID)
	if err != nil {
		return b, err
	}
	if err := e.Auth.Require(ctx, actorID, c.FormVersionID, config.CapReopenBlocks); err != nil {
		return b, err
	}
	if b.Status != domain.StatusLocked {
		return b, invalidStatef("case block %s is %s, only locked blocks can be reopened", b.ID, b.Status)
	}
	now := e.nowRFC3339()
	b.Status = domain.StatusOpen
	b.ReopenedBy = &actorID
	b.ReopenedAt = &now
	if reason != "" {
		b.ReopenReason = &reason
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
	if err := e.mirrorTaskTx(ctx, tx, b.ID, domain.StatusOpen, b.AssigneeUserID, b.AssigneeGroupID, b.DueAt); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "case.block.reopened", b.CaseID, "case_block", b.ID, actorID, events.EventPayload{
		"block_key": b.BlockKey,
		"reason":    reason,
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

// SetBlockData replaces a case block's stored answer data. The payload must
// be a JSON object so route conditions can resolve dotted paths into it.
func (e Engine) SetBlockData(ctx context.Context, caseBlockID, dataJSON, actorID string) (domain.CaseBlock, error) {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return b, err
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &obj); err != nil {
		return b, validationf("block data must be a JSON object: %v", err)
	}
	b.DataJSON = dataJSON
	b.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCaseBlock(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "case.block.data_set", b.CaseID, "case_block", b.ID, actorID, nil); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// mirrorTaskTx keeps the 1:1 task record consistent with a block mutation,
// creating it lazily when absent.
func (e Engine) mirrorTaskTx(ctx context.Context, tx *sql.Tx, caseBlockID string, status domain.BlockStatus, userID, groupID, dueAt *string) error {
	now := e.nowRFC3339()
	existing, err := e.Repo.GetTaskByCaseBlock(ctx, caseBlockID)
	id := existing.ID
	createdAt := existing.CreatedAt
	if errors.Is(err, repo.ErrNotFound) {
		id = uuid.New().String()
		createdAt = now
	} else if err != nil {
		return err
	}
	return e.Repo.UpsertTask(ctx, tx, domain.TaskItem{
		ID:              id,
		CaseBlockID:     caseBlockID,
		Status:          status,
		AssigneeUserID:  userID,
		AssigneeGroupID: groupID,
		DueAt:           dueAt,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	})
}

// parseBlockData decodes a block's stored data into a generic object for
// condition evaluation. Malformed or empty data yields an empty object; the
// evaluator treats every field as null.
func parseBlockData(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}
