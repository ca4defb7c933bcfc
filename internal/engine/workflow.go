package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// loadGraphForCase loads a case and its process graph. A corrupt or absent
// graph definition is fatal for orchestration operations.
func (e Engine) loadGraphForCase(ctx context.Context, caseID string) (domain.Case, *domain.ProcessGraph, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return c, nil, err
	}
	g, err := e.Repo.LoadGraph(ctx, c.FormVersionID)
	if err != nil {
		return c, nil, err
	}
	if g == nil {
		return c, nil, validationf("process graph definition for form version %s is missing or corrupt", c.FormVersionID)
	}
	return c, g, nil
}

// orderedStages returns the graph's stages in a stable total order.
func orderedStages(g *domain.ProcessGraph) []domain.StageDefinition {
	stages := make([]domain.StageDefinition, len(g.Stages))
	copy(stages, g.Stages)
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Order != stages[j].Order {
			return stages[i].Order < stages[j].Order
		}
		return stages[i].StageKey < stages[j].StageKey
	})
	return stages
}

// stagePins resolves the block pins referenced by a stage's stage-blocks,
// in stage-block order. Dangling block-definition references are skipped;
// their ids are returned separately for diagnostics.
func (e Engine) stagePins(ctx context.Context, g *domain.ProcessGraph, stageID string) ([]domain.BlockPin, []string, error) {
	blocks := make([]domain.StageBlock, 0, 4)
	for _, sb := range g.StageBlocks {
		if sb.StageID == stageID {
			blocks = append(blocks, sb)
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Order < blocks[j].Order })
	var pins []domain.BlockPin
	var skipped []string
	for _, sb := range blocks {
		pin, err := e.Repo.GetBlockPin(ctx, sb.BlockDefinitionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				skipped = append(skipped, sb.BlockDefinitionID)
				continue
			}
			return nil, nil, err
		}
		pins = append(pins, pin)
	}
	return pins, skipped, nil
}

func blockKeysOf(pins []domain.BlockPin) map[string]bool {
	keys := make(map[string]bool, len(pins))
	for _, p := range pins {
		keys[p.BlockKey] = true
	}
	return keys
}

// InitializeResult reports what InitializeCase did.
type InitializeResult struct {
	Stage          *domain.StageDefinition `json:"stage,omitempty"`
	Opened         []domain.CaseBlock      `json:"opened,omitempty"`
	AlreadyStarted bool                    `json:"already_started"`
	SkippedTargets []string                `json:"skipped_targets,omitempty"`
}

// InitializeCase instantiates the start stage of a case's process graph.
// Idempotent: if any case block for a key of the start stage already
// exists, nothing happens.
func (e Engine) InitializeCase(ctx context.Context, caseID, actorID string) (InitializeResult, error) {
	var res InitializeResult
	c, g, err := e.loadGraphForCase(ctx, caseID)
	if err != nil {
		return res, err
	}
	stages := orderedStages(g)
	if len(stages) == 0 {
		return res, validationf("process graph for form version %s has no stages", c.FormVersionID)
	}
	start := stages[0]
	res.Stage = &start
	pins, skipped, err := e.stagePins(ctx, g, start.ID)
	if err != nil {
		return res, err
	}
	res.SkippedTargets = skipped
	existing, err := e.Repo.ListCaseBlocks(ctx, caseID)
	if err != nil {
		return res, err
	}
	keys := blockKeysOf(pins)
	for _, b := range existing {
		if keys[b.BlockKey] {
			res.AlreadyStarted = true
			return res, nil
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for _, pin := range pins {
		b, err := e.openBlockTx(ctx, tx, caseID, pin, start.AssignmentRule, actorID)
		if err != nil {
			return res, err
		}
		res.Opened = append(res.Opened, b)
	}
	if err := e.Events.Append(ctx, tx, "case.stage.initialized", caseID, "stage", start.ID, actorID, events.EventPayload{
		"stage_key": start.StageKey,
		"blocks":    len(res.Opened),
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	for _, b := range res.Opened {
		if err := e.EmitAssigned(ctx, b.ID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// AdvanceResult reports the outcome of a stage completion.
type AdvanceResult struct {
	AdvancedTo     []string           `json:"advanced_to,omitempty"`
	Opened         []domain.CaseBlock `json:"opened,omitempty"`
	SkippedTargets []string           `json:"skipped_targets,omitempty"`
	Terminal       bool               `json:"terminal"`
}

// transitionSatisfied gates stage advancement per transition. Transition
// conditions are not evaluated yet: every outgoing transition counts as
// satisfied. Kept as a seam so condition evaluation can be switched on
// without touching the surrounding orchestration.
func (e Engine) transitionSatisfied(t domain.StageTransition) bool {
	return true
}

// CompleteStageAndAdvance verifies every case block of the stage is
// finished, forces their tasks to done and instantiates the target stage
// of each outgoing transition that has no case blocks yet.
func (e Engine) CompleteStageAndAdvance(ctx context.Context, caseID, stageID, actorID string) (AdvanceResult, error) {
	var res AdvanceResult
	_, g, err := e.loadGraphForCase(ctx, caseID)
	if err != nil {
		return res, err
	}
	var stage *domain.StageDefinition
	for i := range g.Stages {
		if g.Stages[i].ID == stageID {
			stage = &g.Stages[i]
			break
		}
	}
	if stage == nil {
		return res, repo.ErrNotFound
	}
	pins, _, err := e.stagePins(ctx, g, stage.ID)
	if err != nil {
		return res, err
	}
	keys := blockKeysOf(pins)
	all, err := e.Repo.ListCaseBlocks(ctx, caseID)
	if err != nil {
		return res, err
	}
	var stageBlocks []domain.CaseBlock
	for _, b := range all {
		if keys[b.BlockKey] {
			stageBlocks = append(stageBlocks, b)
		}
	}
	if len(stageBlocks) == 0 {
		return res, invalidStatef("stage %s has no case blocks for case %s", stage.StageKey, caseID)
	}
	for _, b := range stageBlocks {
		if !b.Status.Terminal() {
			return res, invalidStatef("case block %s (%s) is still %s", b.ID, b.BlockKey, b.Status)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for _, b := range stageBlocks {
		if err := e.mirrorTaskTx(ctx, tx, b.ID, domain.StatusDone, b.AssigneeUserID, b.AssigneeGroupID, b.DueAt); err != nil {
			return res, err
		}
	}

	var outgoing []domain.StageTransition
	for _, t := range g.Transitions {
		if t.FromStageID == stage.ID {
			outgoing = append(outgoing, t)
		}
	}
	sort.SliceStable(outgoing, func(i, j int) bool { return outgoing[i].Order < outgoing[j].Order })
	res.Terminal = len(outgoing) == 0

	stagesByID := make(map[string]domain.StageDefinition, len(g.Stages))
	for _, s := range g.Stages {
		stagesByID[s.ID] = s
	}
	for _, t := range outgoing {
		if !e.transitionSatisfied(t) {
			continue
		}
		target, ok := stagesByID[t.ToStageID]
		if !ok {
			res.SkippedTargets = append(res.SkippedTargets, t.ToStageID)
			continue
		}
		targetPins, skipped, err := e.stagePins(ctx, g, target.ID)
		if err != nil {
			return res, err
		}
		res.SkippedTargets = append(res.SkippedTargets, skipped...)
		targetKeys := blockKeysOf(targetPins)
		populated := false
		for _, b := range all {
			if targetKeys[b.BlockKey] {
				populated = true
				break
			}
		}
		if populated {
			continue
		}
		rule := t.AssignmentRule
		if rule == nil {
			rule = target.AssignmentRule
		}
		for _, pin := range targetPins {
			b, err := e.openBlockTx(ctx, tx, caseID, pin, rule, actorID)
			if err != nil {
				return res, err
			}
			res.Opened = append(res.Opened, b)
		}
		res.AdvancedTo = append(res.AdvancedTo, target.ID)
	}
	if err := e.Events.Append(ctx, tx, "case.stage.completed", caseID, "stage", stage.ID, actorID, events.EventPayload{
		"stage_key":   stage.StageKey,
		"advanced_to": res.AdvancedTo,
		"terminal":    res.Terminal,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	for _, b := range res.Opened {
		if err := e.EmitAssigned(ctx, b.ID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// GetRuntimeStages returns, in stage order, the stages that have at least
// one case block instantiated for the case. A stage is read-only once all
// its blocks are finished.
func (e Engine) GetRuntimeStages(ctx context.Context, caseID string) ([]domain.CaseStageRuntime, error) {
	_, g, err := e.loadGraphForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListCaseBlocks(ctx, caseID)
	if err != nil {
		return nil, err
	}
	var runtime []domain.CaseStageRuntime
	for _, stage := range orderedStages(g) {
		pins, _, err := e.stagePins(ctx, g, stage.ID)
		if err != nil {
			return nil, err
		}
		keys := blockKeysOf(pins)
		var blocks []domain.CaseBlock
		readOnly := true
		for _, b := range all {
			if !keys[b.BlockKey] {
				continue
			}
			blocks = append(blocks, b)
			if !b.Status.Terminal() {
				readOnly = false
			}
		}
		if len(blocks) == 0 {
			continue
		}
		runtime = append(runtime, domain.CaseStageRuntime{
			Stage:      stage,
			Blocks:     blocks,
			IsReadOnly: readOnly,
		})
	}
	return runtime, nil
}

// ResolveAssignment resolves an assignment rule into assignee and due
// fields. An absent rule yields all nils; this is the extension seam for
// fallback assignment policies.
func (e Engine) ResolveAssignment(rule *domain.AssignmentRule) (userID, groupID, dueAt *string) {
	if rule == nil {
		return nil, nil, nil
	}
	if rule.DueInHours != nil {
		due := e.now().UTC().Add(time.Duration(*rule.DueInHours) * time.Hour).Format(time.RFC3339)
		dueAt = &due
	}
	return rule.UserID, rule.GroupID, dueAt
}
