package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
)

// PinInput describes one block pin for form version creation.
type PinInput struct {
	BlockKey     string `json:"block_key"`
	BlockVersion int    `json:"block_version"`
	Title        string `json:"title,omitempty"`
}

// CreateFormVersion registers a published form version together with its
// block pins. Pins are immutable once created; a new form version is the
// way to change them.
func (e Engine) CreateFormVersion(ctx context.Context, formKey string, version int, title string, pins []PinInput, actorID string) (domain.FormVersion, error) {
	if formKey == "" {
		return domain.FormVersion{}, validationf("form key is required")
	}
	if version <= 0 {
		return domain.FormVersion{}, validationf("version must be positive")
	}
	seen := make(map[string]bool, len(pins))
	for _, p := range pins {
		if p.BlockKey == "" {
			return domain.FormVersion{}, validationf("block pin has empty key")
		}
		if seen[p.BlockKey] {
			return domain.FormVersion{}, validationf("block key %s pinned twice", p.BlockKey)
		}
		seen[p.BlockKey] = true
	}
	fv := domain.FormVersion{
		ID:        uuid.New().String(),
		FormKey:   formKey,
		Version:   version,
		Title:     title,
		CreatedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fv, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFormVersion(ctx, tx, fv); err != nil {
		return fv, fmt.Errorf("insert form version: %w", err)
	}
	for _, p := range pins {
		pin := domain.BlockPin{
			ID:            uuid.New().String(),
			FormVersionID: fv.ID,
			BlockKey:      p.BlockKey,
			BlockVersion:  p.BlockVersion,
			Title:         p.Title,
		}
		if err := e.Repo.InsertBlockPin(ctx, tx, pin); err != nil {
			return fv, fmt.Errorf("insert block pin %s: %w", p.BlockKey, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "form.version.created", "", "form_version", fv.ID, actorID, events.EventPayload{
		"form_key": formKey,
		"version":  version,
		"pins":     len(pins),
	}); err != nil {
		return fv, err
	}
	if err := tx.Commit(); err != nil {
		return fv, err
	}
	return fv, nil
}

func (e Engine) GetFormVersion(ctx context.Context, id string) (domain.FormVersion, error) {
	return e.Repo.GetFormVersion(ctx, id)
}

func (e Engine) ListFormVersions(ctx context.Context) ([]domain.FormVersion, error) {
	return e.Repo.ListFormVersions(ctx)
}

func (e Engine) ListBlockPins(ctx context.Context, formVersionID string) ([]domain.BlockPin, error) {
	return e.Repo.ListBlockPins(ctx, formVersionID)
}

// ImportGraph validates and stores a process graph definition for a form
// version, replacing any previous definition wholesale.
func (e Engine) ImportGraph(ctx context.Context, formVersionID string, rawJSON []byte, actorID string) (domain.ProcessGraph, error) {
	var g domain.ProcessGraph
	if _, err := e.Repo.GetFormVersion(ctx, formVersionID); err != nil {
		return g, err
	}
	if err := json.Unmarshal(rawJSON, &g); err != nil {
		return g, validationf("graph json: %v", err)
	}
	g.FormVersionID = formVersionID
	if problems := validateGraph(g); len(problems) > 0 {
		return g, validationf("graph is invalid: %s", problems[0])
	}
	if err := e.Repo.SaveGraph(ctx, g); err != nil {
		return g, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "graph.imported", "", "process_graph", formVersionID, actorID, events.EventPayload{
		"stages":      len(g.Stages),
		"transitions": len(g.Transitions),
	}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return g, nil
}

// GetGraph returns the stored process graph, or nil when no usable
// definition exists.
func (e Engine) GetGraph(ctx context.Context, formVersionID string) (*domain.ProcessGraph, error) {
	return e.Repo.LoadGraph(ctx, formVersionID)
}

// validateGraph returns structural problems in a graph definition:
// duplicate stage ids, transitions referencing unknown stages, stage
// blocks referencing unknown stages.
func validateGraph(g domain.ProcessGraph) []string {
	var problems []string
	stageIDs := make(map[string]bool, len(g.Stages))
	for _, s := range g.Stages {
		if s.ID == "" {
			problems = append(problems, "stage with empty id")
			continue
		}
		if stageIDs[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate stage id %s", s.ID))
		}
		stageIDs[s.ID] = true
	}
	for _, sb := range g.StageBlocks {
		if !stageIDs[sb.StageID] {
			problems = append(problems, fmt.Sprintf("stage block %s references unknown stage %s", sb.ID, sb.StageID))
		}
	}
	for _, t := range g.Transitions {
		if !stageIDs[t.FromStageID] {
			problems = append(problems, fmt.Sprintf("transition %s references unknown from-stage %s", t.ID, t.FromStageID))
		}
		if !stageIDs[t.ToStageID] {
			problems = append(problems, fmt.Sprintf("transition %s references unknown to-stage %s", t.ID, t.ToStageID))
		}
	}
	return problems
}
