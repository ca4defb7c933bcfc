package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/condition"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// AddRoute creates a block-to-block route within a form version. Both keys
// must be pinned to the form version.
func (e Engine) AddRoute(ctx context.Context, formVersionID, fromKey, toKey string, cond condition.Condition, actorID string) (domain.Route, error) {
	if _, err := e.Repo.GetFormVersion(ctx, formVersionID); err != nil {
		return domain.Route{}, err
	}
	for _, key := range []string{fromKey, toKey} {
		if _, err := e.Repo.GetBlockPinByKey(ctx, formVersionID, key); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Route{}, validationf("block key %s is not pinned to form version %s", key, formVersionID)
			}
			return domain.Route{}, err
		}
	}
	raw, err := json.Marshal(cond)
	if err != nil {
		return domain.Route{}, err
	}
	rt := domain.Route{
		ID:            uuid.New().String(),
		FormVersionID: formVersionID,
		FromBlockKey:  fromKey,
		ToBlockKey:    toKey,
		ConditionJSON: string(raw),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Route{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRoute(ctx, tx, rt); err != nil {
		return domain.Route{}, fmt.Errorf("insert route: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "route.added", "", "route", rt.ID, actorID, events.EventPayload{
		"form_version_id": formVersionID,
		"from":            fromKey,
		"to":              toKey,
	}); err != nil {
		return domain.Route{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Route{}, err
	}
	return rt, nil
}

// ListRoutes returns all routes of a form version.
func (e Engine) ListRoutes(ctx context.Context, formVersionID string) ([]domain.Route, error) {
	return e.Repo.ListRoutes(ctx, formVersionID)
}

// ValidateRoutes checks every route of a form version and returns all
// violations rather than failing fast, so an editor can display them
// together. Flagged: unknown from-key, unknown to-key, empty or malformed
// condition.
func (e Engine) ValidateRoutes(ctx context.Context, formVersionID string) ([]string, error) {
	pins, err := e.Repo.ListBlockPins(ctx, formVersionID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(pins))
	for _, p := range pins {
		known[p.BlockKey] = true
	}
	routes, err := e.Repo.ListRoutes(ctx, formVersionID)
	if err != nil {
		return nil, err
	}
	var problems []string
	for _, rt := range routes {
		if !known[rt.FromBlockKey] {
			problems = append(problems, fmt.Sprintf("route %s: unknown from-block key %s", rt.ID, rt.FromBlockKey))
		}
		if !known[rt.ToBlockKey] {
			problems = append(problems, fmt.Sprintf("route %s: unknown to-block key %s", rt.ID, rt.ToBlockKey))
		}
		cond, err := condition.Parse(rt.ConditionJSON)
		if err != nil {
			problems = append(problems, fmt.Sprintf("route %s: malformed condition json", rt.ID))
			continue
		}
		if len(cond.Conditions) == 0 {
			problems = append(problems, fmt.Sprintf("route %s: condition has no predicates", rt.ID))
		}
	}
	return problems, nil
}

// EvaluateSatisfiedTargets returns the target block keys of every route
// leaving the given case block's key whose condition is satisfied by the
// block's current data.
func (e Engine) EvaluateSatisfiedTargets(ctx context.Context, caseID, caseBlockID string) ([]string, error) {
	b, err := e.Repo.GetCaseBlock(ctx, caseBlockID)
	if err != nil {
		return nil, err
	}
	if b.CaseID != caseID {
		return nil, validationf("case block %s does not belong to case %s", caseBlockID, caseID)
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	routes, err := e.Repo.ListRoutes(ctx, c.FormVersionID)
	if err != nil {
		return nil, err
	}
	data := parseBlockData(b.DataJSON)
	var targets []string
	for _, rt := range routes {
		if rt.FromBlockKey != b.BlockKey {
			continue
		}
		cond, err := condition.Parse(rt.ConditionJSON)
		if err != nil {
			continue
		}
		if condition.Evaluate(cond, data) {
			targets = append(targets, rt.ToBlockKey)
		}
	}
	return targets, nil
}
