package engine_test

import (
	"encoding/json"
	"errors"
	"testing"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

// twoStageGraph builds intake -> decision, with one block per stage.
func twoStageGraph(t *testing.T, env testEnv) domain.ProcessGraph {
	t.Helper()
	pins, err := env.Engine.ListBlockPins(env.Ctx, env.FV.ID)
	if err != nil {
		t.Fatalf("list pins: %v", err)
	}
	pinByKey := make(map[string]domain.BlockPin, len(pins))
	for _, p := range pins {
		pinByKey[p.BlockKey] = p
	}
	due := 48
	g := domain.ProcessGraph{
		FormVersionID: env.FV.ID,
		Stages: []domain.StageDefinition{
			{ID: "s2", FormVersionID: env.FV.ID, StageKey: "decision", Title: "Decision", Order: 2},
			{ID: "s1", FormVersionID: env.FV.ID, StageKey: "intake", Title: "Intake", Order: 1,
				AssignmentRule: &domain.AssignmentRule{UserID: strPtr("alice"), DueInHours: &due}},
		},
		StageBlocks: []domain.StageBlock{
			{ID: "sb1", StageID: "s1", BlockDefinitionID: pinByKey["intake"].ID, Order: 1},
			{ID: "sb2", StageID: "s2", BlockDefinitionID: pinByKey["review"].ID, Order: 1},
		},
		Transitions: []domain.StageTransition{
			{ID: "t1", FromStageID: "s1", ToStageID: "s2", Order: 1},
		},
	}
	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ImportGraph(env.Ctx, env.FV.ID, raw, "tester"); err != nil {
		t.Fatalf("import graph: %v", err)
	}
	return g
}

func strPtr(s string) *string { return &s }

func TestInitializeCaseOpensStartStage(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	res, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Stage == nil || res.Stage.StageKey != "intake" {
		t.Fatalf("start stage should be intake (lowest order), got %+v", res.Stage)
	}
	if len(res.Opened) != 1 || res.Opened[0].BlockKey != "intake" {
		t.Fatalf("unexpected opened blocks: %+v", res.Opened)
	}
	b := res.Opened[0]
	if b.AssigneeUserID == nil || *b.AssigneeUserID != "alice" {
		t.Fatalf("stage assignment rule not applied: %+v", b)
	}
	if b.DueAt == nil {
		t.Fatalf("due date not resolved from rule")
	}

	// Second initialize is a no-op.
	again, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if !again.AlreadyStarted || len(again.Opened) != 0 {
		t.Fatalf("expected idempotent no-op, got %+v", again)
	}
}

func TestCompleteStageGatedOnOpenBlocks(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	if _, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s1", "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid-state while intake block open, got %v", err)
	}
}

func TestCompleteStageAdvancesToNext(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	if _, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s1", "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Terminal {
		t.Fatalf("s1 has outgoing transitions, should not be terminal")
	}
	if len(res.AdvancedTo) != 1 || res.AdvancedTo[0] != "s2" {
		t.Fatalf("expected advance to s2, got %+v", res.AdvancedTo)
	}
	if len(res.Opened) != 1 || res.Opened[0].BlockKey != "review" {
		t.Fatalf("expected review block opened, got %+v", res.Opened)
	}

	// Advancing again must not duplicate s2's blocks.
	res2, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s1", "tester")
	if err != nil {
		t.Fatalf("re-advance: %v", err)
	}
	if len(res2.Opened) != 0 {
		t.Fatalf("target stage already populated, got %+v", res2.Opened)
	}
}

func TestCompleteFinalStageIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	if _, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s1", "tester"); err != nil {
		t.Fatal(err)
	}
	review := blockByKey(t, env, c.ID, "review")
	if _, err := env.Engine.CompleteBlock(env.Ctx, review.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s2", "tester")
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if !res.Terminal {
		t.Fatalf("s2 has no outgoing transitions, should be terminal")
	}
}

func TestRuntimeStagesReflectProgress(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	if _, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	stages, err := env.Engine.GetRuntimeStages(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if len(stages) != 1 || stages[0].Stage.StageKey != "intake" || stages[0].IsReadOnly {
		t.Fatalf("expected one live intake stage, got %+v", stages)
	}
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteStageAndAdvance(env.Ctx, c.ID, "s1", "tester"); err != nil {
		t.Fatal(err)
	}
	stages, err = env.Engine.GetRuntimeStages(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected two instantiated stages, got %d", len(stages))
	}
	if !stages[0].IsReadOnly {
		t.Fatalf("finished intake stage should be read-only")
	}
	if stages[1].IsReadOnly {
		t.Fatalf("live decision stage should be editable")
	}
}

func TestImportGraphRejectsDanglingTransition(t *testing.T) {
	env := newTestEnv(t)
	raw := []byte(`{"Stages":[{"Id":"s1","StageKey":"a","Order":1}],"StageBlocks":[],"Transitions":[{"Id":"t1","FromStageId":"s1","ToStageId":"missing","Order":1}]}`)
	_, err := env.Engine.ImportGraph(env.Ctx, env.FV.ID, raw, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInitializeCaseWithoutGraphFails(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env)
	_, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for missing graph, got %v", err)
	}
}
