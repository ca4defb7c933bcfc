package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseflow/internal/condition"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	FV     domain.FormVersion
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedRoles(ctx); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	fv, err := eng.CreateFormVersion(ctx, "claim", 1, "Insurance Claim", []engine.PinInput{
		{BlockKey: "intake", BlockVersion: 1, Title: "Intake"},
		{BlockKey: "review", BlockVersion: 2, Title: "Review"},
		{BlockKey: "payout", BlockVersion: 1, Title: "Payout"},
	}, "tester")
	if err != nil {
		t.Fatalf("create form version: %v", err)
	}
	if err := eng.GrantRole(ctx, fv.ID, "boss", "supervisor", "tester"); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, FV: fv}
}

func startCase(t *testing.T, env testEnv, keys ...string) domain.Case {
	t.Helper()
	c, err := env.Engine.StartCase(env.Ctx, engine.StartCaseOptions{
		FormVersionID:  env.FV.ID,
		ActorID:        "tester",
		StartBlockKeys: keys,
	})
	if err != nil {
		t.Fatalf("start case: %v", err)
	}
	return c
}

func blockByKey(t *testing.T, env testEnv, caseID, key string) domain.CaseBlock {
	t.Helper()
	blocks, err := env.Engine.ListCaseBlocks(env.Ctx, caseID)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	for _, b := range blocks {
		if b.BlockKey == key {
			return b
		}
	}
	t.Fatalf("no case block with key %s", key)
	return domain.CaseBlock{}
}

func TestStartCaseOpensBlocksAndTasks(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	blocks, err := env.Engine.ListCaseBlocks(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].BlockKey != "intake" || blocks[0].Status != domain.StatusOpen {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	task, err := env.Engine.Repo.GetTaskByCaseBlock(env.Ctx, blocks[0].ID)
	if err != nil {
		t.Fatalf("mirrored task: %v", err)
	}
	if task.Status != domain.StatusOpen {
		t.Fatalf("task status = %s", task.Status)
	}
	notes, err := env.Engine.ListNotifications(env.Ctx, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != engine.NotifyTaskAssigned {
		t.Fatalf("expected one assigned notification, got %+v", notes)
	}
}

func TestStartCaseRejectsUnpinnedKey(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StartCase(env.Ctx, engine.StartCaseOptions{
		FormVersionID:  env.FV.ID,
		ActorID:        "tester",
		StartBlockKeys: []string{"no-such-key"},
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteBlockLocksAndRoutes(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddRoute(env.Ctx, env.FV.ID, "intake", "review", condition.Condition{
		Operator:   "and",
		Conditions: []condition.Predicate{{Field: "amount", Op: condition.OpGreater, Value: 100}},
	}, "tester"); err != nil {
		t.Fatalf("add route: %v", err)
	}
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.SetBlockData(env.Ctx, intake.ID, `{"amount": 250}`, "tester"); err != nil {
		t.Fatalf("set data: %v", err)
	}
	res, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Block.Status != domain.StatusLocked || res.Block.LockedBy == nil {
		t.Fatalf("block not locked: %+v", res.Block)
	}
	if len(res.Opened) != 1 || res.Opened[0].BlockKey != "review" {
		t.Fatalf("expected review to open, got %+v", res.Opened)
	}
	task, err := env.Engine.Repo.GetTaskByCaseBlock(env.Ctx, intake.ID)
	if err != nil || task.Status != domain.StatusDone {
		t.Fatalf("task should be done: %+v %v", task, err)
	}
}

func TestCompleteBlockUnsatisfiedRouteOpensNothing(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddRoute(env.Ctx, env.FV.ID, "intake", "review", condition.Condition{
		Operator:   "and",
		Conditions: []condition.Predicate{{Field: "amount", Op: condition.OpGreater, Value: 100}},
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.SetBlockData(env.Ctx, intake.ID, `{"amount": 50}`, "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(res.Opened) != 0 {
		t.Fatalf("expected no fan-out, got %+v", res.Opened)
	}
}

func TestCompleteBlockTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestCompleteBlockSkipsUnpinnedTarget(t *testing.T) {
	env := newTestEnv(t)
	// Insert the route directly; AddRoute would reject the dangling target.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.Repo.InsertRoute(env.Ctx, tx, domain.Route{
		ID:            "rt-dangling",
		FormVersionID: env.FV.ID,
		FromBlockKey:  "intake",
		ToBlockKey:    "ghost",
		ConditionJSON: `{"Operator":"and","Conditions":[]}`,
	})
	if err != nil {
		t.Fatalf("insert route: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	res, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(res.Opened) != 0 {
		t.Fatalf("nothing should open: %+v", res.Opened)
	}
	if len(res.SkippedTargets) != 1 || res.SkippedTargets[0] != "ghost" {
		t.Fatalf("expected ghost in skipped targets, got %+v", res.SkippedTargets)
	}
}

func TestReopenRequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ReopenBlock(env.Ctx, intake.ID, "nobody", "oops")
	var ce auth.CapabilityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected capability error, got %v", err)
	}
	b, err := env.Engine.ReopenBlock(env.Ctx, intake.ID, "boss", "missing receipt")
	if err != nil {
		t.Fatalf("reopen by boss: %v", err)
	}
	if b.Status != domain.StatusOpen || b.ReopenedBy == nil || *b.ReopenedBy != "boss" {
		t.Fatalf("unexpected reopened block: %+v", b)
	}
	if b.ReopenReason == nil || *b.ReopenReason != "missing receipt" {
		t.Fatalf("reason not recorded: %+v", b)
	}
}

func TestReopenNonLockedRejected(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	_, err := env.Engine.ReopenBlock(env.Ctx, intake.ID, "boss", "")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestSetBlockDataRejectsNonObject(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	_, err := env.Engine.SetBlockData(env.Ctx, intake.ID, `[1,2,3]`, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStaleBlockUpdateConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	// First writer wins and bumps the version.
	if _, err := env.Engine.SetBlockData(env.Ctx, intake.ID, `{"a":1}`, "tester"); err != nil {
		t.Fatal(err)
	}
	// Second writer still holds the original snapshot.
	stale := intake
	stale.DataJSON = `{"a":2}`
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateCaseBlock(env.Ctx, tx, stale)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestValidateRoutesCollectsAllProblems(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	routes := []domain.Route{
		{ID: "rt-1", FormVersionID: env.FV.ID, FromBlockKey: "nope", ToBlockKey: "review", ConditionJSON: `{"Operator":"and","Conditions":[{"Field":"x","Op":"==","Value":1}]}`},
		{ID: "rt-2", FormVersionID: env.FV.ID, FromBlockKey: "intake", ToBlockKey: "review", ConditionJSON: `{broken`},
		{ID: "rt-3", FormVersionID: env.FV.ID, FromBlockKey: "intake", ToBlockKey: "review", ConditionJSON: `{"Operator":"and","Conditions":[]}`},
	}
	for _, rt := range routes {
		if err := env.Engine.Repo.InsertRoute(env.Ctx, tx, rt); err != nil {
			t.Fatalf("insert %s: %v", rt.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	problems, err := env.Engine.ValidateRoutes(env.Ctx, env.FV.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", len(problems), problems)
	}
}

func TestEventAppendOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.SetBlockData(env.Ctx, intake.ID, `{"ok":true}`, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, events.ListOptions{CaseID: c.ID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make(map[string]bool, len(evts))
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"case.started", "case.block.opened", "case.block.data_set", "case.block.completed"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
