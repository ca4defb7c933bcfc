package engine_test

import (
	"errors"
	"testing"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

func TestParseStatusSpellings(t *testing.T) {
	cases := map[string]domain.BlockStatus{
		"open":        domain.StatusOpen,
		"OPEN":        domain.StatusOpen,
		"inprogress":  domain.StatusInProgress,
		"in-progress": domain.StatusInProgress,
		"In_Progress": domain.StatusInProgress,
		"waiting":     domain.StatusWaiting,
		"done":        domain.StatusDone,
		"rejected":    domain.StatusRejected,
	}
	for in, want := range cases {
		got, err := engine.ParseStatus(in)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "locked", "finished"} {
		if _, err := engine.ParseStatus(bad); err == nil {
			t.Fatalf("ParseStatus(%q) should fail", bad)
		}
	}
}

func TestSetTaskStatusMirrorsBlock(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	b, err := env.Engine.SetTaskStatus(env.Ctx, intake.ID, "in-progress", "tester")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if b.Status != domain.StatusInProgress {
		t.Fatalf("block status = %s", b.Status)
	}
	task, err := env.Engine.Repo.GetTaskByCaseBlock(env.Ctx, intake.ID)
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("task not mirrored: %+v %v", task, err)
	}
	notes, err := env.Engine.ListNotifications(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range notes {
		if n.Type == engine.NotifyTaskStatusChanged {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected status-changed notification, got %+v", notes)
	}
}

func TestSetTaskStatusOnLockedRejected(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.CompleteBlock(env.Ctx, intake.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SetTaskStatus(env.Ctx, intake.ID, "open", "tester")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestAssignRevivesFinishedBlock(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	if _, err := env.Engine.SetTaskStatus(env.Ctx, intake.ID, "done", "tester"); err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.Assign(env.Ctx, intake.ID, strPtr("bob"), nil, nil, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if b.Status != domain.StatusOpen {
		t.Fatalf("assignment should revive the block, got %s", b.Status)
	}
	if b.AssigneeUserID == nil || *b.AssigneeUserID != "bob" {
		t.Fatalf("assignee not set: %+v", b)
	}
	task, err := env.Engine.Repo.GetTaskByCaseBlock(env.Ctx, intake.ID)
	if err != nil || task.AssigneeUserID == nil || *task.AssigneeUserID != "bob" {
		t.Fatalf("task assignee not mirrored: %+v %v", task, err)
	}
}

func TestAssignSetsDueDate(t *testing.T) {
	env := newTestEnv(t)
	c := startCase(t, env, "intake")
	intake := blockByKey(t, env, c.ID, "intake")
	due := "2026-01-03T00:00:00Z"
	b, err := env.Engine.Assign(env.Ctx, intake.ID, strPtr("bob"), nil, strPtr(due), "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if b.DueAt == nil || *b.DueAt != due {
		t.Fatalf("due date not set: %+v", b)
	}
	task, err := env.Engine.Repo.GetTaskByCaseBlock(env.Ctx, intake.ID)
	if err != nil || task.DueAt == nil || *task.DueAt != due {
		t.Fatalf("task due not mirrored: %+v %v", task, err)
	}

	// The assigned due date feeds the sweep like a stage-rule due would.
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	res, err := env.Engine.SweepDueTasks(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Overdue) != 1 || res.Overdue[0] != intake.ID {
		t.Fatalf("expected overdue assignment, got %+v", res)
	}

	_, err = env.Engine.Assign(env.Ctx, intake.ID, strPtr("bob"), nil, strPtr("tomorrow"), "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for malformed due date, got %v", err)
	}
	b, err = env.Engine.Assign(env.Ctx, intake.ID, strPtr("bob"), nil, strPtr(""), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if b.DueAt != nil {
		t.Fatalf("empty due date should clear, got %+v", b)
	}
}

func TestSweepDueTasks(t *testing.T) {
	env := newTestEnv(t)
	twoStageGraph(t, env)
	c := startCase(t, env)
	// Opens intake with a 48h due window from the frozen clock.
	if _, err := env.Engine.InitializeCase(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	// Well before the window: nothing fires.
	res, err := env.Engine.SweepDueTasks(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.DueSoon) != 0 || len(res.Overdue) != 0 {
		t.Fatalf("expected quiet sweep, got %+v", res)
	}

	// Inside the 24h due-soon window.
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC) }
	res, err = env.Engine.SweepDueTasks(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DueSoon) != 1 || len(res.Overdue) != 0 {
		t.Fatalf("expected one due-soon, got %+v", res)
	}

	// Past the due date.
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	res, err = env.Engine.SweepDueTasks(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Overdue) != 1 {
		t.Fatalf("expected one overdue, got %+v", res)
	}
	notes, err := env.Engine.ListNotifications(env.Ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	var dueSoon, overdue int
	for _, n := range notes {
		switch n.Type {
		case engine.NotifyTaskDueSoon:
			dueSoon++
		case engine.NotifyTaskOverdue:
			overdue++
		}
	}
	if dueSoon != 1 || overdue != 1 {
		t.Fatalf("expected due-soon and overdue notifications, got %d/%d", dueSoon, overdue)
	}
}
