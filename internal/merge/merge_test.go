package merge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/treetrack/treetrack/internal/model"
	"github.com/treetrack/treetrack/internal/store"
	"github.com/treetrack/treetrack/internal/synth"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, Scope) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	userID, err := s.CreateUser(ctx, "alice", "x")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	projectID, err := s.CreateProject(ctx, "plan", userID)
	if err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}

	return NewEngine(s), s, Scope{ProjectID: projectID, UserID: userID}
}

func newTask(id int64, title string) synth.DeltaTask {
	return synth.DeltaTask{
		ID: id, Title: title, Color: "#cfe8ff", Draft: 1,
		// Scope IDs in a delta are noise the engine must overwrite.
		ProjectID: 999, UserID: 999,
	}
}

func TestApply_ResolvesPlaceholders(t *testing.T) {
	e, _, scope := newTestEngine(t)

	res, err := e.Apply(context.Background(), scope, &synth.Delta{
		Tasks: []synth.DeltaTask{newTask(-1, "A"), newTask(-2, "B")},
		Dependencies: []synth.DeltaDependency{
			{ID: -1, FromTask: -1, ToTask: -2},
		},
		Summary: "A before B.",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if len(res.Tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(res.Tasks))
	}
	a, b := res.Tasks[0], res.Tasks[1]
	if a.ID < 0 || b.ID < 0 || a.ID == b.ID {
		t.Errorf("minted IDs = %d, %d; want distinct non-negative", a.ID, b.ID)
	}

	if len(res.Dependencies) != 1 {
		t.Fatalf("len(deps) = %d, want 1", len(res.Dependencies))
	}
	dep := res.Dependencies[0]
	if dep.FromTask != a.ID || dep.ToTask != b.ID {
		t.Errorf("dep endpoints = %d->%d, want %d->%d", dep.FromTask, dep.ToTask, a.ID, b.ID)
	}
	if res.RejectedEdges != 0 {
		t.Errorf("rejected = %d, want 0", res.RejectedEdges)
	}
	if res.Summary != "A before B." {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestApply_ForcesScopeAndFlags(t *testing.T) {
	e, _, scope := newTestEngine(t)

	dt := newTask(-1, "A")
	dt.Locked = 1 // must not survive
	res, err := e.Apply(context.Background(), scope, &synth.Delta{
		Tasks:   []synth.DeltaTask{dt},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	got := res.Tasks[0]
	if got.ProjectID != scope.ProjectID || got.UserID != scope.UserID {
		t.Errorf("scope = (%d, %d), want (%d, %d)", got.ProjectID, got.UserID, scope.ProjectID, scope.UserID)
	}
	if got.Locked {
		t.Error("synthesized task persisted as locked")
	}
	if !got.Draft {
		t.Error("draft flag lost")
	}
}

func TestApply_EditsExistingTask(t *testing.T) {
	e, s, scope := newTestEngine(t)
	ctx := context.Background()

	id, _ := s.CreateTask(ctx, model.Task{Title: "old", ProjectID: scope.ProjectID, UserID: scope.UserID})

	edit := newTask(id, "new title")
	edit.PosX = 50
	edit.Completed = 1
	res, err := e.Apply(ctx, scope, &synth.Delta{
		Tasks:   []synth.DeltaTask{edit},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if len(res.Tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1 (edit, not create)", len(res.Tasks))
	}
	got := res.Tasks[0]
	if got.ID != id || got.Title != "new title" || got.PosX != 50 || !got.Completed {
		t.Errorf("edited task = %+v", got)
	}
}

func TestApply_DropsStaleEdit(t *testing.T) {
	e, _, scope := newTestEngine(t)

	res, err := e.Apply(context.Background(), scope, &synth.Delta{
		Tasks:   []synth.DeltaTask{newTask(4242, "ghost")},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(res.Tasks) != 0 {
		t.Errorf("len(tasks) = %d, want 0; stale edit must not create", len(res.Tasks))
	}
}

func TestApply_RejectsCycleClosingEdge(t *testing.T) {
	e, s, scope := newTestEngine(t)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: scope.ProjectID, UserID: scope.UserID})
	b, _ := s.CreateTask(ctx, model.Task{Title: "B", ProjectID: scope.ProjectID, UserID: scope.UserID})
	if _, err := s.CreateDependency(ctx, model.Dependency{
		FromTask: a, ToTask: b, ProjectID: scope.ProjectID, UserID: scope.UserID,
	}); err != nil {
		t.Fatalf("CreateDependency() failed: %v", err)
	}

	res, err := e.Apply(ctx, scope, &synth.Delta{
		Dependencies: []synth.DeltaDependency{
			{ID: -1, FromTask: b, ToTask: a},
		},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if res.RejectedEdges != 1 {
		t.Errorf("rejected = %d, want 1", res.RejectedEdges)
	}
	if len(res.Dependencies) != 1 || res.Dependencies[0].FromTask != a || res.Dependencies[0].ToTask != b {
		t.Errorf("deps = %+v, want only %d->%d", res.Dependencies, a, b)
	}
}

func TestApply_RejectsSelfLoop(t *testing.T) {
	e, s, scope := newTestEngine(t)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: scope.ProjectID, UserID: scope.UserID})

	res, err := e.Apply(ctx, scope, &synth.Delta{
		Dependencies: []synth.DeltaDependency{
			{ID: -1, FromTask: a, ToTask: a},
		},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if res.RejectedEdges != 1 || len(res.Dependencies) != 0 {
		t.Errorf("rejected = %d, deps = %d; want 1 and 0", res.RejectedEdges, len(res.Dependencies))
	}
}

func TestApply_DropsUnresolvableEndpointsSilently(t *testing.T) {
	e, _, scope := newTestEngine(t)

	res, err := e.Apply(context.Background(), scope, &synth.Delta{
		Tasks: []synth.DeltaTask{newTask(-1, "A")},
		Dependencies: []synth.DeltaDependency{
			{ID: -1, FromTask: -1, ToTask: -7}, // -7 never minted
			{ID: -2, FromTask: 500, ToTask: -1},
		},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(res.Dependencies) != 0 {
		t.Errorf("len(deps) = %d, want 0", len(res.Dependencies))
	}
	// Unusable endpoints are a drop, not a validation rejection.
	if res.RejectedEdges != 0 {
		t.Errorf("rejected = %d, want 0", res.RejectedEdges)
	}
}

func TestApply_Idempotent(t *testing.T) {
	e, _, scope := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Apply(ctx, scope, &synth.Delta{
		Tasks: []synth.DeltaTask{newTask(-1, "A"), newTask(-2, "B")},
		Dependencies: []synth.DeltaDependency{
			{ID: -1, FromTask: -1, ToTask: -2},
		},
		Summary: "s",
	})
	if err != nil {
		t.Fatalf("first Apply() failed: %v", err)
	}

	// The same content again, identities now real.
	replay := &synth.Delta{Summary: "s"}
	for _, task := range first.Tasks {
		dt := newTask(task.ID, task.Title)
		dt.PosX, dt.PosY = task.PosX, task.PosY
		replay.Tasks = append(replay.Tasks, dt)
	}
	for _, dep := range first.Dependencies {
		replay.Dependencies = append(replay.Dependencies, synth.DeltaDependency{
			ID: dep.ID, FromTask: dep.FromTask, ToTask: dep.ToTask,
		})
	}

	second, err := e.Apply(ctx, scope, replay)
	if err != nil {
		t.Fatalf("second Apply() failed: %v", err)
	}

	if len(second.Tasks) != len(first.Tasks) || len(second.Dependencies) != len(first.Dependencies) {
		t.Fatalf("replay changed entity counts: %d/%d -> %d/%d",
			len(first.Tasks), len(first.Dependencies), len(second.Tasks), len(second.Dependencies))
	}
	for i := range first.Tasks {
		if second.Tasks[i].ID != first.Tasks[i].ID || second.Tasks[i].Title != first.Tasks[i].Title {
			t.Errorf("task %d changed on replay: %+v -> %+v", i, first.Tasks[i], second.Tasks[i])
		}
	}
	if second.RejectedEdges != 0 {
		t.Errorf("rejected = %d on replay, want 0", second.RejectedEdges)
	}
}
