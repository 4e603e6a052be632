package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/treetrack/treetrack/internal/model"
)

// openTestStore creates an initialized store backed by a temp file.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

// seedScope creates a user and a project, returning (projectID, userID).
func seedScope(t *testing.T, s *Store, username string) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	userID, err := s.CreateUser(ctx, username, "x")
	if err != nil {
		t.Fatalf("CreateUser(%q) failed: %v", username, err)
	}
	projectID, err := s.CreateProject(ctx, username+"'s project", userID)
	if err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	return projectID, userID
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "h1"); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	_, err := s.CreateUser(ctx, "alice", "h2")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("CreateUser(duplicate) = %v, want ErrUsernameTaken", err)
	}
}

func TestCreateTask_AndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, userID := seedScope(t, s, "alice")

	color := "#aaccee"
	id, err := s.CreateTask(ctx, model.Task{
		Title:     "Write proposal",
		PosX:      10,
		PosY:      -4.5,
		ProjectID: projectID,
		UserID:    userID,
		Color:     &color,
		Draft:     true,
	})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("CreateTask() id = %d, want positive", id)
	}

	tasks, err := s.ListTasks(ctx, projectID, userID)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.Title != "Write proposal" || got.PosX != 10 || got.PosY != -4.5 {
		t.Errorf("task fields = %+v", got)
	}
	if got.Color == nil || *got.Color != "#aaccee" {
		t.Errorf("color = %v, want #aaccee", got.Color)
	}
	if !got.Draft || got.Locked || got.Completed {
		t.Errorf("flags = draft:%v locked:%v completed:%v", got.Draft, got.Locked, got.Completed)
	}
}

func TestCreateTask_OutOfScopeProjectIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, _ := seedScope(t, s, "alice")
	_, bobID := seedScope(t, s, "bob")

	// Bob tries to create a task inside Alice's project.
	id, err := s.CreateTask(ctx, model.Task{
		Title:     "intruder",
		ProjectID: projectID,
		UserID:    bobID,
	})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if id != 0 {
		t.Errorf("CreateTask() id = %d, want 0 for out-of-scope project", id)
	}
}

func TestUpdateTask_ScopeIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, aliceID := seedScope(t, s, "alice")
	_, bobID := seedScope(t, s, "bob")

	taskID, err := s.CreateTask(ctx, model.Task{Title: "Mine", ProjectID: projectID, UserID: aliceID})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	title := "stolen"
	changes, err := s.UpdateTask(ctx, taskID, bobID, TaskUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if changes != 0 {
		t.Errorf("changes = %d, want 0 for foreign scope", changes)
	}

	tasks, _ := s.ListTasks(ctx, projectID, aliceID)
	if tasks[0].Title != "Mine" {
		t.Errorf("title = %q, want unchanged", tasks[0].Title)
	}
}

func TestUpdateTask_PartialFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, userID := seedScope(t, s, "alice")

	taskID, err := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: projectID, UserID: userID})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	done := true
	color := "#ffeedd"
	changes, err := s.UpdateTask(ctx, taskID, userID, TaskUpdate{Completed: &done, Color: &color})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}

	tasks, _ := s.ListTasks(ctx, projectID, userID)
	got := tasks[0]
	if got.Title != "A" {
		t.Errorf("title = %q, want untouched", got.Title)
	}
	if !got.Completed || got.Color == nil || *got.Color != "#ffeedd" {
		t.Errorf("task = %+v", got)
	}
}

func TestDeleteTask_CascadesDependencies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, userID := seedScope(t, s, "alice")

	a, _ := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: projectID, UserID: userID})
	b, _ := s.CreateTask(ctx, model.Task{Title: "B", ProjectID: projectID, UserID: userID})
	c, _ := s.CreateTask(ctx, model.Task{Title: "C", ProjectID: projectID, UserID: userID})

	mustCreateDep(t, s, projectID, userID, a, b)
	mustCreateDep(t, s, projectID, userID, b, c)

	changes, err := s.DeleteTask(ctx, b, userID)
	if err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}

	deps, _ := s.ListDependencies(ctx, projectID, userID)
	if len(deps) != 0 {
		t.Errorf("len(deps) = %d, want 0 after cascade", len(deps))
	}
	tasks, _ := s.ListTasks(ctx, projectID, userID)
	if len(tasks) != 2 {
		t.Errorf("len(tasks) = %d, want 2", len(tasks))
	}
}

func TestDeleteProject_CascadesExactlyOwnScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	aliceProject, aliceID := seedScope(t, s, "alice")
	bobProject, bobID := seedScope(t, s, "bob")

	a1, _ := s.CreateTask(ctx, model.Task{Title: "A1", ProjectID: aliceProject, UserID: aliceID})
	a2, _ := s.CreateTask(ctx, model.Task{Title: "A2", ProjectID: aliceProject, UserID: aliceID})
	mustCreateDep(t, s, aliceProject, aliceID, a1, a2)

	b1, _ := s.CreateTask(ctx, model.Task{Title: "B1", ProjectID: bobProject, UserID: bobID})
	b2, _ := s.CreateTask(ctx, model.Task{Title: "B2", ProjectID: bobProject, UserID: bobID})
	mustCreateDep(t, s, bobProject, bobID, b1, b2)

	changes, err := s.DeleteProject(ctx, aliceProject, aliceID)
	if err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}

	tasks, _ := s.ListTasks(ctx, aliceProject, aliceID)
	deps, _ := s.ListDependencies(ctx, aliceProject, aliceID)
	if len(tasks) != 0 || len(deps) != 0 {
		t.Errorf("alice scope not emptied: %d tasks, %d deps", len(tasks), len(deps))
	}

	bobTasks, _ := s.ListTasks(ctx, bobProject, bobID)
	bobDeps, _ := s.ListDependencies(ctx, bobProject, bobID)
	if len(bobTasks) != 2 || len(bobDeps) != 1 {
		t.Errorf("bob scope disturbed: %d tasks, %d deps", len(bobTasks), len(bobDeps))
	}
}

func TestDeleteProject_ForeignScopeIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	aliceProject, _ := seedScope(t, s, "alice")
	_, bobID := seedScope(t, s, "bob")

	changes, err := s.DeleteProject(ctx, aliceProject, bobID)
	if err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}
	if changes != 0 {
		t.Errorf("changes = %d, want 0", changes)
	}
}

func TestCreateDependency_RequiresBothEndpointsInScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	aliceProject, aliceID := seedScope(t, s, "alice")
	bobProject, bobID := seedScope(t, s, "bob")

	a, _ := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: aliceProject, UserID: aliceID})
	b, _ := s.CreateTask(ctx, model.Task{Title: "B", ProjectID: bobProject, UserID: bobID})

	id, err := s.CreateDependency(ctx, model.Dependency{
		FromTask: a, ToTask: b, ProjectID: aliceProject, UserID: aliceID,
	})
	if err != nil {
		t.Fatalf("CreateDependency() failed: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0 when an endpoint is outside the scope", id)
	}
}

func TestCreateDependency_RejectsSelfLoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, userID := seedScope(t, s, "alice")
	a, _ := s.CreateTask(ctx, model.Task{Title: "A", ProjectID: projectID, UserID: userID})

	_, err := s.CreateDependency(ctx, model.Dependency{
		FromTask: a, ToTask: a, ProjectID: projectID, UserID: userID,
	})
	if err == nil {
		t.Error("CreateDependency(self-loop) succeeded, want error")
	}
}

func TestIdentity_MonotonicAcrossDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	projectID, userID := seedScope(t, s, "alice")

	first, _ := s.CreateTask(ctx, model.Task{Title: "first", ProjectID: projectID, UserID: userID})
	if _, err := s.DeleteTask(ctx, first, userID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}

	second, _ := s.CreateTask(ctx, model.Task{Title: "second", ProjectID: projectID, UserID: userID})
	if second <= first {
		t.Errorf("id after delete = %d, want > %d (identities never reused)", second, first)
	}
}

func mustCreateDep(t *testing.T, s *Store, projectID, userID, from, to int64) int64 {
	t.Helper()
	id, err := s.CreateDependency(context.Background(), model.Dependency{
		FromTask: from, ToTask: to, ProjectID: projectID, UserID: userID,
	})
	if err != nil {
		t.Fatalf("CreateDependency(%d->%d) failed: %v", from, to, err)
	}
	if id == 0 {
		t.Fatalf("CreateDependency(%d->%d) affected zero rows", from, to)
	}
	return id
}
