// Package merge reconciles synthesis deltas with the persisted project
// graph.
//
// The engine is the only consumer of a synthesis delta. It never trusts
// one: scope IDs are overwritten, placeholder identities are resolved
// through a per-merge mapping, stale edits are ignored, and every
// candidate edge passes structural validation before it is persisted.
package merge

import (
	"context"
	"fmt"

	"github.com/treetrack/treetrack/internal/graph"
	"github.com/treetrack/treetrack/internal/model"
	"github.com/treetrack/treetrack/internal/store"
	"github.com/treetrack/treetrack/internal/synth"
)

// Scope names the (project, user) pair a merge applies to. Both values
// come from the authenticated request, never from the delta.
type Scope struct {
	ProjectID int64
	UserID    int64
}

// Result is the outcome of one merge: the full post-merge graph for the
// scope, the provider's summary, and the number of candidate edges that
// failed structural validation.
type Result struct {
	Tasks         []model.Task       `json:"tasks"`
	Dependencies  []model.Dependency `json:"dependencies"`
	Summary       string             `json:"summary"`
	RejectedEdges int                `json:"rejected_edges"`
}

// Engine applies deltas through the store's contract.
type Engine struct {
	store *store.Store
}

// NewEngine creates a merge engine over the given store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Apply merges one delta into the scope's graph and returns the merged
// state.
//
// Tasks are fully resolved before any dependency is processed, since
// dependencies may reference identities minted during this merge. The
// project's writer lock is held for the whole pass, so concurrent
// merges and direct mutations to the same project serialize in lock
// acquisition order.
func (e *Engine) Apply(ctx context.Context, scope Scope, delta *synth.Delta) (*Result, error) {
	unlock := e.store.LockProject(scope.ProjectID)
	defer unlock()

	existing, err := e.store.ListTasks(ctx, scope.ProjectID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks for merge: %w", err)
	}
	inScope := make(map[int64]bool, len(existing))
	for _, t := range existing {
		inScope[t.ID] = true
	}

	// Placeholder -> minted identity, scoped to this merge.
	minted := make(map[int64]int64)

	for _, dt := range delta.Tasks {
		if model.PlaceholderID(dt.ID) {
			id, err := e.createTask(ctx, scope, dt)
			if err != nil {
				return nil, err
			}
			if id != 0 {
				minted[dt.ID] = id
				inScope[id] = true
			}
			continue
		}

		// An edit naming an identity outside the scope is stale or
		// foreign context; drop it rather than fail the merge.
		if !inScope[dt.ID] {
			continue
		}
		if err := e.editTask(ctx, scope, dt); err != nil {
			return nil, err
		}
	}

	rejected, err := e.mergeDependencies(ctx, scope, delta.Dependencies, minted, inScope)
	if err != nil {
		return nil, err
	}

	tasks, err := e.store.ListTasks(ctx, scope.ProjectID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merged tasks: %w", err)
	}
	deps, err := e.store.ListDependencies(ctx, scope.ProjectID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merged dependencies: %w", err)
	}

	return &Result{
		Tasks:         tasks,
		Dependencies:  deps,
		Summary:       delta.Summary,
		RejectedEdges: rejected,
	}, nil
}

// createTask persists a newly synthesized task. Scope IDs are forced,
// locked is forced off, and the draft flag is kept as delivered.
func (e *Engine) createTask(ctx context.Context, scope Scope, dt synth.DeltaTask) (int64, error) {
	t := model.Task{
		Title:     dt.Title,
		PosX:      dt.PosX,
		PosY:      dt.PosY,
		Completed: dt.Completed != 0,
		ProjectID: scope.ProjectID,
		UserID:    scope.UserID,
		Draft:     dt.Draft != 0,
	}
	if dt.Color != "" {
		color := dt.Color
		t.Color = &color
	}

	id, err := e.store.CreateTask(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("failed to persist synthesized task: %w", err)
	}
	return id, nil
}

// editTask applies a field-level update to a task already in scope.
func (e *Engine) editTask(ctx context.Context, scope Scope, dt synth.DeltaTask) error {
	completed := dt.Completed != 0
	upd := store.TaskUpdate{
		Title:     &dt.Title,
		PosX:      &dt.PosX,
		PosY:      &dt.PosY,
		Completed: &completed,
	}
	if dt.Color != "" {
		upd.Color = &dt.Color
	}

	if _, err := e.store.UpdateTask(ctx, dt.ID, scope.UserID, upd); err != nil {
		return fmt.Errorf("failed to apply task edit %d: %w", dt.ID, err)
	}
	return nil
}

// mergeDependencies resolves, validates, and persists the delta's
// edges, returning how many were rejected by structural validation.
func (e *Engine) mergeDependencies(ctx context.Context, scope Scope, deps []synth.DeltaDependency, minted map[int64]int64, inScope map[int64]bool) (int, error) {
	existing, err := e.store.ListDependencies(ctx, scope.ProjectID, scope.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to load dependencies for merge: %w", err)
	}

	edges := make([]graph.Edge, 0, len(existing))
	present := make(map[graph.Edge]bool, len(existing))
	for _, d := range existing {
		edge := graph.Edge{From: d.FromTask, To: d.ToTask}
		edges = append(edges, edge)
		present[edge] = true
	}

	rejected := 0
	for _, dd := range deps {
		from, ok := resolveEndpoint(dd.FromTask, minted, inScope)
		if !ok {
			continue
		}
		to, ok := resolveEndpoint(dd.ToTask, minted, inScope)
		if !ok {
			continue
		}

		candidate := graph.Edge{From: from, To: to}
		if present[candidate] {
			// Re-merging an already-applied delta: nothing to do.
			continue
		}
		if graph.IsSelfLoop(candidate) || graph.WouldCreateCycle(edges, candidate) {
			rejected++
			continue
		}

		id, err := e.store.CreateDependency(ctx, model.Dependency{
			FromTask:  from,
			ToTask:    to,
			ProjectID: scope.ProjectID,
			UserID:    scope.UserID,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to persist synthesized dependency: %w", err)
		}
		if id != 0 {
			edges = append(edges, candidate)
			present[candidate] = true
		}
	}
	return rejected, nil
}

// resolveEndpoint maps a delta endpoint to a real in-scope task ID.
// Placeholders resolve through this merge's minted identities; anything
// that doesn't land on a task in the post-merge scope is unusable.
func resolveEndpoint(id int64, minted map[int64]int64, inScope map[int64]bool) (int64, bool) {
	if model.PlaceholderID(id) {
		real, ok := minted[id]
		return real, ok
	}
	if !inScope[id] {
		return 0, false
	}
	return id, true
}
