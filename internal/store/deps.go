package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treetrack/treetrack/internal/model"
)

// ListDependencies returns every dependency in the (projectID, userID)
// scope, ordered by ID.
func (s *Store) ListDependencies(ctx context.Context, projectID, userID int64) ([]model.Dependency, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, from_task, to_task, project_id, user_id
		FROM dependencies
		WHERE project_id = ? AND user_id = ?
		ORDER BY id`,
		projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	deps := []model.Dependency{}
	for rows.Next() {
		var d model.Dependency
		if err := rows.Scan(&d.ID, &d.FromTask, &d.ToTask, &d.ProjectID, &d.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// ListUserDependencies returns every dependency the user owns across
// all projects, ordered by ID.
func (s *Store) ListUserDependencies(ctx context.Context, userID int64) ([]model.Dependency, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, from_task, to_task, project_id, user_id
		FROM dependencies
		WHERE user_id = ?
		ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	deps := []model.Dependency{}
	for rows.Next() {
		var d model.Dependency
		if err := rows.Scan(&d.ID, &d.FromTask, &d.ToTask, &d.ProjectID, &d.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// DependencyProject returns the project an edge belongs to within the
// user's scope, or (0, nil) if no such edge is visible to the user.
func (s *Store) DependencyProject(ctx context.Context, depID, userID int64) (int64, error) {
	var projectID int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT project_id FROM dependencies WHERE id = ? AND user_id = ?",
		depID, userID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve dependency project: %w", err)
	}
	return projectID, nil
}

// CreateDependency persists an edge between two tasks of d.ProjectID
// and returns the assigned ID. The insert requires the project and both
// endpoint tasks to live inside the (project, user) scope; otherwise it
// affects zero rows and the returned ID is 0.
//
// Structural validity (no self-loop, no cycle) is the caller's
// responsibility via the graph package, under the project's writer
// lock.
func (s *Store) CreateDependency(ctx context.Context, d model.Dependency) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("invalid dependency: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO dependencies (from_task, to_task, project_id, user_id)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = ? AND user_id = ?)
		  AND (SELECT COUNT(*) FROM tasks
		       WHERE id IN (?, ?) AND project_id = ? AND user_id = ?) = 2`,
		d.FromTask, d.ToTask, d.ProjectID, d.UserID,
		d.ProjectID, d.UserID,
		d.FromTask, d.ToTask, d.ProjectID, d.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to create dependency: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count inserted dependencies: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new dependency id: %w", err)
	}
	return id, nil
}

// DependencyExists reports whether an identical edge is already present
// in the scope.
func (s *Store) DependencyExists(ctx context.Context, projectID, userID, fromTask, toTask int64) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dependencies
		WHERE from_task = ? AND to_task = ? AND project_id = ? AND user_id = ?`,
		fromTask, toTask, projectID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency: %w", err)
	}
	return n > 0, nil
}

// DeleteDependency removes one edge in the caller's scope. Returns the
// number of rows removed (zero for out-of-scope IDs).
func (s *Store) DeleteDependency(ctx context.Context, depID, userID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM dependencies WHERE id = ? AND user_id = ?", depID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dependency %d: %w", depID, err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted dependencies: %w", err)
	}
	return changes, nil
}
