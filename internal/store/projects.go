package store

import (
	"context"
	"fmt"

	"github.com/treetrack/treetrack/internal/model"
)

// CreateProject creates a project owned by userID and returns the
// assigned ID.
func (s *Store) CreateProject(ctx context.Context, name string, userID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO projects (name, user_id) VALUES (?, ?)", name, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new project id: %w", err)
	}
	return id, nil
}

// ListProjects returns all projects owned by userID, ordered by ID.
func (s *Store) ListProjects(ctx context.Context, userID int64) ([]model.Project, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, user_id FROM projects WHERE user_id = ? ORDER BY id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// ProjectInScope reports whether projectID exists and is owned by
// userID.
func (s *Store) ProjectInScope(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM projects WHERE id = ? AND user_id = ?",
		projectID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check project scope: %w", err)
	}
	return n > 0, nil
}

// DeleteProject removes a project and everything in it: dependencies,
// then tasks, then the project row itself, in one transaction. The
// returned count is the number of project rows removed: zero when the
// project doesn't exist or belongs to another user.
func (s *Store) DeleteProject(ctx context.Context, projectID, userID int64) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM dependencies WHERE project_id = ? AND user_id = ?",
		projectID, userID); err != nil {
		return 0, fmt.Errorf("failed to delete project dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM tasks WHERE project_id = ? AND user_id = ?",
		projectID, userID); err != nil {
		return 0, fmt.Errorf("failed to delete project tasks: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM projects WHERE id = ? AND user_id = ?", projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete project: %w", err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted projects: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changes, nil
}
