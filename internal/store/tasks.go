package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/treetrack/treetrack/internal/model"
)

// ListTasks returns every task in the (projectID, userID) scope,
// ordered by ID.
func (s *Store) ListTasks(ctx context.Context, projectID, userID int64) ([]model.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, posX, posY, completed, project_id, user_id, color, locked, draft
		FROM tasks
		WHERE project_id = ? AND user_id = ?
		ORDER BY id`,
		projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListUserTasks returns every task the user owns across all projects,
// ordered by ID.
func (s *Store) ListUserTasks(ctx context.Context, userID int64) ([]model.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, posX, posY, completed, project_id, user_id, color, locked, draft
		FROM tasks
		WHERE user_id = ?
		ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// TaskProject returns the project a task belongs to within the user's
// scope, or (0, nil) if no such task is visible to the user.
func (s *Store) TaskProject(ctx context.Context, taskID, userID int64) (int64, error) {
	var projectID int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT project_id FROM tasks WHERE id = ? AND user_id = ?",
		taskID, userID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve task project: %w", err)
	}
	return projectID, nil
}

// CreateTask persists a task into t.ProjectID within t.UserID's scope
// and returns the assigned ID. If the project is not owned by the user
// the insert affects zero rows and the returned ID is 0 — a creation
// outside the caller's scope is a no-op, not an error.
func (s *Store) CreateTask(ctx context.Context, t model.Task) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO tasks (title, posX, posY, completed, project_id, user_id, color, locked, draft)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = ? AND user_id = ?)`,
		t.Title, t.PosX, t.PosY, boolToInt(t.Completed), t.ProjectID, t.UserID,
		colorToNull(t.Color), boolToInt(t.Locked), boolToInt(t.Draft),
		t.ProjectID, t.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count inserted tasks: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new task id: %w", err)
	}
	return id, nil
}

// TaskUpdate is a field-level patch for UpdateTask. Nil fields are left
// untouched.
type TaskUpdate struct {
	Title     *string
	PosX      *float64
	PosY      *float64
	Completed *bool
	Color     *string
}

// UpdateTask applies a partial update to one task in the caller's
// scope. Returns the number of rows changed: zero when the task doesn't
// exist or belongs to another scope.
func (s *Store) UpdateTask(ctx context.Context, taskID, userID int64, upd TaskUpdate) (int64, error) {
	var sets []string
	var args []interface{}

	if upd.Title != nil {
		if *upd.Title == "" {
			return 0, fmt.Errorf("invalid task: title is required")
		}
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.PosX != nil {
		sets = append(sets, "posX = ?")
		args = append(args, *upd.PosX)
	}
	if upd.PosY != nil {
		sets = append(sets, "posY = ?")
		args = append(args, *upd.PosY)
	}
	if upd.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, boolToInt(*upd.Completed))
	}
	if upd.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *upd.Color)
	}

	if len(sets) == 0 {
		return 0, nil
	}

	args = append(args, taskID, userID)
	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ? AND user_id = ?"

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update task %d: %w", taskID, err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count updated tasks: %w", err)
	}
	return changes, nil
}

// AcceptDraftTasks clears the draft flag on every draft task in the
// scope, confirming a previously synthesized plan.
func (s *Store) AcceptDraftTasks(ctx context.Context, projectID, userID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE tasks SET draft = 0 WHERE project_id = ? AND user_id = ? AND draft = 1",
		projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to accept draft tasks: %w", err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count accepted tasks: %w", err)
	}
	return changes, nil
}

// DeleteTask removes a task in the caller's scope, cascading to every
// dependency that references it as either endpoint. Returns the number
// of task rows removed (zero for out-of-scope IDs).
func (s *Store) DeleteTask(ctx context.Context, taskID, userID int64) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM dependencies WHERE (from_task = ? OR to_task = ?) AND user_id = ?",
		taskID, taskID, userID); err != nil {
		return 0, fmt.Errorf("failed to delete task dependencies: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = ? AND user_id = ?", taskID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete task %d: %w", taskID, err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changes, nil
}

// scanTasks reads task rows into model values.
func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	tasks := []model.Task{}
	for rows.Next() {
		var t model.Task
		var completed, locked, draft int
		var color sql.NullString

		err := rows.Scan(&t.ID, &t.Title, &t.PosX, &t.PosY, &completed,
			&t.ProjectID, &t.UserID, &color, &locked, &draft)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.Completed = completed != 0
		t.Locked = locked != 0
		t.Draft = draft != 0
		if color.Valid {
			t.Color = &color.String
		}

		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func colorToNull(c *string) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *c, Valid: true}
}
