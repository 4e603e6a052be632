// Package model defines the persistent entities of a TreeTrack project
// graph: users, projects, tasks, and the precedence dependencies between
// tasks.
//
// Identity convention: persisted entities carry a non-negative integer ID
// assigned by the store. A strictly negative ID is a placeholder meaning
// "not yet persisted" and only ever appears inside a synthesis delta; the
// merge engine resolves placeholders to real IDs before anything reaches
// storage.
package model

import "fmt"

// PlaceholderID reports whether id is a synthesis placeholder for an
// entity that has not been persisted yet.
func PlaceholderID(id int64) bool {
	return id < 0
}

// User is an account that owns projects.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	// PasswordHash is the bcrypt hash of the user's password. Never
	// serialized.
	PasswordHash string `json:"-"`
}

// Project is a named container for one task graph.
type Project struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id"`
}

// Validate checks required Project fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Task is a single node in a project graph.
type Task struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	PosX      float64 `json:"posX"`
	PosY      float64 `json:"posY"`
	Completed bool    `json:"completed"`
	ProjectID int64   `json:"project_id"`
	UserID    int64   `json:"user_id"`

	// Color is a free-form style hint (typically a hex code). Nil means
	// the client picks a default.
	Color *string `json:"color"`

	// Locked tasks are protected from destructive edits by normal flows.
	Locked bool `json:"locked"`

	// Draft marks a task produced by synthesis that the user has not yet
	// accepted.
	Draft bool `json:"draft"`
}

// Validate checks required Task fields.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Dependency is a directed precedence edge between two tasks of the same
// project: FromTask must be completed before ToTask.
type Dependency struct {
	ID        int64 `json:"id"`
	FromTask  int64 `json:"from_task"`
	ToTask    int64 `json:"to_task"`
	ProjectID int64 `json:"project_id"`
	UserID    int64 `json:"user_id"`
}

// Validate checks Dependency fields. It rejects self-loops; cycle
// detection over the whole project graph is the graph package's job.
func (d *Dependency) Validate() error {
	if d.FromTask == d.ToTask {
		return fmt.Errorf("dependency cannot point from a task to itself")
	}
	return nil
}
