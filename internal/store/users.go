package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treetrack/treetrack/internal/model"
)

// ErrUsernameTaken is returned by CreateUser when the username is
// already registered.
var ErrUsernameTaken = errors.New("username already exists")

// CreateUser registers a new user with an already-hashed password and
// returns the assigned ID.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	var existing int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT id FROM users WHERE username = ?", username).Scan(&existing)
	switch {
	case err == nil:
		return 0, ErrUsernameTaken
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to check username: %w", err)
	}

	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO users (username, password) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new user id: %w", err)
	}
	return id, nil
}

// GetUserByUsername retrieves a user for credential checks.
// Returns sql.ErrNoRows if no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, username, password FROM users WHERE username = ?",
		username).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
