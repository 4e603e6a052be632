package server

import (
	"database/sql"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeBody(r, &creds); err != nil || creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing username or password")
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error during registration")
		return
	}

	id, err := s.store.CreateUser(r.Context(), creds.Username, hash)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		s.logger.Error("failed to create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error during registration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "username": creds.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimit.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts, please try again later")
		return
	}

	var creds credentials
	if err := decodeBody(r, &creds); err != nil || creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing username or password")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), creds.Username)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("failed to look up user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error during login")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, creds.Password) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	token, err := s.sessions.IssueToken(user.ID, user.Username)
	if err != nil {
		s.logger.Error("failed to issue session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error during login")
		return
	}

	http.SetCookie(w, s.sessionCookie(token, int(s.sessions.TTL().Seconds())))
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": user.ID, "username": user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// handleMe reports the current session's user, or null for anonymous
// callers. Unlike the scoped routes it never rejects.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.sessionClaims(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{"id": claims.UserID, "username": claims.Username},
	})
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
