package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/events"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	projects, err := s.store.ListProjects(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("failed to list projects", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "Project name cannot be empty")
		return
	}

	id, err := s.store.CreateProject(r.Context(), body.Name, user.ID)
	if err != nil {
		s.logger.Error("failed to create project", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "name": body.Name})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	unlock := s.store.LockProject(projectID)
	changes, err := s.store.DeleteProject(r.Context(), projectID, user.ID)
	unlock()
	if err != nil {
		s.logger.Error("failed to delete project", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}

	if changes > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeProjectDeleted, ProjectID: projectID})
		s.hub.CloseProject(projectID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

// handleAcceptDrafts confirms a previously merged plan by clearing the
// draft flag on every draft task in the project.
func (s *Server) handleAcceptDrafts(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	unlock := s.store.LockProject(projectID)
	changes, err := s.store.AcceptDraftTasks(r.Context(), projectID, user.ID)
	unlock()
	if err != nil {
		s.logger.Error("failed to accept drafts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to accept draft tasks")
		return
	}

	if changes > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeTaskUpdate, ProjectID: projectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

// handleProjectWS subscribes the caller to a project's live update
// feed. Foreign projects look the same as missing ones.
func (s *Server) handleProjectWS(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	inScope, err := s.store.ProjectInScope(r.Context(), projectID, user.ID)
	if err != nil {
		s.logger.Error("failed to check project scope", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to open project feed")
		return
	}
	if !inScope {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}

	s.hub.HandleWS(w, r, projectID)
}
