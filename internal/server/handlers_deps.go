package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/events"
	"github.com/treetrack/treetrack/internal/graph"
	"github.com/treetrack/treetrack/internal/model"
)

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var (
		deps []model.Dependency
		err  error
	)
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		projectID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid project_id")
			return
		}
		deps, err = s.store.ListDependencies(r.Context(), projectID, user.ID)
	} else {
		deps, err = s.store.ListUserDependencies(r.Context(), user.ID)
	}
	if err != nil {
		s.logger.Error("failed to list dependencies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve dependencies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dependencies": deps})
}

// handleCreateDependency persists one manual edge. Structural checks
// run here under the project's writer lock: self-loops and edges that
// would close a cycle are rejected before anything is written.
func (s *Server) handleCreateDependency(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var body struct {
		FromTask  int64 `json:"from_task"`
		ToTask    int64 `json:"to_task"`
		ProjectID int64 `json:"project_id"`
	}
	if err := decodeBody(r, &body); err != nil || body.FromTask == 0 || body.ToTask == 0 || body.ProjectID == 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields (from_task, to_task, project_id)")
		return
	}

	candidate := graph.Edge{From: body.FromTask, To: body.ToTask}
	if graph.IsSelfLoop(candidate) {
		writeError(w, http.StatusBadRequest, "Cannot create a dependency from a task to itself")
		return
	}

	unlock := s.store.LockProject(body.ProjectID)
	defer unlock()

	exists, err := s.store.DependencyExists(r.Context(), body.ProjectID, user.ID, body.FromTask, body.ToTask)
	if err != nil {
		s.logger.Error("failed to check dependency", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create dependency")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "Dependency already exists")
		return
	}

	existing, err := s.store.ListDependencies(r.Context(), body.ProjectID, user.ID)
	if err != nil {
		s.logger.Error("failed to load dependencies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create dependency")
		return
	}
	edges := make([]graph.Edge, 0, len(existing))
	for _, d := range existing {
		edges = append(edges, graph.Edge{From: d.FromTask, To: d.ToTask})
	}
	if graph.WouldCreateCycle(edges, candidate) {
		writeError(w, http.StatusBadRequest, "Dependency would create a cycle")
		return
	}

	id, err := s.store.CreateDependency(r.Context(), model.Dependency{
		FromTask:  body.FromTask,
		ToTask:    body.ToTask,
		ProjectID: body.ProjectID,
		UserID:    user.ID,
	})
	if err != nil {
		s.logger.Error("failed to create dependency", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create dependency")
		return
	}

	if id > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeDepUpdate, ProjectID: body.ProjectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id": id, "from_task": body.FromTask, "to_task": body.ToTask, "project_id": body.ProjectID,
	})
}

func (s *Server) handleDeleteDependency(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	depID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid dependency ID")
		return
	}

	projectID, err := s.store.DependencyProject(r.Context(), depID, user.ID)
	if err != nil {
		s.logger.Error("failed to resolve dependency", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete dependency")
		return
	}
	if projectID == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"changes": 0})
		return
	}

	unlock := s.store.LockProject(projectID)
	changes, err := s.store.DeleteDependency(r.Context(), depID, user.ID)
	unlock()
	if err != nil {
		s.logger.Error("failed to delete dependency", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete dependency")
		return
	}

	if changes > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeDepUpdate, ProjectID: projectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}
