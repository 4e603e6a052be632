package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/events"
	"github.com/treetrack/treetrack/internal/model"
	"github.com/treetrack/treetrack/internal/store"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var (
		tasks []model.Task
		err   error
	)
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		projectID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid project_id")
			return
		}
		tasks, err = s.store.ListTasks(r.Context(), projectID, user.ID)
	} else {
		tasks, err = s.store.ListUserTasks(r.Context(), user.ID)
	}
	if err != nil {
		s.logger.Error("failed to list tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type taskBody struct {
	Title     *string  `json:"title"`
	PosX      *float64 `json:"posX"`
	PosY      *float64 `json:"posY"`
	Completed *bool    `json:"completed"`
	Color     *string  `json:"color"`
	ProjectID int64    `json:"project_id"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Title == nil || *body.Title == "" {
		writeError(w, http.StatusBadRequest, "Task title cannot be empty")
		return
	}
	if body.ProjectID == 0 {
		writeError(w, http.StatusBadRequest, "Project ID is required")
		return
	}

	t := model.Task{
		Title:     *body.Title,
		ProjectID: body.ProjectID,
		UserID:    user.ID,
		Color:     body.Color,
	}
	if body.PosX != nil {
		t.PosX = *body.PosX
	}
	if body.PosY != nil {
		t.PosY = *body.PosY
	}
	if body.Completed != nil {
		t.Completed = *body.Completed
	}

	unlock := s.store.LockProject(body.ProjectID)
	id, err := s.store.CreateTask(r.Context(), t)
	unlock()
	if err != nil {
		s.logger.Error("failed to create task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	if id > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeTaskUpdate, ProjectID: body.ProjectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	taskID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Title != nil && *body.Title == "" {
		writeError(w, http.StatusBadRequest, "Task title cannot be empty")
		return
	}

	upd := store.TaskUpdate{
		Title:     body.Title,
		PosX:      body.PosX,
		PosY:      body.PosY,
		Completed: body.Completed,
		Color:     body.Color,
	}

	projectID, err := s.store.TaskProject(r.Context(), taskID, user.ID)
	if err != nil {
		s.logger.Error("failed to resolve task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	if projectID == 0 {
		// Out-of-scope edits change nothing, and that is the answer.
		writeJSON(w, http.StatusOK, map[string]interface{}{"changes": 0})
		return
	}

	unlock := s.store.LockProject(projectID)
	changes, err := s.store.UpdateTask(r.Context(), taskID, user.ID, upd)
	unlock()
	if err != nil {
		s.logger.Error("failed to update task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	if changes > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeTaskUpdate, ProjectID: projectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	taskID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	projectID, err := s.store.TaskProject(r.Context(), taskID, user.ID)
	if err != nil {
		s.logger.Error("failed to resolve task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	if projectID == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"changes": 0})
		return
	}

	unlock := s.store.LockProject(projectID)
	changes, err := s.store.DeleteTask(r.Context(), taskID, user.ID)
	unlock()
	if err != nil {
		s.logger.Error("failed to delete task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}

	if changes > 0 {
		s.hub.Broadcast(events.Message{Type: events.TypeTaskUpdate, ProjectID: projectID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}
