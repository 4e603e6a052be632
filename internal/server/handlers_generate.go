package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/treetrack/treetrack/internal/auth"
	"github.com/treetrack/treetrack/internal/events"
	"github.com/treetrack/treetrack/internal/merge"
	"github.com/treetrack/treetrack/internal/synth"
)

type generateBody struct {
	UserInput    string          `json:"user_input"`
	ProjectID    int64           `json:"project_id"`
	CurrentState *synth.Snapshot `json:"current_state"`
}

// handleGenerate runs the planning pipeline: prompt, synthesize, merge.
// The provider call happens without the project lock; the merge engine
// takes it once the delta is in hand.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var body generateBody
	if err := decodeBody(r, &body); err != nil || body.UserInput == "" {
		writeError(w, http.StatusBadRequest, "Missing user_input")
		return
	}
	if body.ProjectID == 0 {
		writeError(w, http.StatusBadRequest, "Project ID is required")
		return
	}

	inScope, err := s.store.ProjectInScope(r.Context(), body.ProjectID, user.ID)
	if err != nil {
		s.logger.Error("failed to check project scope", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate project structure")
		return
	}
	if !inScope {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}

	if s.synth == nil {
		writeError(w, http.StatusServiceUnavailable, "Planning provider is not configured")
		return
	}

	req, err := synth.BuildRequest(body.UserInput, body.CurrentState)
	if err != nil {
		s.logger.Error("failed to build synthesis request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate project structure")
		return
	}

	delta, err := s.synth.Synthesize(r.Context(), req)
	if err != nil {
		s.logger.Warn("synthesis failed",
			zap.Int64("project_id", body.ProjectID),
			zap.Bool("upstream", errors.Is(err, synth.ErrUpstream)),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to generate project structure")
		return
	}

	result, err := s.merger.Apply(r.Context(), merge.Scope{
		ProjectID: body.ProjectID,
		UserID:    user.ID,
	}, delta)
	if err != nil {
		s.logger.Error("merge failed", zap.Int64("project_id", body.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate project structure")
		return
	}

	s.hub.Broadcast(events.Message{Type: events.TypePlanMerged, ProjectID: body.ProjectID})
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}
