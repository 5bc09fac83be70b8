package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

type startRequest struct {
	Request         string `json:"request"`
	FilePath        string `json:"file_path,omitempty"`
	IsTemporaryFile bool   `json:"is_temporary_file,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		errorResponse(w, http.StatusBadRequest, "request text is required")
		return
	}

	result := s.orch.Start(req.Request, sessionID, req.FilePath, req.IsTemporaryFile)
	if strings.HasPrefix(result, "ERROR:") {
		jsonResponse(w, http.StatusConflict, map[string]string{"status": result})
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"status": result})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.orch.Poll(r.PathValue("id")))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.orch.Cancel(r.PathValue("id")))
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	removed := s.orch.Teardown(r.PathValue("id"))
	if !removed {
		// A run is still alive; the client retries later.
		jsonResponse(w, http.StatusConflict, map[string]bool{"removed": false})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		errorResponse(w, http.StatusNotFound, "run history is disabled")
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), r.PathValue("id"))
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		errorResponse(w, http.StatusNotFound, "run history is disabled")
		return
	}
	runID := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	threads, err := s.runs.ListThreads(r.Context(), runID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.gateway.List(r.Context())
	if err != nil {
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"models": models})
}
