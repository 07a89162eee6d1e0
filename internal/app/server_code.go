package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"codepad/apps/editor/internal/process"
)

type runCodeRequest struct {
	Path string `json:"path"`
}

func (s *Server) runCode(w http.ResponseWriter, r *http.Request) {
	var req runCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		path = s.sessionFor(r).CurrentFile()
	}
	handle, err := s.launcher.Start(path)
	if err != nil {
		s.writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Code started",
		"run_id":  handle.ID,
		"pid":     handle.PID,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": s.launcher.List()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	handle, err := s.launcher.Get(chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle.Snapshot())
}

func (s *Server) killRun(w http.ResponseWriter, r *http.Request) {
	if err := s.launcher.Kill(chi.URLParam(r, "run_id")); err != nil {
		s.writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapProcessError(err)
	failRequest(w, r, status, code, message, err)
}

func mapProcessError(err error) (status int, code string, message string) {
	switch {
	case errors.Is(err, process.ErrInvalidPath):
		return http.StatusBadRequest, "invalid_path", "File not found"
	case errors.Is(err, process.ErrRunNotFound):
		return http.StatusNotFound, "run_not_found", "run not found"
	case errors.Is(err, process.ErrNotRunning):
		return http.StatusConflict, "run_not_running", "run already finished"
	case errors.Is(err, process.ErrInterpreterUnavailable):
		return http.StatusInternalServerError, "interpreter_unavailable", "no Python interpreter found"
	default:
		return http.StatusInternalServerError, "run_failed", err.Error()
	}
}
