package app

import (
	"errors"
	"io"
	"net/http"

	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/events"
	"codepad/apps/editor/internal/repo"
)

// getConfig returns the editor document as the client stored it, api_key
// included. The server is loopback-only.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		invalidJSON(w, r, err)
		return
	}
	if err := s.store.Merge(body); err != nil {
		var verr *repo.ValidationError
		if errors.As(err, &verr) {
			failRequest(w, r, http.StatusBadRequest, verr.Code, verr.Message, err)
			return
		}
		failRequest(w, r, http.StatusInternalServerError, "io_error", err.Error(), err)
		return
	}
	s.hub.Publish(events.Event{Type: events.TypeConfigUpdated})
	writeJSON(w, http.StatusOK, domain.SuccessBody{Success: true})
}
