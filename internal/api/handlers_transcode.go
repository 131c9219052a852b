// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleTranscodeStatuses(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListActiveJobs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleTranscodePing is the client liveness signal. Jobs that stop pinging
// get reaped by the idle sweeper.
func (s *Server) handleTranscodePing(w http.ResponseWriter, r *http.Request) {
	if err := s.transcodes.Ping(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTranscodeCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.transcodes.Cancel(r.Context(), chi.URLParam(r, "uuid"), true); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
