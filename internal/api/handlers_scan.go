// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type startScanRequest struct {
	SectionID int64 `json:"sectionId" validate:"required,gt=0"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := s.scans.Start(r.Context(), req.SectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scanId": sc.ID})
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scans.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResumeScans relaunches every scan interrupted by a restart.
func (s *Server) handleResumeScans(w http.ResponseWriter, r *http.Request) {
	if err := s.scans.Resume(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathInt64(r, "sectionID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := s.scans.Status(r.Context(), sectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleJobSnapshot returns the fabric's current per-(section, job-type)
// progress entries.
func (s *Server) handleJobSnapshot(w http.ResponseWriter, r *http.Request) {
	entries := s.fabric.Snapshot()
	if sectionID := queryInt64(r, "sectionId", 0); sectionID != 0 {
		filtered := entries[:0]
		for _, e := range entries {
			if e.SectionID == sectionID {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}
