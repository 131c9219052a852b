// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/nexa/internal/media"
)

// handleGetHubConfig returns the saved hub layout for a scope plus the hub
// types the scope would show with it applied.
func (s *Server) handleGetHubConfig(w http.ResponseWriter, r *http.Request) {
	hubCtx := media.HubContext(r.URL.Query().Get("context"))
	sectionID := queryInt64(r, "sectionId", 0)
	mt := media.MetadataType(r.URL.Query().Get("metadataType"))

	cfg, err := s.store.GetHubConfiguration(r.Context(), hubCtx, sectionID, mt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"configuration": cfg}
	if sectionID != 0 {
		if section, err := s.store.GetSection(r.Context(), sectionID); err == nil {
			if types, err := s.hubs.EffectiveTypes(r.Context(), hubCtx, section, mt); err == nil {
				resp["effectiveTypes"] = types
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveHubConfig(w http.ResponseWriter, r *http.Request) {
	var cfg media.HubConfiguration
	if err := s.decode(r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.hubs.SaveConfiguration(r.Context(), &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleFieldLayout resolves the effective detail-field groups for one
// metadata type in one section.
func (s *Server) handleFieldLayout(w http.ResponseWriter, r *http.Request) {
	mt := media.MetadataType(r.URL.Query().Get("metadataType"))
	if mt == "" {
		writeInvalid(w, r, "metadataType is required")
		return
	}
	groups, err := s.fields.Resolve(r.Context(), mt, queryInt64(r, "sectionId", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleGetFieldConfig(w http.ResponseWriter, r *http.Request) {
	mt := media.MetadataType(r.URL.Query().Get("metadataType"))
	cfg, err := s.store.GetDetailFieldConfiguration(r.Context(), mt, queryInt64(r, "sectionId", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configuration": cfg})
}

func (s *Server) handleSaveFieldConfig(w http.ResponseWriter, r *http.Request) {
	var cfg media.DetailFieldConfiguration
	if err := s.decode(r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.fields.SaveConfiguration(r.Context(), &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleResetFieldConfig(w http.ResponseWriter, r *http.Request) {
	mt := media.MetadataType(r.URL.Query().Get("metadataType"))
	if mt == "" {
		writeInvalid(w, r, "metadataType is required")
		return
	}
	if err := s.fields.ResetConfiguration(r.Context(), mt, queryInt64(r, "sectionId", 0)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListCustomFields(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListCustomFields(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": defs})
}

func (s *Server) handleSaveCustomField(w http.ResponseWriter, r *http.Request) {
	var def media.CustomFieldDefinition
	if err := s.decode(r, &def); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.fields.SaveCustomField(r.Context(), &def); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"field": def})
}

func (s *Server) handleDeleteCustomField(w http.ResponseWriter, r *http.Request) {
	if err := s.fields.DeleteCustomField(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
