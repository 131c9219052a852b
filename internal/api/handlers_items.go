// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/nexa/internal/hubs"
	"github.com/ManuGH/nexa/internal/refresh"
)

// handleItemDetail returns the metadata node with its media variants and
// resolved detail-field layout.
func (s *Server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetMetadataItemByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	variants, err := s.store.ListMediaItems(r.Context(), item.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range variants {
		parts, err := s.store.ListPartsForItem(r.Context(), variants[i].ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		variants[i].Parts = parts
	}

	resp := map[string]any{"item": item, "media": variants}
	if s.fields != nil {
		if layout, err := s.fields.Resolve(r.Context(), item.Type, item.SectionID); err == nil {
			resp["fieldLayout"] = layout
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItemChildren(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetMetadataItemByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, limit := queryInt(r, "offset", 0), queryInt(r, "limit", 50)
	children, err := s.store.ListChildren(r.Context(), item.ID, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.store.CountChildren(r.Context(), item.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": children, "total": total})
}

func (s *Server) handleItemHubs(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetMetadataItemByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	section, err := s.store.GetSection(r.Context(), item.SectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := hubs.Page{Offset: queryInt(r, "offset", 0), Limit: queryInt(r, "limit", 0)}
	out, err := s.hubs.ForItem(r.Context(), section, item, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hubs": out})
}

type refreshItemRequest struct {
	IncludeChildren bool     `json:"includeChildren"`
	OverrideFields  []string `json:"overrideFields"`
	SkipAnalysis    bool     `json:"skipAnalysis"`
}

// handleRefreshItem runs the metadata refresh synchronously for the item
// and, when asked, walks direct children. Long-running trees report through
// the job fabric.
func (s *Server) handleRefreshItem(w http.ResponseWriter, r *http.Request) {
	var req refreshItemRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	uuid := chi.URLParam(r, "uuid")
	opts := refresh.Options{OverrideFields: req.OverrideFields, SkipAnalysis: req.SkipAnalysis}
	if err := s.refresher.Refresh(r.Context(), uuid, opts); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IncludeChildren {
		item, err := s.store.GetMetadataItemByUUID(r.Context(), uuid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		children, err := s.store.ListChildren(r.Context(), item.ID, 0, 10_000)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, child := range children {
			if err := s.refresher.Refresh(r.Context(), child.UUID, opts); err != nil {
				s.log.Warn().Err(err).Str("item", child.UUID).Msg("child refresh failed")
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAnalyzeItem(w http.ResponseWriter, r *http.Request) {
	if err := s.refresher.Analyze(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handlePromoteItem(w http.ResponseWriter, r *http.Request) {
	s.setPromoted(w, r, true)
}

func (s *Server) handleUnpromoteItem(w http.ResponseWriter, r *http.Request) {
	s.setPromoted(w, r, false)
}

func (s *Server) setPromoted(w http.ResponseWriter, r *http.Request, promoted bool) {
	item, err := s.store.GetMetadataItemByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.SetPromoted(r.Context(), item.ID, promoted); err != nil {
		writeError(w, r, err)
		return
	}
	if s.items != nil {
		s.items.Publish(item.UUID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSectionHubs(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	section, err := s.store.GetSection(r.Context(), sectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := hubs.Page{Offset: queryInt(r, "offset", 0), Limit: queryInt(r, "limit", 0)}
	out, err := s.hubs.ForSection(r.Context(), section, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hubs": out})
}

func (s *Server) handleHomeHubs(w http.ResponseWriter, r *http.Request) {
	sections, err := s.store.ListSections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := hubs.Page{Offset: queryInt(r, "offset", 0), Limit: queryInt(r, "limit", 0)}
	out, err := s.hubs.ForHome(r.Context(), sections, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hubs": out})
}
