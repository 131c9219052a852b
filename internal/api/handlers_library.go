// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.store.ListSections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

type addSectionRequest struct {
	Name     string                `json:"name" validate:"required"`
	Type     string                `json:"type" validate:"required"`
	Paths    []string              `json:"paths" validate:"required,min=1,dive,required"`
	Settings media.SectionSettings `json:"settings"`
}

// handleAddSection creates the library and kicks off its first scan.
func (s *Server) handleAddSection(w http.ResponseWriter, r *http.Request) {
	var req addSectionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := media.ParseLibraryType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, p := range req.Paths {
		if !filepath.IsAbs(p) {
			writeInvalid(w, r, "library path %q must be absolute", p)
			return
		}
	}

	sec := &media.LibrarySection{Name: req.Name, Type: typ, Settings: req.Settings}
	for _, p := range req.Paths {
		sec.Locations = append(sec.Locations, media.SectionLocation{RootPath: p, Available: true})
	}
	if err := s.store.CreateSection(r.Context(), sec); err != nil {
		writeError(w, r, err)
		return
	}

	var scanID string
	if s.scans != nil {
		if sc, err := s.scans.Start(r.Context(), sec.ID); err == nil {
			scanID = sc.ID
		} else {
			s.log.Warn().Err(err).Int64("section", sec.ID).Msg("initial scan failed to start")
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"library": sec, "scanId": scanID})
}

func (s *Server) handleRemoveSection(w http.ResponseWriter, r *http.Request) {
	sec, err := s.store.GetSectionByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteSection(r.Context(), sec.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleSectionChildren is the paginated, letter-indexed library browser.
func (s *Server) handleSectionChildren(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := store.SectionChildrenQuery{
		SectionID: sectionID,
		Type:      media.MetadataType(r.URL.Query().Get("type")),
		Letter:    r.URL.Query().Get("letter"),
		Sort:      r.URL.Query().Get("sort"),
		Desc:      r.URL.Query().Get("order") == "desc",
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
	}
	items, total, err := s.store.ListSectionChildren(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"offset": q.Offset,
		"limit":  q.Limit,
	})
}

func (s *Server) handleFilesystemRoots(w http.ResponseWriter, r *http.Request) {
	sections, err := s.store.ListSections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	type root struct {
		SectionID int64  `json:"sectionId"`
		Path      string `json:"path"`
		Available bool   `json:"available"`
	}
	roots := []root{}
	for _, sec := range sections {
		for _, loc := range sec.Locations {
			roots = append(roots, root{SectionID: sec.ID, Path: loc.RootPath, Available: loc.Available})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roots": roots})
}

// handleBrowseDirectory lists one level of a directory for the add-library
// picker. Only absolute paths; dotfiles are skipped.
func (s *Server) handleBrowseDirectory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = string(filepath.Separator)
	}
	if !filepath.IsAbs(path) || path != filepath.Clean(path) {
		writeInvalid(w, r, "path must be absolute and clean")
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, r, errdef.NotFound("directory %s", path))
			return
		}
		if os.IsPermission(err) {
			writeError(w, r, errdef.New(errdef.KindPermissionDenied, "directory %s", path))
			return
		}
		writeError(w, r, err)
		return
	}

	type entry struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Dir  bool   `json:"dir"`
	}
	out := []entry{}
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		out = append(out, entry{Name: e.Name(), Path: filepath.Join(path, e.Name()), Dir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dir != out[j].Dir {
			return out[i].Dir
		}
		return out[i].Name < out[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "entries": out})
}
