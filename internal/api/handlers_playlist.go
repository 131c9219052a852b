// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/nexa/internal/media"
)

// handlePlaylistChunk returns one window of entries. Lazy materialization
// means the first read of a range may write it.
func (s *Server) handlePlaylistChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	from := queryInt(r, "from", 0)
	limit := queryInt(r, "limit", s.cfg.Playback.PlaylistChunkSize)

	chunk, err := s.playlists.GetChunk(r.Context(), id, from, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (s *Server) handlePlaylistNext(w http.ResponseWriter, r *http.Request) {
	entry, err := s.playlists.Next(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEntry(w, entry)
}

func (s *Server) handlePlaylistPrevious(w http.ResponseWriter, r *http.Request) {
	entry, err := s.playlists.Previous(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEntry(w, entry)
}

type playlistJumpRequest struct {
	Index int `json:"index" validate:"gte=0"`
}

func (s *Server) handlePlaylistJump(w http.ResponseWriter, r *http.Request) {
	var req playlistJumpRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.playlists.JumpTo(r.Context(), chi.URLParam(r, "uuid"), req.Index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEntry(w, entry)
}

type playlistShuffleRequest struct {
	Shuffle bool `json:"shuffle"`
}

// handlePlaylistShuffle toggles shuffle. Turning it on reshuffles the tail
// beyond the cursor; turning it off restores source order.
func (s *Server) handlePlaylistShuffle(w http.ResponseWriter, r *http.Request) {
	var req playlistShuffleRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.playlists.SetShuffle(r.Context(), chi.URLParam(r, "uuid"), req.Shuffle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEntry(w, entry)
}

type playlistRepeatRequest struct {
	Repeat bool `json:"repeat"`
}

func (s *Server) handlePlaylistRepeat(w http.ResponseWriter, r *http.Request) {
	var req playlistRepeatRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.playlists.SetRepeat(r.Context(), chi.URLParam(r, "uuid"), req.Repeat)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEntry(w, entry)
}

func writeEntry(w http.ResponseWriter, entry *media.PlaylistEntry) {
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}
