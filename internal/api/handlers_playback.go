// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/playback"
)

type upsertCapabilityRequest struct {
	UserID   string     `json:"userId" validate:"required"`
	DeviceID string     `json:"deviceId" validate:"required"`
	Caps     media.Caps `json:"capabilities" validate:"required"`
}

func (s *Server) handleUpsertCapability(w http.ResponseWriter, r *http.Request) {
	var req upsertCapabilityRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	version, err := s.playback.UpsertCapability(r.Context(), req.UserID, req.DeviceID, req.Caps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilityVersion": version})
}

type playbackStartRequest struct {
	ItemID            int64  `json:"itemId" validate:"required,gt=0"`
	UserID            string `json:"userId" validate:"required"`
	DeviceID          string `json:"deviceId" validate:"required"`
	CapabilityVersion int    `json:"capabilityVersion"`
	OriginatorType    string `json:"originatorType"`
	OriginatorID      int64  `json:"originatorId"`
	Shuffle           bool   `json:"shuffle"`
	Repeat            bool   `json:"repeat"`
}

func (s *Server) handlePlaybackStart(w http.ResponseWriter, r *http.Request) {
	var req playbackStartRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.playback.Start(r.Context(), playback.StartInput{
		ItemID:            req.ItemID,
		UserID:            req.UserID,
		DeviceID:          req.DeviceID,
		CapabilityVersion: req.CapabilityVersion,
		OriginatorType:    media.PlaylistSeedType(req.OriginatorType),
		OriginatorID:      req.OriginatorID,
		Shuffle:           req.Shuffle,
		Repeat:            req.Repeat,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type playbackHeartbeatRequest struct {
	SessionID         string `json:"playbackSessionId" validate:"required"`
	PlayheadMs        int64  `json:"playheadMs" validate:"gte=0"`
	Paused            bool   `json:"paused"`
	CapabilityVersion int    `json:"capabilityVersion"`
}

func (s *Server) handlePlaybackHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req playbackHeartbeatRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mismatch, err := s.playback.Heartbeat(r.Context(), req.SessionID, req.PlayheadMs, req.Paused, req.CapabilityVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilityVersionMismatch": mismatch})
}

type playbackDecideRequest struct {
	SessionID  string `json:"playbackSessionId" validate:"required"`
	DeviceID   string `json:"deviceId"`
	Direction  string `json:"direction" validate:"required,oneof=next previous jump stay stop"`
	JumpIndex  int    `json:"jumpIndex"`
	ProgressMs int64  `json:"progressMs" validate:"gte=0"`
}

func (s *Server) handlePlaybackDecide(w http.ResponseWriter, r *http.Request) {
	var req playbackDecideRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.playback.Decide(r.Context(), playback.DecideInput{
		SessionID:  req.SessionID,
		DeviceID:   req.DeviceID,
		Direction:  playback.Direction(req.Direction),
		JumpIndex:  req.JumpIndex,
		ProgressMs: req.ProgressMs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type playbackSeekRequest struct {
	SessionID   string `json:"playbackSessionId" validate:"required"`
	MediaPartID int64  `json:"mediaPartId" validate:"required,gt=0"`
	TargetMs    int64  `json:"targetMs" validate:"gte=0"`
}

func (s *Server) handlePlaybackSeek(w http.ResponseWriter, r *http.Request) {
	var req playbackSeekRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.playback.Seek(r.Context(), req.SessionID, req.MediaPartID, req.TargetMs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionRequest struct {
	SessionID string `json:"playbackSessionId" validate:"required"`
}

func (s *Server) handlePlaybackResume(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.playback.Resume(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.playback.Stop(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
