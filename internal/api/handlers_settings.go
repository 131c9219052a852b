// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.GetAll()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make(map[string]json.RawMessage, len(all))
	for k, v := range all {
		out[k] = json.RawMessage(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": out})
}

// handleUpdateSettings is a partial update: only the keys present in the
// body change. Values are stored as-is (JSON), so type errors surface as
// defaults on read, not as write failures.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&patch); err != nil {
		writeError(w, r, errdef.Wrap(errdef.KindInvalidInput, err, "decode settings patch"))
		return
	}
	if len(patch) == 0 {
		writeInvalid(w, r, "empty settings patch")
		return
	}

	restart := false
	for key, raw := range patch {
		if err := s.settings.SetRaw(key, raw); err != nil {
			writeError(w, r, err)
			return
		}
		if settings.RestartRequired(key) {
			restart = true
		}
		if key == settings.KeyLogLevel {
			var level string
			if err := json.Unmarshal(raw, &level); err == nil {
				log.SetLevel(level)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "restartRequired": restart})
}
