// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
)

// errorBody is the wire shape of every error response. Kind is the stable
// taxonomy code; retryable tells clients whether backing off and retrying
// can succeed.
type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func statusForKind(k errdef.Kind) int {
	switch k {
	case errdef.KindNotFound:
		return http.StatusNotFound
	case errdef.KindInvalidInput:
		return http.StatusBadRequest
	case errdef.KindConflict, errdef.KindCapabilityMismatch:
		return http.StatusConflict
	case errdef.KindPermissionDenied:
		return http.StatusForbidden
	case errdef.KindUnavailable:
		return http.StatusServiceUnavailable
	case errdef.KindPlaybackUnsupported:
		return http.StatusUnprocessableEntity
	case errdef.KindConfig:
		return http.StatusInternalServerError
	case errdef.KindArtifactCorrupt:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error chain to its taxonomy kind and status. Internal
// kinds hide the message from clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errdef.KindOf(err)
	status := statusForKind(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{
		Kind:      string(kind),
		Message:   msg,
		Retryable: errdef.Retryable(err),
	})
}

func writeInvalid(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, errdef.Invalid(format, args...))
}
