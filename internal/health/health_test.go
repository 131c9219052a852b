// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(status Status, err error) CheckFunc {
	return func(context.Context) CheckResult {
		res := CheckResult{Status: status}
		if err != nil {
			res.Error = err.Error()
		}
		return res
	}
}

func TestReadyAggregatesWorstStatus(t *testing.T) {
	r := NewRegistry("v1.0.0")
	r.Register("db", static(StatusHealthy, nil))
	r.Register("cache", static(StatusDegraded, errors.New("slow disk")))

	resp := r.Ready(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	require.Len(t, resp.Checks, 2)

	r.Register("ffmpeg", static(StatusUnhealthy, errors.New("binary missing")))
	resp = r.Ready(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyWithoutChecksIsHealthy(t *testing.T) {
	resp := NewRegistry("dev").Ready(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	r := NewRegistry("dev")
	r.Register("db", static(StatusUnhealthy, errors.New("down")))

	rec := httptest.NewRecorder()
	r.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessHandlerStatusCodes(t *testing.T) {
	r := NewRegistry("dev")
	r.Register("db", static(StatusHealthy, nil))

	rec := httptest.NewRecorder()
	r.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	r.Register("db", static(StatusUnhealthy, errors.New("down")))
	rec = httptest.NewRecorder()
	r.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Checks["db"].Status)
}

func TestDirCheck(t *testing.T) {
	dir := t.TempDir()
	res := DirCheck(dir)(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	res = DirCheck(filepath.Join(dir, "missing"))(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestBinaryCheck(t *testing.T) {
	res := BinaryCheck("sh")(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	res = BinaryCheck("definitely-not-a-binary-xyz")(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestCheckWritableDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, checkWritableDir(dir))

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, checkWritableDir(file))
}
