// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: writable directories and a resolvable FFmpeg/FFprobe pair.
// Failures here are ConfigError-fatal.
func PerformStartupChecks(_ context.Context, cfg *config.Config) error {
	logger := log.WithComponent("startup-check")

	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if cfg.CacheDir != "" {
		if err := checkWritableDir(cfg.CacheDir); err != nil {
			return fmt.Errorf("cache directory: %w", err)
		}
	}
	for _, bin := range []string{cfg.Transcode.FFmpegPath, cfg.Transcode.FFprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("binary %s not found: %w", bin, err)
		}
	}

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("%s is not writable: %w", path, err)
	}
	return os.Remove(probe)
}

// DBCheck pings the relational store.
func DBCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := db.PingContext(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// BinaryCheck verifies an external binary is still resolvable.
func BinaryCheck(bin string) CheckFunc {
	return func(context.Context) CheckResult {
		if _, err := exec.LookPath(bin); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: bin}
	}
}

// DirCheck verifies a directory stays writable. Degraded, not unhealthy:
// reads keep working.
func DirCheck(path string) CheckFunc {
	return func(context.Context) CheckResult {
		if err := checkWritableDir(path); err != nil {
			return CheckResult{Status: StatusDegraded, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
