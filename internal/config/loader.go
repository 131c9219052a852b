// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/nexa/internal/errdef"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if present), overlaid by NEXA_* environment variables, then
// validated. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else {
			mergeFile(cfg, fc)
		}
	}

	mergeEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML file without applying defaults or env overrides.
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, errdef.Wrap(errdef.KindConfig, err, "parse config %s", path)
	}
	return &fc, nil
}

// Validate checks the effective configuration. Failures are fatal at startup.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errdef.Wrap(errdef.KindConfig, err, "invalid configuration")
	}
	if cfg.Notify.FlushInterval < 100*time.Millisecond {
		return errdef.New(errdef.KindConfig, "notify.flushInterval below 100ms: %s", cfg.Notify.FlushInterval)
	}
	if cfg.Playback.SessionTTL < 10*time.Second {
		return errdef.New(errdef.KindConfig, "playback.sessionTtl below 10s: %s", cfg.Playback.SessionTTL)
	}
	return nil
}

func mergeFile(cfg *Config, fc *FileConfig) {
	setStr(&cfg.DataDir, fc.DataDir)
	setStr(&cfg.CacheDir, fc.CacheDir)

	setStr(&cfg.Server.BindAddr, fc.Server.BindAddr)
	setStr(&cfg.Server.BaseURL, fc.Server.BaseURL)
	setStr(&cfg.Server.APIToken, fc.Server.APIToken)
	if len(fc.Server.CORSOrigins) > 0 {
		cfg.Server.CORSOrigins = append([]string(nil), fc.Server.CORSOrigins...)
	}

	setStr(&cfg.Log.Level, fc.Log.Level)
	setStr(&cfg.Log.File, fc.Log.File)
	setInt(&cfg.Log.MaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&cfg.Log.MaxBackups, fc.Log.MaxBackups)
	setInt(&cfg.Log.MaxAgeDays, fc.Log.MaxAgeDays)
	setBool(&cfg.Log.Compress, fc.Log.Compress)

	setBool(&cfg.Scanner.IncludeHidden, fc.Scanner.IncludeHidden)
	setInt(&cfg.Scanner.CheckpointEvery, fc.Scanner.CheckpointEvery)
	setDur(&cfg.Scanner.MissingRetention, fc.Scanner.MissingRetention)
	setDur(&cfg.Scanner.ArtifactDebounce, fc.Scanner.ArtifactDebounce)

	setInt(&cfg.Watcher.Depth, fc.Watcher.Depth)
	setDur(&cfg.Watcher.PollInterval, fc.Watcher.PollInterval)
	setDur(&cfg.Watcher.RenameWindow, fc.Watcher.RenameWindow)
	setDur(&cfg.Watcher.Debounce, fc.Watcher.Debounce)

	setInt(&cfg.Agents.GlobalConcurrency, fc.Agents.GlobalConcurrency)
	setDur(&cfg.Agents.Timeout, fc.Agents.Timeout)
	if len(fc.Agents.AllowedHosts) > 0 {
		cfg.Agents.AllowedHosts = append([]string(nil), fc.Agents.AllowedHosts...)
	}
	if len(fc.Agents.Overrides) > 0 {
		cfg.Agents.Overrides = make(map[string]AgentOverride, len(fc.Agents.Overrides))
		for name, o := range fc.Agents.Overrides {
			eff := AgentOverride{BaseURL: o.BaseURL}
			if o.RatePerSec != nil {
				eff.RatePerSec = *o.RatePerSec
			}
			if o.Burst != nil {
				eff.Burst = *o.Burst
			}
			setDur(&eff.Timeout, o.Timeout)
			cfg.Agents.Overrides[name] = eff
		}
	}

	setStr(&cfg.Transcode.FFmpegPath, fc.Transcode.FFmpegPath)
	setStr(&cfg.Transcode.FFprobePath, fc.Transcode.FFprobePath)
	setInt(&cfg.Transcode.MaxConcurrent, fc.Transcode.MaxConcurrent)
	setDur(&cfg.Transcode.IdleTimeout, fc.Transcode.IdleTimeout)
	setDur(&cfg.Transcode.SegmentLength, fc.Transcode.SegmentLength)
	setStr(&cfg.Transcode.HWAccel, fc.Transcode.HWAccel)

	setDur(&cfg.Playback.SessionTTL, fc.Playback.SessionTTL)
	setInt(&cfg.Playback.PlaylistChunkSize, fc.Playback.PlaylistChunkSize)
	setInt(&cfg.Playback.MaxBitrateKbps, fc.Playback.MaxBitrateKbps)

	setDur(&cfg.Notify.FlushInterval, fc.Notify.FlushInterval)
	setInt(&cfg.Notify.RetentionDays, fc.Notify.RetentionDays)

	setStr(&cfg.Hubs.RedisAddr, fc.Hubs.RedisAddr)
	setDur(&cfg.Hubs.CacheTTL, fc.Hubs.CacheTTL)
	setInt(&cfg.Hubs.PageSize, fc.Hubs.PageSize)

	setBool(&cfg.Telemetry.Enabled, fc.Telemetry.Enabled)
	setStr(&cfg.Telemetry.Endpoint, fc.Telemetry.Endpoint)
	setStr(&cfg.Telemetry.Protocol, fc.Telemetry.Protocol)
	if fc.Telemetry.SampleRatio != nil {
		cfg.Telemetry.SampleRatio = *fc.Telemetry.SampleRatio
	}
	setBool(&cfg.Telemetry.Insecure, fc.Telemetry.Insecure)

	setBool(&cfg.RateLimit.Enabled, fc.RateLimit.Enabled)
	setInt(&cfg.RateLimit.RequestsPerMin, fc.RateLimit.RequestsPerMin)
	setInt(&cfg.RateLimit.PerIPRequestsMin, fc.RateLimit.PerIPRequestsMin)
}

func mergeEnv(cfg *Config) {
	cfg.DataDir = ParseString("NEXA_DATA_DIR", cfg.DataDir)
	cfg.CacheDir = ParseString("NEXA_CACHE_DIR", cfg.CacheDir)
	cfg.Server.BindAddr = ParseString("NEXA_BIND_ADDR", cfg.Server.BindAddr)
	cfg.Server.BaseURL = ParseString("NEXA_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.APIToken = ParseString("NEXA_API_TOKEN", cfg.Server.APIToken)
	cfg.Log.Level = ParseString("NEXA_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = ParseString("NEXA_LOG_FILE", cfg.Log.File)
	cfg.Transcode.FFmpegPath = ParseString("NEXA_FFMPEG_PATH", cfg.Transcode.FFmpegPath)
	cfg.Transcode.FFprobePath = ParseString("NEXA_FFPROBE_PATH", cfg.Transcode.FFprobePath)
	cfg.Transcode.MaxConcurrent = ParseInt("NEXA_MAX_TRANSCODES", cfg.Transcode.MaxConcurrent)
	cfg.Playback.SessionTTL = ParseDuration("NEXA_SESSION_TTL", cfg.Playback.SessionTTL)
	cfg.Hubs.RedisAddr = ParseString("NEXA_REDIS_ADDR", cfg.Hubs.RedisAddr)
	cfg.Telemetry.Enabled = ParseBool("NEXA_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString("NEXA_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		*dst = parsed
	}
}
