// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the effective server configuration: YAML file, then
// NEXA_* environment overrides, then validation. Durations are strings in the
// file ("30s", "5m") and resolved here.
package config

import (
	"time"
)

// Config is the effective, fully-resolved configuration.
type Config struct {
	DataDir  string `validate:"required"`
	CacheDir string

	Server    ServerConfig
	Log       LogConfig
	Scanner   ScannerConfig
	Watcher   WatcherConfig
	Agents    AgentsConfig
	Transcode TranscodeConfig
	Playback  PlaybackConfig
	Notify    NotifyConfig
	Hubs      HubsConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	BindAddr    string `validate:"required,hostname_port"`
	BaseURL     string `validate:"omitempty,url"`
	APIToken    string
	CORSOrigins []string
}

type LogConfig struct {
	Level      string `validate:"omitempty,oneof=trace debug info warn error"`
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type ScannerConfig struct {
	IncludeHidden    bool
	CheckpointEvery  int `validate:"min=1"`
	MissingRetention time.Duration
	ArtifactDebounce time.Duration
}

type WatcherConfig struct {
	Depth        int `validate:"min=0,max=10"`
	PollInterval time.Duration
	RenameWindow time.Duration
	Debounce     time.Duration
}

type AgentsConfig struct {
	GlobalConcurrency int `validate:"min=1"`
	Timeout           time.Duration
	AllowedHosts      []string
	Overrides         map[string]AgentOverride
}

type AgentOverride struct {
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	BaseURL    string `validate:"omitempty,url"`
}

type TranscodeConfig struct {
	FFmpegPath    string `validate:"required"`
	FFprobePath   string `validate:"required"`
	MaxConcurrent int    `validate:"min=1"`
	IdleTimeout   time.Duration
	SegmentLength time.Duration
	HWAccel       string `validate:"omitempty,oneof=auto none nvenc qsv vaapi videotoolbox amf"`
}

type PlaybackConfig struct {
	SessionTTL        time.Duration
	PlaylistChunkSize int `validate:"min=1"`
	MaxBitrateKbps    int
}

type NotifyConfig struct {
	FlushInterval time.Duration
	RetentionDays int `validate:"min=1"`
}

type HubsConfig struct {
	RedisAddr string
	CacheTTL  time.Duration
	PageSize  int `validate:"min=1"`
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string `validate:"omitempty,oneof=grpc http"`
	SampleRatio float64
	Insecure    bool
}

type RateLimitConfig struct {
	Enabled          bool
	RequestsPerMin   int
	PerIPRequestsMin int
}

// Defaults returns the effective configuration with every default applied.
func Defaults() *Config {
	return &Config{
		DataDir:  "/var/lib/nexa",
		CacheDir: "",
		Server: ServerConfig{
			BindAddr: ":8484",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Scanner: ScannerConfig{
			IncludeHidden:    false,
			CheckpointEvery:  25,
			MissingRetention: 30 * 24 * time.Hour,
			ArtifactDebounce: 5 * time.Minute,
		},
		Watcher: WatcherConfig{
			Depth:        3,
			PollInterval: 60 * time.Second,
			RenameWindow: 500 * time.Millisecond,
			Debounce:     2 * time.Second,
		},
		Agents: AgentsConfig{
			GlobalConcurrency: 3,
			Timeout:           10 * time.Second,
		},
		Transcode: TranscodeConfig{
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			MaxConcurrent: 2,
			IdleTimeout:   30 * time.Second,
			SegmentLength: 4 * time.Second,
			HWAccel:       "auto",
		},
		Playback: PlaybackConfig{
			SessionTTL:        120 * time.Second,
			PlaylistChunkSize: 20,
			MaxBitrateKbps:    0,
		},
		Notify: NotifyConfig{
			FlushInterval: time.Second,
			RetentionDays: 7,
		},
		Hubs: HubsConfig{
			CacheTTL: 30 * time.Second,
			PageSize: 20,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			SampleRatio: 1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			RequestsPerMin:   600,
			PerIPRequestsMin: 120,
		},
	}
}
