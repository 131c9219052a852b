// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

// FileConfig represents the YAML configuration structure. Optional fields use
// pointers to distinguish "not set" from explicit zero values.
type FileConfig struct {
	Version  string `yaml:"version,omitempty"`
	DataDir  string `yaml:"dataDir,omitempty"`
	CacheDir string `yaml:"cacheDir,omitempty"`

	Server    ServerFileConfig    `yaml:"server,omitempty"`
	Log       LogFileConfig       `yaml:"log,omitempty"`
	Scanner   ScannerFileConfig   `yaml:"scanner,omitempty"`
	Watcher   WatcherFileConfig   `yaml:"watcher,omitempty"`
	Agents    AgentsFileConfig    `yaml:"agents,omitempty"`
	Transcode TranscodeFileConfig `yaml:"transcode,omitempty"`
	Playback  PlaybackFileConfig  `yaml:"playback,omitempty"`
	Notify    NotifyFileConfig    `yaml:"notify,omitempty"`
	Hubs      HubsFileConfig      `yaml:"hubs,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`
	RateLimit RateLimitFileConfig `yaml:"rateLimit,omitempty"`
}

// ServerFileConfig holds HTTP surface settings.
type ServerFileConfig struct {
	BindAddr    string   `yaml:"bindAddr,omitempty"`
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	APIToken    string   `yaml:"apiToken,omitempty"`
	CORSOrigins []string `yaml:"corsOrigins,omitempty"`
}

// LogFileConfig holds logging settings.
type LogFileConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  *int   `yaml:"maxSizeMb,omitempty"`
	MaxBackups *int   `yaml:"maxBackups,omitempty"`
	MaxAgeDays *int   `yaml:"maxAgeDays,omitempty"`
	Compress   *bool  `yaml:"compress,omitempty"`
}

// ScannerFileConfig holds scan pipeline settings.
type ScannerFileConfig struct {
	IncludeHidden    *bool  `yaml:"includeHidden,omitempty"`
	CheckpointEvery  *int   `yaml:"checkpointEvery,omitempty"`
	MissingRetention string `yaml:"missingRetention,omitempty"` // e.g. "720h"
	ArtifactDebounce string `yaml:"artifactDebounce,omitempty"` // e.g. "5m"
}

// WatcherFileConfig holds filesystem watcher settings.
type WatcherFileConfig struct {
	Depth        *int   `yaml:"depth,omitempty"`
	PollInterval string `yaml:"pollInterval,omitempty"` // e.g. "60s"
	RenameWindow string `yaml:"renameWindow,omitempty"` // e.g. "500ms"
	Debounce     string `yaml:"debounce,omitempty"`     // e.g. "2s"
}

// AgentsFileConfig holds metadata agent settings.
type AgentsFileConfig struct {
	GlobalConcurrency *int                       `yaml:"globalConcurrency,omitempty"`
	Timeout           string                     `yaml:"timeout,omitempty"` // e.g. "10s"
	AllowedHosts      []string                   `yaml:"allowedHosts,omitempty"`
	Overrides         map[string]AgentFileConfig `yaml:"overrides,omitempty"`
}

// AgentFileConfig holds per-agent overrides keyed by agent name.
type AgentFileConfig struct {
	RatePerSec *float64 `yaml:"ratePerSec,omitempty"`
	Burst      *int     `yaml:"burst,omitempty"`
	Timeout    string   `yaml:"timeout,omitempty"`
	BaseURL    string   `yaml:"baseUrl,omitempty"`
}

// TranscodeFileConfig holds FFmpeg and transcode manager settings.
type TranscodeFileConfig struct {
	FFmpegPath    string `yaml:"ffmpegPath,omitempty"`
	FFprobePath   string `yaml:"ffprobePath,omitempty"`
	MaxConcurrent *int   `yaml:"maxConcurrent,omitempty"`
	IdleTimeout   string `yaml:"idleTimeout,omitempty"`   // e.g. "30s"
	SegmentLength string `yaml:"segmentLength,omitempty"` // e.g. "4s"
	HWAccel       string `yaml:"hwAccel,omitempty"`       // "auto", "none", or kind
}

// PlaybackFileConfig holds playback orchestrator settings.
type PlaybackFileConfig struct {
	SessionTTL        string `yaml:"sessionTtl,omitempty"` // e.g. "120s"
	PlaylistChunkSize *int   `yaml:"playlistChunkSize,omitempty"`
	MaxBitrateKbps    *int   `yaml:"maxBitrateKbps,omitempty"`
}

// NotifyFileConfig holds job notification fabric settings.
type NotifyFileConfig struct {
	FlushInterval string `yaml:"flushInterval,omitempty"` // e.g. "1s"
	RetentionDays *int   `yaml:"retentionDays,omitempty"`
}

// HubsFileConfig holds hub service settings.
type HubsFileConfig struct {
	RedisAddr string `yaml:"redisAddr,omitempty"`
	CacheTTL  string `yaml:"cacheTtl,omitempty"` // e.g. "30s"
	PageSize  *int   `yaml:"pageSize,omitempty"`
}

// TelemetryFileConfig holds tracing settings.
type TelemetryFileConfig struct {
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	Protocol    string   `yaml:"protocol,omitempty"` // "grpc" or "http"
	SampleRatio *float64 `yaml:"sampleRatio,omitempty"`
	Insecure    *bool    `yaml:"insecure,omitempty"`
}

// RateLimitFileConfig holds API rate limit settings.
type RateLimitFileConfig struct {
	Enabled          *bool `yaml:"enabled,omitempty"`
	RequestsPerMin   *int  `yaml:"requestsPerMin,omitempty"`
	PerIPRequestsMin *int  `yaml:"perIpRequestsPerMin,omitempty"`
}
