// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package settings

// Well-known settings keys. Subsystems read these on use, so updates apply
// without a restart unless marked otherwise.
const (
	KeyLogLevel             = "log.level"
	KeyIncludeHidden        = "scanner.include_hidden"
	KeyMissingRetentionDays = "scanner.missing_retention_days"
	KeyWatcherRenameWindow  = "watcher.rename_window_ms"
	KeyWatcherDepth         = "watcher.depth"
	KeyMaxTranscodes        = "transcode.max_concurrent"
	KeyTranscodeHWAccel     = "transcode.hw_accel"
	KeyPlaylistChunkSize    = "playlist.chunk_size"
	KeyHubPageSize          = "hubs.page_size"
	KeyNotifyRetentionDays  = "notify.retention_days"

	// KeyBindAddr requires a process restart to apply; settings.update
	// reports restartRequired when it changes.
	KeyBindAddr = "server.bind_addr"

	// KeyAgentOrderPrefix + library section UUID stores the ordered agent
	// names for that section.
	KeyAgentOrderPrefix = "agents.order."

	// KeyAgentRatePrefix + agent name stores requests-per-second for that
	// agent's limiter.
	KeyAgentRatePrefix = "agents.rate."
)

// RestartRequired reports whether changing key takes effect only after a
// process restart.
func RestartRequired(key string) bool {
	switch key {
	case KeyBindAddr:
		return true
	}
	return false
}
