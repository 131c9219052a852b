// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

// Hot holds the subset of configuration that applies without a restart.
// Reload computes it; the daemon distributes it to running subsystems.
type Hot struct {
	LogLevel     string
	AgentTimeout string
	Watcher      WatcherConfig
}

// Reload re-reads the file at path and reports the hot-applyable subset plus
// whether any cold (restart-required) field differs from current.
func Reload(path string, current *Config) (*Hot, bool, error) {
	next, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	hot := &Hot{
		LogLevel:     next.Log.Level,
		AgentTimeout: next.Agents.Timeout.String(),
		Watcher:      next.Watcher,
	}

	restartRequired := next.Server.BindAddr != current.Server.BindAddr ||
		next.DataDir != current.DataDir ||
		next.CacheDir != current.CacheDir ||
		next.Hubs.RedisAddr != current.Hubs.RedisAddr

	return hot, restartRequired, nil
}
