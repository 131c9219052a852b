// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics declares every Prometheus collector the server exports.
// Collectors are registered on the default registry at init; subsystems
// import the package and increment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexa"

// Scan pipeline.
var (
	ScanItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scan", Name: "items_processed_total",
		Help: "Items processed per pipeline stage",
	}, []string{"stage"})

	ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scan", Name: "errors_total",
		Help: "Per-item errors captured per pipeline stage",
	}, []string{"stage"})

	ScanQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "scan", Name: "queue_depth",
		Help: "Current depth of each inter-stage queue",
	}, []string{"stage"})

	ScansRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "scan", Name: "running",
		Help: "Number of scans currently running",
	})
)

// Notification fabric.
var (
	NotifyFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notify", Name: "flushes_total",
		Help: "Flush cycles that carried at least one dirty entry",
	})

	NotifySubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notify", Name: "subscriber_drops_total",
		Help: "Frames dropped because a subscriber buffer was full",
	})
)

// Watcher.
var (
	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "watcher", Name: "events_total",
		Help: "Raw filesystem events received",
	}, []string{"kind"})

	WatcherCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "watcher", Name: "coalesced_total",
		Help: "Coalesced change events dispatched to micro-scans",
	})

	WatcherErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "watcher", Name: "errors_total",
		Help: "Watcher errors forcing requires_full_rescan",
	})
)

// Metadata agents.
var (
	AgentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agents", Name: "http_requests_total",
		Help: "Agent HTTP outcomes by agent and status class",
	}, []string{"agent", "outcome"})

	AgentRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agents", Name: "retries_total",
		Help: "Agent HTTP retries",
	}, []string{"agent"})
)

// Playback and transcoding.
var (
	PlaybackSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "playback", Name: "sessions_active",
		Help: "Playback sessions not yet stopped or expired",
	})

	PlaybackStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "playback", Name: "starts_total",
		Help: "Playback starts by decided mode",
	}, []string{"mode"})

	TranscodesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transcode", Name: "running",
		Help: "Transcode jobs currently running",
	})

	TranscodesQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transcode", Name: "queued",
		Help: "Transcode jobs waiting for a slot",
	})

	TranscodeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transcode", Name: "outcomes_total",
		Help: "Terminal transcode job outcomes",
	}, []string{"outcome"})
)

// Artifacts.
var (
	ArtifactWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "artifacts", Name: "writes_total",
		Help: "Artifact write outcomes by kind",
	}, []string{"kind", "outcome"})
)

// API surface.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "API requests by route pattern and status class",
	}, []string{"route", "status"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "rate_limited_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"limit"})
)
