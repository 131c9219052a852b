// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across instrumentation points.
const (
	SectionIDKey = "library.section_id"
	ItemUUIDKey  = "item.uuid"

	ScanStageKey = "scan.stage"
	ScanIDKey    = "scan.id"

	AgentNameKey    = "agent.name"
	AgentOutcomeKey = "agent.outcome"

	TranscodeJobKey      = "transcode.job"
	TranscodeProtocolKey = "transcode.protocol"
	TranscodeStateKey    = "transcode.state"

	PlaybackSessionKey = "playback.session"
	PlaybackModeKey    = "playback.mode"

	JobTypeKey   = "job.type"
	JobStatusKey = "job.status"

	ErrorKindKey = "error.kind"
)

// ScanAttributes tags a pipeline-stage span.
func ScanAttributes(scanID string, sectionID int64, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ScanIDKey, scanID),
		attribute.Int64(SectionIDKey, sectionID),
		attribute.String(ScanStageKey, stage),
	}
}

// AgentAttributes tags an outbound agent call span.
func AgentAttributes(agent, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AgentNameKey, agent),
		attribute.String(AgentOutcomeKey, outcome),
	}
}

// TranscodeAttributes tags a transcode lifecycle span.
func TranscodeAttributes(jobUUID, protocol, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TranscodeJobKey, jobUUID),
		attribute.String(TranscodeProtocolKey, protocol),
		attribute.String(TranscodeStateKey, state),
	}
}

// PlaybackAttributes tags a playback span with its session and plan mode.
func PlaybackAttributes(sessionUUID, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaybackSessionKey, sessionUUID),
		attribute.String(PlaybackModeKey, mode),
	}
}

// ErrorAttributes tags a span with the taxonomy kind of a failure.
func ErrorAttributes(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String(ErrorKindKey, kind),
	}
}
