// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"strings"
	"time"
)

// LibrarySection is a named, typed library owning one or more filesystem
// roots.
type LibrarySection struct {
	ID        int64           `json:"id"`
	UUID      string          `json:"uuid"`
	Name      string          `json:"name"`
	Type      LibraryType     `json:"type"`
	Settings  SectionSettings `json:"settings"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`

	Locations []SectionLocation `json:"locations,omitempty"`
}

// SectionSettings carries per-library preferences. Stored as one JSON column.
type SectionSettings struct {
	MetadataLanguage string   `json:"metadataLanguage,omitempty"`
	AudioLanguage    string   `json:"audioLanguage,omitempty"`
	SubtitleLanguage string   `json:"subtitleLanguage,omitempty"`
	EpisodeSort      string   `json:"episodeSort,omitempty"` // "aired" or "dvd"
	AgentOrder       []string `json:"agentOrder,omitempty"`
	HideSingleSeason bool     `json:"hideSingleSeason,omitempty"`

	// AgentSettings holds agent-specific overrides keyed by agent name.
	AgentSettings map[string]map[string]string `json:"agentSettings,omitempty"`
}

// SectionLocation is one filesystem root attached to a section.
type SectionLocation struct {
	ID        int64  `json:"id"`
	SectionID int64  `json:"sectionId"`
	RootPath  string `json:"rootPath"`
	Available bool   `json:"available"`
}

// Directory mirrors a real filesystem directory discovered under a location.
type Directory struct {
	ID           int64      `json:"id"`
	SectionID    int64      `json:"sectionId"`
	LocationID   int64      `json:"locationId"`
	ParentID     *int64     `json:"parentId,omitempty"`
	Path         string     `json:"path"`
	MtimeSeen    time.Time  `json:"mtimeSeen"`
	MissingSince *time.Time `json:"missingSince,omitempty"`
}

// MediaPart is one real file belonging to a MediaItem.
type MediaPart struct {
	ID           int64      `json:"id"`
	ItemID       int64      `json:"itemId"`
	DirectoryID  int64      `json:"directoryId"`
	SectionID    int64      `json:"sectionId"`
	PartIndex    int        `json:"partIndex"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	MtimeSeen    time.Time  `json:"mtimeSeen"`
	Container    string     `json:"container"`
	MissingSince *time.Time `json:"missingSince,omitempty"`
}

// StreamInfo is one probed stream inside a MediaItem.
type StreamInfo struct {
	Index    int        `json:"index"`
	Type     StreamType `json:"type"`
	Codec    string     `json:"codec"`
	Language string     `json:"language,omitempty"`
	Title    string     `json:"title,omitempty"`
	Width    int        `json:"width,omitempty"`
	Height   int        `json:"height,omitempty"`
	Channels int        `json:"channels,omitempty"`
	Layout   string     `json:"layout,omitempty"`
	Default  bool       `json:"default,omitempty"`
	Forced   bool       `json:"forced,omitempty"`

	// Sidecar is set for external subtitle files picked up next to the
	// media; Path then holds their location.
	Sidecar bool   `json:"sidecar,omitempty"`
	Path    string `json:"path,omitempty"`
}

// MediaItem is a physical playable unit: one file or one multi-part set.
// Technical characteristics come from FFprobe and are authoritative over
// anything the client reports.
type MediaItem struct {
	ID         int64  `json:"id"`
	MetadataID int64  `json:"metadataId"`
	SectionID  int64  `json:"sectionId"`
	DurationMs int64  `json:"durationMs"`
	Bitrate    int64  `json:"bitrate"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Container  string `json:"container"`
	VideoCodec string `json:"videoCodec"`
	AudioCodec string `json:"audioCodec"`
	HDR        bool   `json:"hdr"`
	Rotation   int    `json:"rotation"`
	Interlaced bool   `json:"interlaced"`

	Streams []StreamInfo `json:"streams,omitempty"`
	Parts   []MediaPart  `json:"parts,omitempty"`
}

// MetadataItem is the logical tree node: movie, show, episode, album, person.
type MetadataItem struct {
	ID            int64        `json:"id"`
	UUID          string       `json:"uuid"`
	SectionID     int64        `json:"sectionId"`
	ParentID      *int64       `json:"parentId,omitempty"`
	Type          MetadataType `json:"type"`
	Title         string       `json:"title"`
	OriginalTitle string       `json:"originalTitle,omitempty"`
	SortTitle     string       `json:"sortTitle,omitempty"`
	Year          int          `json:"year,omitempty"`
	ReleaseDate   *time.Time   `json:"releaseDate,omitempty"`
	Summary       string       `json:"summary,omitempty"`
	Tagline       string       `json:"tagline,omitempty"`
	Studio        string       `json:"studio,omitempty"`
	ContentRating string       `json:"contentRating,omitempty"`
	Genres        []string     `json:"genres,omitempty"`
	DurationMs    int64        `json:"durationMs,omitempty"`
	ViewCount     int          `json:"viewCount,omitempty"`
	ViewOffsetMs  int64        `json:"viewOffsetMs,omitempty"`
	ThumbURI      string       `json:"thumbUri,omitempty"`
	ThumbHash     string       `json:"thumbHash,omitempty"`
	IsPromoted    bool         `json:"isPromoted,omitempty"`

	// Index orders children within a parent (episode number, track number).
	Index int `json:"index,omitempty"`

	LockedFields []string          `json:"lockedFields,omitempty"`
	ExternalIDs  map[string]string `json:"externalIds,omitempty"`

	// Extra holds values for admin-defined custom fields, keyed by field key.
	Extra map[string]string `json:"extra,omitempty"`

	// LastError records the most recent per-item pipeline failure; it never
	// fails the surrounding stage.
	LastError string `json:"lastError,omitempty"`

	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locked reports whether automatic updates to field must be skipped.
func (m *MetadataItem) Locked(field string) bool {
	for _, f := range m.LockedFields {
		if f == field {
			return true
		}
	}
	return false
}

// MetadataRelation is a typed edge between metadata items. Ordering carries
// cast billing.
type MetadataRelation struct {
	ID       int64        `json:"id"`
	FromID   int64        `json:"fromId"`
	ToID     int64        `json:"toId"`
	Type     RelationType `json:"type"`
	Ordering int          `json:"ordering"`
	Role     string       `json:"role,omitempty"`
}

// LibraryScan is one scan run over a section.
type LibraryScan struct {
	ID         string      `json:"id"` // UUID
	SectionID  int64       `json:"sectionId"`
	State      ScanState   `json:"state"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	TotalItems int    `json:"totalItems"`
	Added      int    `json:"added"`
	Modified   int    `json:"modified"`
	Removed    int    `json:"removed"`
	ErrorCount int    `json:"errorCount"`
	Error      string `json:"error,omitempty"`
}

// Resumable reports whether the scan survived a process restart mid-run and
// can pick up from its checkpoint.
func (s *LibraryScan) Resumable() bool {
	return s.State == ScanRunning && s.Checkpoint != nil
}

// Checkpoint is the serialized resume state written with every batch.
type Checkpoint struct {
	CursorDirectoryID int64    `json:"cursor_directory_id"`
	ProcessedFiles    int      `json:"processed_files"`
	Added             int      `json:"added"`
	Modified          int      `json:"modified"`
	Removed           int      `json:"removed"`
	Errors            []string `json:"errors,omitempty"`
}

// PlaybackSession is one active client playback.
type PlaybackSession struct {
	ID                  int64        `json:"id"`
	UUID                string       `json:"uuid"`
	UserID              string       `json:"userId"`
	ItemID              int64        `json:"itemId"` // current MetadataItem
	CapabilityVersion   int          `json:"capabilityVersion"`
	Plan                *StreamPlan  `json:"plan,omitempty"`
	PlaylistGeneratorID string       `json:"playlistGeneratorId,omitempty"`
	PlayheadMs          int64        `json:"playheadMs"`
	State               SessionState `json:"state"`
	CreatedAt           time.Time    `json:"createdAt"`
	LastHeartbeatAt     time.Time    `json:"lastHeartbeatAt"`
}

// Expired reports whether the session outlived ttl without a heartbeat.
func (s *PlaybackSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastHeartbeatAt) > ttl
}

// TranscodeJob is one live transcode owned by a playback session.
type TranscodeJob struct {
	ID               int64          `json:"id"`
	UUID             string         `json:"uuid"`
	SessionID        int64          `json:"sessionId"`
	MediaPartID      int64          `json:"mediaPartId"`
	Protocol         StreamProtocol `json:"protocol"`
	OutputPath       string         `json:"outputPath"`
	PID              int            `json:"pid,omitempty"`
	State            TranscodeState `json:"state"`
	Progress         float64        `json:"progress"`
	SegmentLengthS   int            `json:"segmentLengthS"`
	StartTimeMs      int64          `json:"startTimeMs"`
	SegmentPrefix    string         `json:"segmentPrefix"`
	SegmentExtension string         `json:"segmentExtension"`
	LastPingAt       time.Time      `json:"lastPingAt"`
	LastSegmentIndex int            `json:"lastSegmentIndex"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// CapabilityProfile is the client-declared decode/render capability set.
// Version increments on every upsert; plans built under an older version are
// stale.
type CapabilityProfile struct {
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId"`
	Version   int       `json:"version"`
	Profile   Caps      `json:"profile"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Caps enumerates what the client can decode and render natively.
type Caps struct {
	Containers      []string `json:"containers"`
	VideoCodecs     []string `json:"videoCodecs"`
	AudioCodecs     []string `json:"audioCodecs"`
	MaxWidth        int      `json:"maxWidth,omitempty"`
	MaxHeight       int      `json:"maxHeight,omitempty"`
	SupportsHDR     bool     `json:"supportsHdr,omitempty"`
	MaxAudioChannel int      `json:"maxAudioChannels,omitempty"`
	MaxBitrateKbps  int      `json:"maxBitrateKbps,omitempty"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// SupportsContainer reports whether the client plays the container natively.
func (c Caps) SupportsContainer(container string) bool {
	return contains(c.Containers, container)
}

// SupportsVideo reports whether the client decodes the video codec natively.
func (c Caps) SupportsVideo(codec string) bool {
	return contains(c.VideoCodecs, codec)
}

// SupportsAudio reports whether the client decodes the audio codec natively.
func (c Caps) SupportsAudio(codec string) bool {
	return contains(c.AudioCodecs, codec)
}
