// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media defines the library data model shared by the scan pipeline
// and the playback orchestrator. The two subsystems communicate only through
// these entities and their store.
package media

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// LibraryType classifies a library section.
type LibraryType string

const (
	LibraryMovies      LibraryType = "movies"
	LibraryTvShows     LibraryType = "tv_shows"
	LibraryMusicVideos LibraryType = "music_videos"
	LibraryHomeVideos  LibraryType = "home_videos"
	LibraryMusic       LibraryType = "music"
	LibraryPodcasts    LibraryType = "podcasts"
	LibraryAudiobooks  LibraryType = "audiobooks"
	LibraryBooks       LibraryType = "books"
	LibraryComics      LibraryType = "comics"
	LibraryManga       LibraryType = "manga"
	LibraryMagazines   LibraryType = "magazines"
	LibraryPhotos      LibraryType = "photos"
	LibraryPictures    LibraryType = "pictures"
	LibraryGames       LibraryType = "games"
)

var libraryTypes = map[LibraryType]struct{}{
	LibraryMovies: {}, LibraryTvShows: {}, LibraryMusicVideos: {},
	LibraryHomeVideos: {}, LibraryMusic: {}, LibraryPodcasts: {},
	LibraryAudiobooks: {}, LibraryBooks: {}, LibraryComics: {},
	LibraryManga: {}, LibraryMagazines: {}, LibraryPhotos: {},
	LibraryPictures: {}, LibraryGames: {},
}

// ParseLibraryType validates a stored or client-supplied library type.
func ParseLibraryType(s string) (LibraryType, error) {
	t := LibraryType(s)
	if _, ok := libraryTypes[t]; !ok {
		return "", fmt.Errorf("unknown library type %q", s)
	}
	return t, nil
}

// MetadataType classifies a logical metadata node.
type MetadataType string

const (
	TypeMovie        MetadataType = "movie"
	TypeShow         MetadataType = "show"
	TypeSeason       MetadataType = "season"
	TypeEpisode      MetadataType = "episode"
	TypeAlbumRelease MetadataType = "album_release"
	TypeTrack        MetadataType = "track"
	TypePerson       MetadataType = "person"
	TypeGroup        MetadataType = "group"
	TypeCollection   MetadataType = "collection"
	TypePhoto        MetadataType = "photo"
	TypeBook         MetadataType = "book"
	TypeComic        MetadataType = "comic"
)

// RelationType labels a typed edge between metadata items.
type RelationType string

const (
	RelActor        RelationType = "actor"
	RelDirector     RelationType = "director"
	RelWriter       RelationType = "writer"
	RelProducer     RelationType = "producer"
	RelGuest        RelationType = "guest"
	RelBandMember   RelationType = "band_member"
	RelComposer     RelationType = "composer"
	RelInCollection RelationType = "in_collection"
)

// ScanState is the lifecycle of one library scan run.
type ScanState string

const (
	ScanQueued    ScanState = "queued"
	ScanRunning   ScanState = "running"
	ScanCompleted ScanState = "completed"
	ScanFailed    ScanState = "failed"
	ScanCancelled ScanState = "cancelled"
)

// Terminal reports whether no further scan state transition is allowed.
func (s ScanState) Terminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	}
	return false
}

// SessionState is the lifecycle of a playback session.
type SessionState string

const (
	SessionPreparing SessionState = "preparing"
	SessionPlaying   SessionState = "playing"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionStopped   SessionState = "stopped"
)

// TranscodeState is the lifecycle of a transcode job.
type TranscodeState string

const (
	TranscodeQueued    TranscodeState = "queued"
	TranscodeStarting  TranscodeState = "starting"
	TranscodeRunning   TranscodeState = "running"
	TranscodeCompleted TranscodeState = "completed"
	TranscodeCancelled TranscodeState = "cancelled"
	TranscodeFailed    TranscodeState = "failed"
)

// Terminal reports whether no further transcode state transition is allowed.
func (s TranscodeState) Terminal() bool {
	switch s {
	case TranscodeCompleted, TranscodeCancelled, TranscodeFailed:
		return true
	}
	return false
}

// StreamProtocol selects the segmented output container.
type StreamProtocol string

const (
	ProtocolDASH StreamProtocol = "dash"
	ProtocolHLS  StreamProtocol = "hls"
)

// PlaybackMode is how a session receives its media. The numeric values are
// the wire representation inside stream-plan JSON.
type PlaybackMode int

const (
	ModeDirectPlay PlaybackMode = iota
	ModeDirectStream
	ModeTranscode
)

var playbackModeNames = [...]string{"DirectPlay", "DirectStream", "Transcode"}

func (m PlaybackMode) String() string {
	if m < 0 || int(m) >= len(playbackModeNames) {
		return fmt.Sprintf("PlaybackMode(%d)", int(m))
	}
	return playbackModeNames[m]
}

// MarshalJSON writes the numeric form.
func (m PlaybackMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(m))
}

// UnmarshalJSON accepts the numeric form and, for plans persisted by older
// builds, the string names.
func (m *PlaybackMode) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n >= len(playbackModeNames) {
			return fmt.Errorf("playback mode out of range: %d", n)
		}
		*m = PlaybackMode(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("playback mode must be number or string")
	}
	for i, name := range playbackModeNames {
		if name == s {
			*m = PlaybackMode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown playback mode %q", s)
}

// StreamType classifies a probed stream.
type StreamType string

const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamSubtitle StreamType = "subtitle"
)
