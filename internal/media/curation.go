// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import "time"

// PlaylistSeedType says what a playlist generator was seeded from.
type PlaylistSeedType string

const (
	SeedSingle   PlaylistSeedType = "single"
	SeedAlbum    PlaylistSeedType = "album"
	SeedSeason   PlaylistSeedType = "season"
	SeedShow     PlaylistSeedType = "show"
	SeedLibrary  PlaylistSeedType = "library"
	SeedExplicit PlaylistSeedType = "explicit"
)

// PlaylistGenerator is the server-side cursor over a materialized play queue.
// Entry indexes are 0-based and contiguous; repeat wraps the cursor modulo
// TotalCount.
type PlaylistGenerator struct {
	UUID       string           `json:"uuid"`
	SessionID  int64            `json:"sessionId"`
	SeedType   PlaylistSeedType `json:"seedType"`
	SeedID     int64            `json:"seedId,omitempty"`
	Cursor     int              `json:"cursor"`
	TotalCount int              `json:"totalCount"`
	Shuffle    bool             `json:"shuffle"`
	Repeat     bool             `json:"repeat"`
	Active     bool             `json:"active"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// PlaylistEntry is one materialized row of a generator's item table.
// NaturalIndex is the entry's position in the seed's unshuffled order; it is
// fixed at materialization and survives reorders so shuffle can be undone.
type PlaylistEntry struct {
	GeneratorUUID string       `json:"-"`
	Index         int          `json:"index"`
	NaturalIndex  int          `json:"-"`
	ItemID        int64        `json:"itemId"`
	Title         string       `json:"title"`
	Type          MetadataType `json:"metadataType"`
	DurationMs    int64        `json:"durationMs"`
	Served        bool         `json:"served"`
}

// HubContext names the surface a hub set is computed for.
type HubContext string

const (
	HubHome            HubContext = "home"
	HubLibraryDiscover HubContext = "library_discover"
	HubItemDetail      HubContext = "item_detail"
)

// HubConfiguration is the admin-saved hub layout for one context. SectionID 0
// and an empty MetadataType mean the config applies to all sections or types.
// Hidden carries hub types the current build does not know; they survive
// round-trips so a downgrade never loses them.
type HubConfiguration struct {
	ID           int64        `json:"id"`
	Context      HubContext   `json:"context"`
	SectionID    int64        `json:"sectionId,omitempty"`
	MetadataType MetadataType `json:"metadataType,omitempty"`
	Enabled      []string     `json:"enabled"`
	Disabled     []string     `json:"disabled,omitempty"`
	Hidden       []string     `json:"hidden,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// FieldWidget is the render hint for a detail field.
type FieldWidget string

const (
	WidgetText    FieldWidget = "text"
	WidgetNumber  FieldWidget = "number"
	WidgetBoolean FieldWidget = "boolean"
	WidgetDate    FieldWidget = "date"
	WidgetLink    FieldWidget = "link"
	WidgetList    FieldWidget = "list"
	WidgetBadge   FieldWidget = "badge"
)

// CustomFieldDefinition is an admin-defined metadata field.
type CustomFieldDefinition struct {
	Key       string         `json:"key"`
	Label     string         `json:"label"`
	Widget    FieldWidget    `json:"widget"`
	AppliesTo []MetadataType `json:"appliesTo,omitempty"`
	SortOrder int            `json:"sortOrder"`
	Enabled   bool           `json:"enabled"`
}

// GroupLayout arranges the fields of one group on the detail page.
type GroupLayout string

const (
	GroupVertical   GroupLayout = "vertical"
	GroupHorizontal GroupLayout = "horizontal"
	GroupGrid       GroupLayout = "grid"
)

// FieldGroup is a named cluster of detail fields.
type FieldGroup struct {
	Key         string      `json:"key"`
	Title       string      `json:"title"`
	Layout      GroupLayout `json:"layout"`
	Collapsible bool        `json:"collapsible,omitempty"`
	SortOrder   int         `json:"sortOrder"`
}

// DetailFieldConfiguration is the admin layout for one metadata type's detail
// page. SectionID 0 means all sections. Assignments map field keys to group
// keys; unassigned fields render in the default group.
type DetailFieldConfiguration struct {
	ID                 int64             `json:"id"`
	MetadataType       MetadataType      `json:"metadataType"`
	SectionID          int64             `json:"sectionId,omitempty"`
	EnabledBuiltins    []string          `json:"enabledBuiltins,omitempty"`
	DisabledBuiltins   []string          `json:"disabledBuiltins,omitempty"`
	DisabledCustomKeys []string          `json:"disabledCustomKeys,omitempty"`
	Groups             []FieldGroup      `json:"groups,omitempty"`
	Assignments        map[string]string `json:"assignments,omitempty"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// JobType names a long-running background job class for progress reporting.
type JobType string

const (
	JobScan            JobType = "scan"
	JobMetadataRefresh JobType = "metadata_refresh"
	JobImageGeneration JobType = "image_generation"
	JobTrickplay       JobType = "trickplay"
	JobTranscode       JobType = "transcode"
)

// JobStatus is the coarse job progress state pushed to subscribers.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether further progress reports must be ignored until a
// new epoch starts.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobNotificationEntry is the aggregated progress of one (section, job type)
// pair. Epoch increments whenever a job restarts so clients can discard
// frames from a previous run.
type JobNotificationEntry struct {
	SectionID  int64     `json:"libraryId"`
	JobType    JobType   `json:"jobType"`
	Epoch      int       `json:"epoch"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`

	// Dirty marks the entry for the next flush; never serialized.
	Dirty bool `json:"-"`
}
