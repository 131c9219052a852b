// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

// Lockable field names. locked_fields entries come from this closed
// vocabulary; unknown names are rejected at the API boundary.
const (
	FieldTitle         = "title"
	FieldOriginalTitle = "original_title"
	FieldSortTitle     = "sort_title"
	FieldYear          = "year"
	FieldReleaseDate   = "release_date"
	FieldSummary       = "summary"
	FieldTagline       = "tagline"
	FieldStudio        = "studio"
	FieldContentRating = "content_rating"
	FieldGenres        = "genres"
	FieldThumb         = "thumb"
)

var lockableFields = map[string]struct{}{
	FieldTitle: {}, FieldOriginalTitle: {}, FieldSortTitle: {},
	FieldYear: {}, FieldReleaseDate: {}, FieldSummary: {},
	FieldTagline: {}, FieldStudio: {}, FieldContentRating: {},
	FieldGenres: {}, FieldThumb: {},
}

// IsLockableField reports whether name belongs to the locked-fields
// vocabulary.
func IsLockableField(name string) bool {
	_, ok := lockableFields[name]
	return ok
}
