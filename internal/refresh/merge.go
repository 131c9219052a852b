// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package refresh merges agent results into metadata items and orchestrates
// single-item refreshes.
package refresh

import (
	"time"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/media"
)

// Field keys as stored in locked_fields and accepted in overrideFields.
const (
	FieldTitle         = "title"
	FieldOriginalTitle = "originalTitle"
	FieldSortTitle     = "sortTitle"
	FieldYear          = "year"
	FieldReleaseDate   = "releaseDate"
	FieldSummary       = "summary"
	FieldTagline       = "tagline"
	FieldStudio        = "studio"
	FieldContentRating = "contentRating"
	FieldGenres        = "genres"
	FieldDuration      = "duration"
)

// Merged is what a merge pass produced beyond the item mutation itself.
type Merged struct {
	Changed bool
	People  []agents.PersonCredit
	Groups  []agents.GroupCredit
}

// Merge folds agent outcomes into item under precedence: outcomes arrive in
// dispatch order and the first opinion per field wins. A locked field is
// skipped unless named in overrideFields. Credits are taken whole from the
// first agent that supplied any.
func Merge(item *media.MetadataItem, outcomes []agents.Outcome, overrideFields []string) Merged {
	override := make(map[string]bool, len(overrideFields))
	for _, f := range overrideFields {
		override[f] = true
	}
	allow := func(field string) bool {
		return override[field] || !item.Locked(field)
	}

	var out Merged
	seen := make(map[string]bool)
	take := func(field string, apply func()) {
		if seen[field] || !allow(field) {
			return
		}
		seen[field] = true
		apply()
	}

	for _, oc := range outcomes {
		res := oc.Result
		if oc.Err != nil || res == nil {
			continue
		}
		if res.Title != nil {
			take(FieldTitle, func() { out.Changed = setStr(&item.Title, *res.Title) || out.Changed })
		}
		if res.OriginalTitle != nil {
			take(FieldOriginalTitle, func() { out.Changed = setStr(&item.OriginalTitle, *res.OriginalTitle) || out.Changed })
		}
		if res.SortTitle != nil {
			take(FieldSortTitle, func() { out.Changed = setStr(&item.SortTitle, *res.SortTitle) || out.Changed })
		}
		if res.Year != nil {
			take(FieldYear, func() {
				if item.Year != *res.Year {
					item.Year = *res.Year
					out.Changed = true
				}
			})
		}
		if res.ReleaseDate != nil {
			take(FieldReleaseDate, func() { out.Changed = setDate(&item.ReleaseDate, *res.ReleaseDate) || out.Changed })
		}
		if res.Summary != nil {
			take(FieldSummary, func() { out.Changed = setStr(&item.Summary, *res.Summary) || out.Changed })
		}
		if res.Tagline != nil {
			take(FieldTagline, func() { out.Changed = setStr(&item.Tagline, *res.Tagline) || out.Changed })
		}
		if res.Studio != nil {
			take(FieldStudio, func() { out.Changed = setStr(&item.Studio, *res.Studio) || out.Changed })
		}
		if res.ContentRating != nil {
			take(FieldContentRating, func() { out.Changed = setStr(&item.ContentRating, *res.ContentRating) || out.Changed })
		}
		if res.DurationMs != nil {
			take(FieldDuration, func() {
				if item.DurationMs != *res.DurationMs {
					item.DurationMs = *res.DurationMs
					out.Changed = true
				}
			})
		}
		if len(res.Genres) > 0 {
			take(FieldGenres, func() {
				item.Genres = res.Genres
				out.Changed = true
			})
		}

		// External ids accumulate across agents; existing ids are never
		// replaced so the dedup identity stays stable.
		for provider, id := range res.ExternalIDs {
			if item.ExternalIDs == nil {
				item.ExternalIDs = map[string]string{}
			}
			if _, ok := item.ExternalIDs[provider]; !ok {
				item.ExternalIDs[provider] = id
				out.Changed = true
			}
		}
		for k, v := range res.Extra {
			if item.Extra == nil {
				item.Extra = map[string]string{}
			}
			if item.Extra[k] != v {
				item.Extra[k] = v
				out.Changed = true
			}
		}

		if out.People == nil && len(res.People) > 0 {
			out.People = res.People
		}
		if out.Groups == nil && len(res.Groups) > 0 {
			out.Groups = res.Groups
		}
	}

	if seen[FieldTitle] && !seen[FieldSortTitle] && allow(FieldSortTitle) {
		item.SortTitle = media.SortTitle(item.Title)
	}
	return out
}

func setStr(dst *string, v string) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func setDate(dst **time.Time, v time.Time) bool {
	if *dst != nil && (*dst).Equal(v) {
		return false
	}
	t := v
	*dst = &t
	return true
}
