// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fields resolves the detail-page field layout for a metadata type:
// built-in definitions merged with admin-defined custom fields and the stored
// per-type configuration.
package fields

import (
	"context"
	"sort"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// DefaultGroupKey collects fields no assignment places elsewhere.
const DefaultGroupKey = "details"

// Definition is one renderable detail field, builtin or custom.
type Definition struct {
	Key       string            `json:"key"`
	Label     string            `json:"label"`
	Widget    media.FieldWidget `json:"widget"`
	Builtin   bool              `json:"builtin"`
	SortOrder int               `json:"sortOrder"`
}

// Group is one resolved layout group with its fields in render order.
type Group struct {
	media.FieldGroup
	Fields []Definition `json:"fields"`
}

// builtins are the field definitions shipped per metadata type. The common
// block applies to every type.
var builtinCommon = []Definition{
	{Key: "title", Label: "Title", Widget: media.WidgetText, Builtin: true, SortOrder: 0},
	{Key: "summary", Label: "Summary", Widget: media.WidgetText, Builtin: true, SortOrder: 10},
	{Key: "genres", Label: "Genres", Widget: media.WidgetBadge, Builtin: true, SortOrder: 20},
	{Key: "addedAt", Label: "Added", Widget: media.WidgetDate, Builtin: true, SortOrder: 90},
}

var builtinByType = map[media.MetadataType][]Definition{
	media.TypeMovie: {
		{Key: "year", Label: "Year", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
		{Key: "tagline", Label: "Tagline", Widget: media.WidgetText, Builtin: true, SortOrder: 35},
		{Key: "contentRating", Label: "Rated", Widget: media.WidgetBadge, Builtin: true, SortOrder: 40},
		{Key: "duration", Label: "Runtime", Widget: media.WidgetNumber, Builtin: true, SortOrder: 50},
		{Key: "studio", Label: "Studio", Widget: media.WidgetText, Builtin: true, SortOrder: 60},
	},
	media.TypeShow: {
		{Key: "year", Label: "Year", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
		{Key: "contentRating", Label: "Rated", Widget: media.WidgetBadge, Builtin: true, SortOrder: 40},
		{Key: "studio", Label: "Network", Widget: media.WidgetText, Builtin: true, SortOrder: 60},
	},
	media.TypeEpisode: {
		{Key: "releaseDate", Label: "Aired", Widget: media.WidgetDate, Builtin: true, SortOrder: 30},
		{Key: "duration", Label: "Runtime", Widget: media.WidgetNumber, Builtin: true, SortOrder: 50},
	},
	media.TypeAlbumRelease: {
		{Key: "year", Label: "Year", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
		{Key: "studio", Label: "Label", Widget: media.WidgetText, Builtin: true, SortOrder: 60},
	},
	media.TypeTrack: {
		{Key: "duration", Label: "Duration", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
	},
	media.TypeBook: {
		{Key: "year", Label: "Published", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
		{Key: "studio", Label: "Publisher", Widget: media.WidgetText, Builtin: true, SortOrder: 60},
	},
	media.TypeComic: {
		{Key: "year", Label: "Published", Widget: media.WidgetNumber, Builtin: true, SortOrder: 30},
	},
	media.TypePhoto: {
		{Key: "releaseDate", Label: "Taken", Widget: media.WidgetDate, Builtin: true, SortOrder: 30},
	},
}

// defaultGroups is the layout used when no admin config defines any.
var defaultGroups = []media.FieldGroup{
	{Key: DefaultGroupKey, Title: "Details", Layout: media.GroupVertical, SortOrder: 0},
}

// Builtins returns the builtin definitions for a metadata type in sort order.
func Builtins(mt media.MetadataType) []Definition {
	defs := append([]Definition(nil), builtinCommon...)
	defs = append(defs, builtinByType[mt]...)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].SortOrder < defs[j].SortOrder })
	return defs
}

// Service resolves detail-field layouts from built-ins, custom fields and the
// stored admin configuration.
type Service struct {
	store *store.Store
}

func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Resolve computes the grouped layout for one metadata type and section.
func (s *Service) Resolve(ctx context.Context, mt media.MetadataType, sectionID int64) ([]Group, error) {
	cfg, err := s.lookupConfig(ctx, mt, sectionID)
	if err != nil {
		return nil, err
	}

	defs := s.effectiveDefinitions(ctx, mt, cfg)
	if defs == nil {
		custom, err := s.customFor(ctx, mt, cfg)
		if err != nil {
			return nil, err
		}
		defs = append(Builtins(mt), custom...)
	}

	groups := defaultGroups
	var assignments map[string]string
	if cfg != nil {
		if len(cfg.Groups) > 0 {
			groups = cfg.Groups
		}
		assignments = cfg.Assignments
	}

	byKey := make(map[string]*Group, len(groups))
	ordered := make([]*Group, 0, len(groups))
	for _, g := range groups {
		grp := &Group{FieldGroup: g}
		byKey[g.Key] = grp
		ordered = append(ordered, grp)
	}
	fallback := byKey[DefaultGroupKey]
	if fallback == nil {
		fallback = &Group{FieldGroup: defaultGroups[0]}
		ordered = append(ordered, fallback)
	}

	for _, d := range defs {
		target := fallback
		if gk, ok := assignments[d.Key]; ok {
			if g, ok := byKey[gk]; ok {
				target = g
			}
		}
		target.Fields = append(target.Fields, d)
	}

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })
	out := make([]Group, 0, len(ordered))
	for _, g := range ordered {
		if len(g.Fields) > 0 {
			out = append(out, *g)
		}
	}
	return out, nil
}

// effectiveDefinitions is split out so Resolve stays readable; returning nil
// means "no config filtering, use everything".
func (s *Service) effectiveDefinitions(ctx context.Context, mt media.MetadataType, cfg *media.DetailFieldConfiguration) []Definition {
	if cfg == nil {
		return nil
	}
	disabled := make(map[string]bool, len(cfg.DisabledBuiltins)+len(cfg.DisabledCustomKeys))
	for _, k := range cfg.DisabledBuiltins {
		disabled[k] = true
	}
	for _, k := range cfg.DisabledCustomKeys {
		disabled[k] = true
	}

	var defs []Definition
	if len(cfg.EnabledBuiltins) > 0 {
		// Explicit enable list pins builtin order.
		all := map[string]Definition{}
		for _, d := range Builtins(mt) {
			all[d.Key] = d
		}
		for i, k := range cfg.EnabledBuiltins {
			d, ok := all[k]
			if !ok || disabled[k] {
				continue
			}
			d.SortOrder = i
			defs = append(defs, d)
		}
	} else {
		for _, d := range Builtins(mt) {
			if !disabled[d.Key] {
				defs = append(defs, d)
			}
		}
	}

	custom, err := s.customFor(ctx, mt, cfg)
	if err == nil {
		defs = append(defs, custom...)
	}
	if defs == nil {
		defs = []Definition{}
	}
	return defs
}

func (s *Service) customFor(ctx context.Context, mt media.MetadataType, cfg *media.DetailFieldConfiguration) ([]Definition, error) {
	fields, err := s.store.ListCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	disabled := map[string]bool{}
	if cfg != nil {
		for _, k := range cfg.DisabledCustomKeys {
			disabled[k] = true
		}
	}
	var out []Definition
	for _, f := range fields {
		if !f.Enabled || disabled[f.Key] || !appliesTo(f, mt) {
			continue
		}
		out = append(out, Definition{
			Key:       f.Key,
			Label:     f.Label,
			Widget:    f.Widget,
			SortOrder: 100 + f.SortOrder,
		})
	}
	return out, nil
}

func appliesTo(f media.CustomFieldDefinition, mt media.MetadataType) bool {
	if len(f.AppliesTo) == 0 {
		return true
	}
	for _, t := range f.AppliesTo {
		if t == mt {
			return true
		}
	}
	return false
}

func (s *Service) lookupConfig(ctx context.Context, mt media.MetadataType, sectionID int64) (*media.DetailFieldConfiguration, error) {
	if sectionID != 0 {
		cfg, err := s.store.GetDetailFieldConfiguration(ctx, mt, sectionID)
		if err != nil || cfg != nil {
			return cfg, err
		}
	}
	return s.store.GetDetailFieldConfiguration(ctx, mt, 0)
}

// SaveConfiguration validates and stores an admin layout.
func (s *Service) SaveConfiguration(ctx context.Context, cfg *media.DetailFieldConfiguration) error {
	if cfg.MetadataType == "" {
		return errdef.Invalid("metadata type required")
	}
	groupKeys := map[string]bool{DefaultGroupKey: true}
	for _, g := range cfg.Groups {
		switch g.Layout {
		case media.GroupVertical, media.GroupHorizontal, media.GroupGrid:
		default:
			return errdef.Invalid("unknown group layout %q", string(g.Layout))
		}
		if g.Key == "" {
			return errdef.Invalid("group key required")
		}
		groupKeys[g.Key] = true
	}
	for field, group := range cfg.Assignments {
		if !groupKeys[group] {
			return errdef.Invalid("assignment of %q targets unknown group %q", field, group)
		}
	}
	return s.store.SaveDetailFieldConfiguration(ctx, cfg)
}

// SaveCustomField validates and stores an admin-defined field.
func (s *Service) SaveCustomField(ctx context.Context, f *media.CustomFieldDefinition) error {
	if f.Key == "" || f.Label == "" {
		return errdef.Invalid("custom field key and label required")
	}
	switch f.Widget {
	case media.WidgetText, media.WidgetNumber, media.WidgetBoolean, media.WidgetDate,
		media.WidgetLink, media.WidgetList, media.WidgetBadge:
	default:
		return errdef.Invalid("unknown widget %q", string(f.Widget))
	}
	return s.store.SaveCustomField(ctx, f)
}

// DeleteCustomField removes a custom field definition.
func (s *Service) DeleteCustomField(ctx context.Context, key string) error {
	return s.store.DeleteCustomField(ctx, key)
}

// ResetConfiguration drops the stored layout so defaults apply again.
func (s *Service) ResetConfiguration(ctx context.Context, mt media.MetadataType, sectionID int64) error {
	return s.store.ResetDetailFieldConfiguration(ctx, mt, sectionID)
}
