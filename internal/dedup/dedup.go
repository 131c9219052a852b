// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package dedup resolves external ids to existing metadata items so one
// logical entity never gets created twice: once against the store, and once
// against an in-scan cache that catches duplicates inside a single batch
// before any row is committed.
package dedup

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// Factory creates a new item when no existing one matches. It must persist
// the item, including its external ids.
type Factory func(ctx context.Context) (*media.MetadataItem, error)

// Resolver answers "which item carries these external ids" for one scan.
// The cache is single-writer per scan and reset at scan end; a fresh
// Resolver per scan run is the expected usage.
type Resolver struct {
	store *store.Store
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]int64
}

type cacheKey struct {
	sectionID int64
	typ       media.MetadataType
	provider  string
	id        string
}

// New returns a resolver with an empty scan cache.
func New(st *store.Store) *Resolver {
	return &Resolver{
		store: st,
		log:   log.WithComponent("dedup"),
		cache: make(map[cacheKey]int64),
	}
}

// Resolve returns the existing item matching any of ids, or invokes factory
// and registers the new item's ids in the cache. Multi-id lookup: any match
// wins; the store breaks ties by earliest row id.
func (r *Resolver) Resolve(ctx context.Context, sectionID int64, typ media.MetadataType, ids map[string]string, factory Factory) (*media.MetadataItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for provider, id := range ids {
		if itemID, ok := r.cache[cacheKey{sectionID, typ, provider, id}]; ok {
			return r.store.GetMetadataItem(ctx, itemID)
		}
	}
	for provider, id := range ids {
		item, err := r.store.FindByExternalID(ctx, sectionID, typ, provider, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			r.remember(sectionID, typ, item)
			return item, nil
		}
	}

	item, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	// The factory may have attached ids the caller did not know about.
	if item.ExternalIDs == nil && len(ids) > 0 {
		item.ExternalIDs = ids
	}
	r.remember(sectionID, typ, item)
	r.log.Debug().Int64("item", item.ID).Str("type", string(typ)).Msg("created new item")
	return item, nil
}

func (r *Resolver) remember(sectionID int64, typ media.MetadataType, item *media.MetadataItem) {
	for provider, id := range item.ExternalIDs {
		r.cache[cacheKey{sectionID, typ, provider, id}] = item.ID
	}
}

// Reset clears the in-scan cache. Called when the owning scan finishes.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[cacheKey]int64)
}
