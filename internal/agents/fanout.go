// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
)

// Outcome pairs an agent with what it returned for one item.
type Outcome struct {
	Agent  Agent
	Result *Result
	Err    error
}

// Fanout dispatches one item across its applicable agents. Remote calls
// share a process-wide semaphore; local categories run inline since they
// only touch the filesystem.
type Fanout struct {
	registry *Registry
	remote   *semaphore.Weighted
	log      zerolog.Logger
}

// NewFanout caps concurrent remote agent calls at remoteCap across all scan
// workers.
func NewFanout(registry *Registry, remoteCap int64) *Fanout {
	if remoteCap < 1 {
		remoteCap = 1
	}
	return &Fanout{
		registry: registry,
		remote:   semaphore.NewWeighted(remoteCap),
		log:      log.WithComponent("agents"),
	}
}

// Fetch runs the agents for req.Item's type in dispatch order and collects
// every outcome. A failing agent is recorded and skipped; only context
// cancellation aborts the fan-out. Within one item the calls are sequential,
// so a sidecar hit is visible before remote agents run; parallelism lives
// across items in the pipeline.
func (f *Fanout) Fetch(ctx context.Context, req Request, agentOrder []string) ([]Outcome, error) {
	if req.Item == nil {
		return nil, errdef.Invalid("fan-out requires an item")
	}
	list := f.registry.ForItem(req.Item.Type, agentOrder)
	outcomes := make([]Outcome, 0, len(list))

	for _, a := range list {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		res, err := f.fetchOne(ctx, a, req)
		if err != nil && ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		if err != nil {
			f.log.Warn().Str("agent", a.Name()).Int64("item", req.Item.ID).
				Err(err).Msg("agent failed for item")
		}
		outcomes = append(outcomes, Outcome{Agent: a, Result: res, Err: err})
	}
	return outcomes, nil
}

func (f *Fanout) fetchOne(ctx context.Context, a Agent, req Request) (*Result, error) {
	if a.Category() == CategoryRemote {
		if err := f.remote.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer f.remote.Release(1)
	}
	return a.Fetch(ctx, req)
}

// FetchImages collects artwork candidates from every image-capable agent in
// dispatch order, tagging each candidate with its source category.
func (f *Fanout) FetchImages(ctx context.Context, req Request, agentOrder []string) []ImageCandidate {
	if req.Item == nil {
		return nil
	}
	var out []ImageCandidate
	for _, a := range f.registry.ForItem(req.Item.Type, agentOrder) {
		ip, ok := a.(ImageProvider)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return out
		}
		candidates, err := func() ([]ImageCandidate, error) {
			if a.Category() == CategoryRemote {
				if err := f.remote.Acquire(ctx, 1); err != nil {
					return nil, err
				}
				defer f.remote.Release(1)
			}
			return ip.ProvideImages(ctx, req)
		}()
		if err != nil {
			f.log.Warn().Str("agent", a.Name()).Int64("item", req.Item.ID).
				Err(err).Msg("image provider failed for item")
			continue
		}
		for i := range candidates {
			if candidates[i].Source == "" {
				candidates[i].Source = a.Category()
			}
		}
		out = append(out, candidates...)
	}
	return out
}

// SelectImages picks one winner per role by precedence: sidecar, then
// embedded, then remote in candidate order; score breaks ties inside a
// category.
func SelectImages(candidates []ImageCandidate) map[ImageRole]ImageCandidate {
	rank := map[Category]int{
		CategorySidecar: 0, CategoryLocal: 1, CategoryEmbedded: 2, CategoryRemote: 3,
	}
	winners := make(map[ImageRole]ImageCandidate)
	for _, c := range candidates {
		cur, ok := winners[c.Role]
		if !ok {
			winners[c.Role] = c
			continue
		}
		if rank[c.Source] < rank[cur.Source] ||
			(rank[c.Source] == rank[cur.Source] && c.Score > cur.Score) {
			winners[c.Role] = c
		}
	}
	return winners
}
