// Package intervalcache serves PBX call history for a time window from the
// local cache, fetching from the provider only the parts not yet cached.
package intervalcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/pbx"
)

var ErrInvalidRange = errors.New("start must be before end")

// Range is a closed interval of unix seconds.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Span() time.Duration {
	return time.Duration(r.End-r.Start) * time.Second
}

type Provider interface {
	History(ctx context.Context, from, to int64) ([]pbx.Call, error)
}

type Store interface {
	SyncedRange(ctx context.Context, ownerID string) (Range, bool, error)
	Insert(ctx context.Context, calls []models.IntervalRecord) (int, error)
	CallsBetween(ctx context.Context, ownerID string, r Range) ([]models.IntervalRecord, error)
}

type marker struct {
	r       Range
	expires time.Time
}

// Cache reconciles requested windows against what is stored.
type Cache struct {
	provider  Provider
	store     Store
	spanLimit time.Duration
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	markers map[string]marker
}

// New builds a cache. spanLimit is the longest window the provider accepts
// in one request; zero means unlimited.
func New(provider Provider, store Store, spanLimit, ttl time.Duration) *Cache {
	return &Cache{
		provider:  provider,
		store:     store,
		spanLimit: spanLimit,
		ttl:       ttl,
		now:       time.Now,
		markers:   make(map[string]marker),
	}
}

// Sync returns the owner's calls within req, fetching and caching whatever
// part of req is not covered yet. Nothing is stored unless every fetch
// succeeds.
func (c *Cache) Sync(ctx context.Context, ownerID string, req Range) ([]models.IntervalRecord, error) {
	if req.Start >= req.End {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, req.Start, req.End)
	}
	log := slog.With("owner_id", ownerID, "start", req.Start, "end", req.End)

	if c.recentlyServed(ownerID, req) {
		log.Debug("interval served from marker")
		return c.store.CallsBetween(ctx, ownerID, req)
	}

	synced, ok, err := c.store.SyncedRange(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	plan := c.Plan(req, synced, ok)

	if len(plan) > 0 {
		var fetched []models.IntervalRecord
		for _, r := range plan {
			calls, err := c.provider.History(ctx, r.Start, r.End)
			if err != nil {
				log.Warn("pbx fetch failed", "from", r.Start, "to", r.End, "error", err)
				return nil, err
			}
			for _, call := range calls {
				rec, err := call.Record(ownerID)
				if errors.Is(err, pbx.ErrInvalidCall) {
					log.Warn("skipping pbx call", "call_id", call.UUID, "error", err)
					continue
				}
				if err != nil {
					return nil, err
				}
				fetched = append(fetched, rec)
			}
		}
		if _, err := c.store.Insert(ctx, fetched); err != nil {
			return nil, err
		}
		log.Info("interval synced", "fetches", len(plan), "calls", len(fetched))
	}

	c.markServed(ownerID, req)
	return c.store.CallsBetween(ctx, ownerID, req)
}

// Plan returns the provider windows needed to cover req given the synced
// range. Any window longer than the span limit is split.
func (c *Cache) Plan(req, synced Range, haveSynced bool) []Range {
	var gaps []Range
	switch {
	case !haveSynced:
		gaps = []Range{req}
	case synced.Start <= req.Start && req.End <= synced.End:
		return nil
	case synced.End <= req.Start:
		gaps = []Range{c.bridge(Range{Start: synced.End, End: req.End}, req)}
	case req.End <= synced.Start:
		gaps = []Range{c.bridge(Range{Start: req.Start, End: synced.Start}, req)}
	default:
		if req.Start < synced.Start {
			gaps = append(gaps, Range{Start: req.Start, End: synced.Start})
		}
		if synced.End < req.End {
			gaps = append(gaps, Range{Start: synced.End, End: req.End})
		}
	}

	var out []Range
	for _, g := range gaps {
		out = append(out, c.split(g)...)
	}
	return out
}

// bridge extends coverage contiguously to a disjoint request unless the
// bridging window is over the provider limit, in which case only the
// request itself is fetched.
func (c *Cache) bridge(gap, req Range) Range {
	if c.spanLimit > 0 && gap.Span() > c.spanLimit {
		return req
	}
	return gap
}

func (c *Cache) split(r Range) []Range {
	limit := int64(c.spanLimit / time.Second)
	if limit <= 0 || r.End-r.Start <= limit {
		return []Range{r}
	}
	var out []Range
	for start := r.Start; start < r.End; start += limit {
		end := start + limit
		if end > r.End {
			end = r.End
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}

func (c *Cache) recentlyServed(ownerID string, r Range) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markers[ownerID]
	return ok && m.r == r && c.now().Before(m.expires)
}

func (c *Cache) markServed(ownerID string, r Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[ownerID] = marker{r: r, expires: c.now().Add(c.ttl)}
}
