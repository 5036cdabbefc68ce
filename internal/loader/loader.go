// Package loader implements the request-scoped batching cache.
//
// A Cache is created for exactly one top-level request. Loads of the same
// kind that are enqueued before the first waiter of that kind suspends form
// one batch window; the window is sent to the owner as a single find-by-ids
// call with deduplicated ids. Entries stay in the cache for the rest of the
// request, so a repeated lookup of a resolved id never reaches the network.
package loader

import (
	"context"
	"sync"
	"time"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	eventbus "github.com/hanpama/aegraph/internal/eventbus"
	events "github.com/hanpama/aegraph/internal/events"
)

// FetchFunc loads the entities of kind with the given ids. Ids absent from
// the result are treated as not found. A returned error fails the whole
// window.
type FetchFunc func(ctx context.Context, kind entity.Kind, ids []int64) ([]*entity.Entity, error)

// Cache is the per-request batching cache. It is safe for concurrent use.
type Cache struct {
	fetch    FetchFunc
	maxBatch int

	mu      sync.Mutex
	entries map[entity.Ref]*entry
	pending map[entity.Kind][]*entry // current window per kind, in enqueue order
}

type entry struct {
	ref    entity.Ref
	done   chan struct{}
	val    *entity.Entity
	err    error
	queued bool // still in its window, not dispatched
	joins  int  // loads that joined while queued
}

func (e *entry) resolve(v *entity.Entity, err error) {
	e.val, e.err = v, err
	close(e.done)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBatch caps the number of ids per remote call. Once a window holds n
// ids, further ids wait for the next window. Zero means unlimited.
func WithMaxBatch(n int) Option {
	return func(c *Cache) { c.maxBatch = n }
}

func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:   fetch,
		entries: make(map[entity.Ref]*entry),
		pending: make(map[entity.Kind][]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Thunk is a handle on one cache entry.
type Thunk struct {
	c *Cache
	e *entry
}

// Enqueue registers a load without suspending. Enqueueing an id that already
// has an entry, pending or resolved, returns a handle on that entry.
func (c *Cache) Enqueue(kind entity.Kind, id int64) *Thunk {
	ref := entity.Ref{Kind: kind, ID: id}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[ref]; ok {
		if e.queued {
			e.joins++
		}
		return &Thunk{c: c, e: e}
	}
	e := &entry{ref: ref, done: make(chan struct{})}
	c.entries[ref] = e
	if err := entity.CheckID("id", id); err != nil {
		e.resolve(nil, err)
		return &Thunk{c: c, e: e}
	}
	e.queued = true
	e.joins = 1
	c.pending[kind] = append(c.pending[kind], e)
	return &Thunk{c: c, e: e}
}

// Ref returns the reference the thunk resolves.
func (t *Thunk) Ref() entity.Ref { return t.e.ref }

// Wait suspends until the entry is resolved. If the entry's window has not
// been dispatched yet, Wait dispatches it. A cancelled ctx releases the
// waiter; the fetch itself runs to completion and its result stays cached.
func (t *Thunk) Wait(ctx context.Context) (*entity.Entity, error) {
	t.c.flush(ctx, t.e)
	select {
	case <-t.e.done:
		return t.e.val, t.e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Load returns the entity of kind with id.
func (c *Cache) Load(ctx context.Context, kind entity.Kind, id int64) (*entity.Entity, error) {
	return c.Enqueue(kind, id).Wait(ctx)
}

// LoadMany loads ids as one contribution to the current window. Results and
// errors are aligned with ids; duplicates share one entry.
func (c *Cache) LoadMany(ctx context.Context, kind entity.Kind, ids []int64) ([]*entity.Entity, []error) {
	thunks := make([]*Thunk, len(ids))
	for i, id := range ids {
		thunks[i] = c.Enqueue(kind, id)
	}
	vals := make([]*entity.Entity, len(ids))
	failures := make([]error, len(ids))
	for i, th := range thunks {
		vals[i], failures[i] = th.Wait(ctx)
	}
	return vals, failures
}

// Flush dispatches the current window of kind without waiting for it.
func (c *Cache) Flush(ctx context.Context, kind entity.Kind) {
	for {
		c.mu.Lock()
		batch := c.take(kind, nil)
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		go c.run(context.WithoutCancel(ctx), kind, batch)
	}
}

// Prime stores e as resolved unless its id already has an entry.
func (c *Cache) Prime(e *entity.Entity) {
	if e == nil {
		return
	}
	ref := e.Ref()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[ref]; ok {
		return
	}
	ent := &entry{ref: ref, done: make(chan struct{})}
	ent.resolve(e, nil)
	c.entries[ref] = ent
}

// Len returns the number of entries, resolved or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) flush(ctx context.Context, e *entry) {
	c.mu.Lock()
	if !e.queued {
		c.mu.Unlock()
		return
	}
	batch := c.take(e.ref.Kind, e)
	c.mu.Unlock()
	go c.run(context.WithoutCancel(ctx), e.ref.Kind, batch)
}

// take removes up to maxBatch entries from the window of kind. must, when
// set, is always part of the result. c.mu must be held.
func (c *Cache) take(kind entity.Kind, must *entry) []*entry {
	window := c.pending[kind]
	if len(window) == 0 {
		return nil
	}
	if c.maxBatch <= 0 || len(window) <= c.maxBatch {
		delete(c.pending, kind)
		for _, e := range window {
			e.queued = false
		}
		return window
	}

	batch := make([]*entry, 0, c.maxBatch)
	rest := make([]*entry, 0, len(window)-c.maxBatch)
	if must != nil {
		batch = append(batch, must)
	}
	for _, e := range window {
		if e == must {
			continue
		}
		if len(batch) < c.maxBatch {
			batch = append(batch, e)
		} else {
			rest = append(rest, e)
		}
	}
	for _, e := range batch {
		e.queued = false
	}
	c.pending[kind] = rest
	return batch
}

func (c *Cache) run(ctx context.Context, kind entity.Kind, batch []*entry) {
	start := time.Now()
	ids := make([]int64, len(batch))
	requested := 0
	c.mu.Lock()
	for i, e := range batch {
		ids[i] = e.ref.ID
		requested += e.joins
	}
	c.mu.Unlock()

	found, err := c.fetch(ctx, kind, ids)
	missing := 0
	if err != nil {
		for _, e := range batch {
			e.resolve(nil, err)
		}
	} else {
		byID := make(map[int64]*entity.Entity, len(found))
		for _, v := range found {
			if v != nil {
				byID[v.ID] = v
			}
		}
		for _, e := range batch {
			if v, ok := byID[e.ref.ID]; ok {
				e.resolve(v, nil)
				continue
			}
			missing++
			e.resolve(nil, errs.NotFound(string(kind), e.ref.ID))
		}
	}
	eventbus.Publish(ctx, events.BatchDispatch{
		Kind:      string(kind),
		Requested: requested,
		Size:      len(ids),
		Missing:   missing,
		Err:       err,
		Duration:  time.Since(start),
	})
}

type ctxKey struct{}

// NewContext returns a copy of parent carrying c.
func NewContext(parent context.Context, c *Cache) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// FromContext returns the cache of the current request.
func FromContext(ctx context.Context) (*Cache, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Cache)
	return c, ok && c != nil
}
