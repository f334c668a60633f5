package mongolite

import (
	"context"
	"sync"

	"github.com/mongolite/mongolite/errors"
)

type cursorState int

const (
	cursorUnfetched cursorState = iota
	cursorFetched
	cursorClosed
)

// Cursor is a lazy view over a find query or an aggregation pipeline.
// Modifiers are legal only before the first fetch. The first error is
// retained and re-raised on every later call until the cursor is closed.
type Cursor struct {
	mu    sync.Mutex
	state cursorState
	err   error

	coll   *Collection
	filter map[string]any
	// find-backed cursors re-issue the query with the modified options
	findOpts *FindOptions
	// aggregation-backed cursors apply sort, skip, limit and projection
	// client-side after the pipeline buffer is fetched, in that order
	pipeline []map[string]any

	batchSize int32
	mapFn     func(*Document) *Document

	buffer Documents
	pos    int
}

func newFindCursor(coll *Collection, filter map[string]any, opts *FindOptions) *Cursor {
	return &Cursor{
		coll:     coll,
		filter:   filter,
		findOpts: opts,
	}
}

func newAggregateCursor(coll *Collection, pipeline []map[string]any) *Cursor {
	return &Cursor{
		coll:     coll,
		pipeline: pipeline,
		findOpts: &FindOptions{},
	}
}

func (c *Cursor) modify(fn func()) *Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cursorUnfetched {
		if c.err == nil {
			c.err = errors.New(errors.Validation, "cursor modifiers are only legal before the first fetch")
		}
		return c
	}
	fn()
	return c
}

// Sort sets the sort order
func (c *Cursor) Sort(sort any) *Cursor {
	return c.modify(func() { c.findOpts.Sort = sort })
}

// Limit caps the number of returned documents
func (c *Cursor) Limit(limit int64) *Cursor {
	return c.modify(func() { c.findOpts.Limit = &limit })
}

// Skip skips the first documents of the result
func (c *Cursor) Skip(skip int64) *Cursor {
	return c.modify(func() { c.findOpts.Skip = &skip })
}

// Project shapes the returned documents
func (c *Cursor) Project(projection map[string]any) *Cursor {
	return c.modify(func() { c.findOpts.Projection = projection })
}

// BatchSize sets the fetch batch size hint
func (c *Cursor) BatchSize(size int32) *Cursor {
	return c.modify(func() { c.batchSize = size })
}

func (c *Cursor) fetch(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if c.state != cursorUnfetched {
		return nil
	}
	var (
		documents Documents
		err       error
	)
	if c.pipeline != nil {
		documents, err = c.fetchPipeline(ctx)
	} else {
		documents, err = c.coll.findDocs(ctx, c.filter, c.findOpts.Sort, c.findOpts.Skip, c.findOpts.Limit, c.findOpts.Projection)
	}
	if err != nil {
		c.err = err
		return err
	}
	c.buffer = documents
	c.pos = 0
	c.state = cursorFetched
	return nil
}

func (c *Cursor) fetchPipeline(ctx context.Context) (Documents, error) {
	snapshot, err := c.coll.readAll(ctx)
	if err != nil {
		return nil, err
	}
	documents, err := executePipeline(ctx, c.coll.db, snapshot, c.pipeline)
	if err != nil {
		return nil, err
	}
	sortFields, err := parseSort(c.findOpts.Sort)
	if err != nil {
		return nil, err
	}
	documents = orderBy(sortFields, documents)
	if c.findOpts.Skip != nil && *c.findOpts.Skip > 0 {
		if int(*c.findOpts.Skip) >= len(documents) {
			documents = Documents{}
		} else {
			documents = documents[*c.findOpts.Skip:]
		}
	}
	if c.findOpts.Limit != nil && *c.findOpts.Limit > 0 && int64(len(documents)) > *c.findOpts.Limit {
		documents = documents[:*c.findOpts.Limit]
	}
	if len(c.findOpts.Projection) > 0 {
		projected := make(Documents, 0, len(documents))
		for _, doc := range documents {
			p, err := applyProjection(doc, c.findOpts.Projection)
			if err != nil {
				return nil, err
			}
			projected = append(projected, p)
		}
		documents = projected
	}
	return documents, nil
}

// Next returns the next document, or nil once the cursor is drained or
// closed
func (c *Cursor) Next(ctx context.Context) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.state == cursorClosed {
		return nil, nil
	}
	if err := c.fetch(ctx); err != nil {
		return nil, err
	}
	if c.pos >= len(c.buffer) {
		return nil, nil
	}
	doc := c.buffer[c.pos]
	c.pos++
	if c.mapFn != nil {
		doc = c.mapFn(doc)
	}
	return doc, nil
}

// TryNext returns the next buffered document without blocking beyond the
// initial fetch
func (c *Cursor) TryNext(ctx context.Context) (*Document, error) {
	return c.Next(ctx)
}

// HasNext reports whether a document remains without consuming it
func (c *Cursor) HasNext(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.state == cursorClosed {
		return false, nil
	}
	if err := c.fetch(ctx); err != nil {
		return false, err
	}
	return c.pos < len(c.buffer), nil
}

// ToArray drains the remaining documents and closes the cursor
func (c *Cursor) ToArray(ctx context.Context) (Documents, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.state == cursorClosed {
		return nil, nil
	}
	if err := c.fetch(ctx); err != nil {
		return nil, err
	}
	remaining := make(Documents, 0, len(c.buffer)-c.pos)
	for ; c.pos < len(c.buffer); c.pos++ {
		doc := c.buffer[c.pos]
		if c.mapFn != nil {
			doc = c.mapFn(doc)
		}
		remaining = append(remaining, doc)
	}
	c.state = cursorClosed
	return remaining, nil
}

// ForEach applies fn to each remaining document. Returning false from fn
// stops the iteration early.
func (c *Cursor) ForEach(ctx context.Context, fn func(doc *Document) (bool, error)) error {
	for {
		doc, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		next, err := fn(doc)
		if err != nil {
			return err
		}
		if !next {
			return nil
		}
	}
}

// Map returns a lazily transformed view over the same cursor
func (c *Cursor) Map(fn func(doc *Document) *Document) *Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mapFn
	if prev == nil {
		c.mapFn = fn
	} else {
		c.mapFn = func(doc *Document) *Document {
			return fn(prev(doc))
		}
	}
	return c
}

// Clone returns an independent cursor over the same query or pipeline with
// fresh fetch state
func (c *Cursor) Clone() *Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := *c.findOpts
	return &Cursor{
		coll:      c.coll,
		filter:    c.filter,
		findOpts:  &opts,
		pipeline:  c.pipeline,
		batchSize: c.batchSize,
		mapFn:     c.mapFn,
	}
}

// Close closes the cursor. Closing is terminal and idempotent.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cursorClosed
	c.buffer = nil
	c.err = nil
	return nil
}
