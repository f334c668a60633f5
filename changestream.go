package mongolite

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mongolite/mongolite/errors"
)

const (
	opInsert  = "insert"
	opUpdate  = "update"
	opReplace = "replace"
	opDelete  = "delete"
)

// changeRow is a raw entry of a collection's append-only change log
type changeRow struct {
	Seq    uint64
	Op     string
	DocID  string
	Doc    *Document
	Update map[string]any
	Ts     time.Time
}

// Namespace identifies the collection an event originated from
type Namespace struct {
	Database   string `json:"db"`
	Collection string `json:"coll"`
}

// UpdateDescription describes the fields touched by an update
type UpdateDescription struct {
	UpdatedFields map[string]any `json:"updatedFields"`
	RemovedFields []string       `json:"removedFields"`
}

// ChangeEvent is the public record of a single mutation
type ChangeEvent struct {
	ID                string             `json:"_id"`
	OperationType     string             `json:"operationType"`
	DocumentKey       map[string]any     `json:"documentKey"`
	Namespace         Namespace          `json:"ns"`
	FullDocument      *Document          `json:"fullDocument,omitempty"`
	UpdateDescription *UpdateDescription `json:"updateDescription,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// emit appends a change row with the next sequence number and broadcasts
// the transformed event to in-process subscribers.
func (c *Collection) emit(ctx context.Context, op, docID string, doc *Document, update map[string]any) {
	c.mu.Lock()
	c.seq++
	row := &changeRow{
		Seq:    c.seq,
		Op:     op,
		DocID:  docID,
		Update: update,
		Ts:     time.Now(),
	}
	if doc != nil {
		row.Doc = doc.Clone()
	}
	c.log = append(c.log, row)
	c.mu.Unlock()
	event := c.transformRow(ctx, row, false)
	c.db.events.Broadcast(ctx, c.db.channel(c.name), event)
	c.db.logger.Debug(ctx, "change event", map[string]any{
		"collection": c.name,
		"operation":  op,
		"documentId": docID,
		"sequence":   row.Seq,
	})
}

func (c *Collection) currentSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

func (c *Collection) logAfter(seq uint64) []*changeRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := sort.Search(len(c.log), func(i int) bool {
		return c.log[i].Seq > seq
	})
	if idx >= len(c.log) {
		return nil
	}
	rows := make([]*changeRow, len(c.log)-idx)
	copy(rows, c.log[idx:])
	return rows
}

// transformRow turns a raw log row into a public change event. Inserts and
// replaces carry the full document, updates carry an updateDescription
// derived from the original update specification (plus a fresh lookup when
// requested), deletes carry neither.
func (c *Collection) transformRow(ctx context.Context, row *changeRow, updateLookup bool) *ChangeEvent {
	event := &ChangeEvent{
		ID:            generateResumeToken(c.db.config.Name, c.name, row.Seq, row.Ts),
		OperationType: row.Op,
		DocumentKey:   map[string]any{"_id": row.DocID},
		Namespace:     Namespace{Database: c.db.config.Name, Collection: c.name},
		Timestamp:     row.Ts,
	}
	switch row.Op {
	case opInsert, opReplace:
		event.FullDocument = row.Doc
	case opUpdate:
		event.UpdateDescription = describeUpdate(row.Update, row.Doc)
		if updateLookup {
			if bits, err := c.store.Get(ctx, row.DocID); err == nil && bits != nil {
				if doc, err := NewDocumentFromBytes(bits); err == nil {
					event.FullDocument = doc
				}
			}
		}
	}
	return event
}

func describeUpdate(update map[string]any, after *Document) *UpdateDescription {
	desc := &UpdateDescription{UpdatedFields: map[string]any{}}
	for op, fields := range update {
		fieldMap, ok := fields.(map[string]any)
		if !ok {
			continue
		}
		switch op {
		case "$unset":
			for field := range fieldMap {
				desc.RemovedFields = append(desc.RemovedFields, field)
			}
		case "$rename":
			for field, target := range fieldMap {
				desc.RemovedFields = append(desc.RemovedFields, field)
				if targetPath, ok := target.(string); ok {
					desc.UpdatedFields[targetPath] = after.Get(targetPath)
				}
			}
		default:
			for field := range fieldMap {
				desc.UpdatedFields[field] = after.Get(field)
			}
		}
	}
	sort.Strings(desc.RemovedFields)
	return desc
}

// WatchOptions configures a change stream subscription
type WatchOptions struct {
	// ResumeAfter resumes the stream after the position of the given token.
	// A malformed token falls back to the current tail.
	ResumeAfter string
	// StartAfter behaves like ResumeAfter
	StartAfter string
	// FullDocument set to "updateLookup" attaches a fresh full-document
	// lookup to update events
	FullDocument string
	// PollInterval is the fixed delay between empty polls
	PollInterval time.Duration
	// MaxAwait caps how long a single Next call waits for an event
	MaxAwait time.Duration
}

// Watch opens a resumable change stream over the collection. Pipeline
// $match stages filter the transformed events; other stages are ignored.
func (c *Collection) Watch(ctx context.Context, pipeline []map[string]any, opts ...*WatchOptions) (*ChangeStream, error) {
	options := &WatchOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	var filters []map[string]any
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, errors.New(errors.Validation, "pipeline stages must have exactly one key")
		}
		if match, ok := stage["$match"].(map[string]any); ok {
			filters = append(filters, match)
		}
	}
	start := c.currentSeq()
	if token := firstNonEmpty(options.ResumeAfter, options.StartAfter); token != "" {
		if payload, err := parseResumeToken(token); err == nil {
			start = payload.Sequence
		}
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = c.db.config.PollInterval
	}
	maxAwait := options.MaxAwait
	if maxAwait <= 0 {
		maxAwait = c.db.config.MaxAwaitTime
	}
	stream := &ChangeStream{
		coll:         c,
		filters:      filters,
		updateLookup: options.FullDocument == "updateLookup",
		lastSeq:      start,
		pollInterval: pollInterval,
		maxAwait:     maxAwait,
		done:         make(chan struct{}),
	}
	c.db.logger.Debug(ctx, "opened change stream", map[string]any{
		"collection": c.name,
		"start":      start,
	})
	return stream, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ChangeStream is a resumable, filterable subscription over a collection's
// change log
type ChangeStream struct {
	coll         *Collection
	filters      []map[string]any
	updateLookup bool
	pollInterval time.Duration
	maxAwait     time.Duration

	mu      sync.Mutex
	lastSeq uint64
	buffer  []*ChangeEvent
	closed  bool
	done    chan struct{}
}

// Next returns the next change event, draining buffered events first and
// otherwise polling the log at a fixed interval up to the maximum wait. It
// returns nil on timeout or closure and never fails for "no new events".
func (s *ChangeStream) Next(ctx context.Context) (*ChangeEvent, error) {
	deadline := time.Now().Add(s.maxAwait)
	for {
		event, err := s.poll(ctx)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
		if s.isClosed() || time.Now().After(deadline) {
			return nil, nil
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		}
	}
}

// TryNext returns a buffered or immediately available event without waiting
func (s *ChangeStream) TryNext(ctx context.Context) (*ChangeEvent, error) {
	return s.poll(ctx)
}

// HasNext reports whether an event is immediately available, without
// consuming it
func (s *ChangeStream) HasNext(ctx context.Context) (bool, error) {
	if err := s.fill(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) > 0, nil
}

// poll drains the buffer first; a closed stream still drains buffered
// events but never touches the log again.
func (s *ChangeStream) poll(ctx context.Context) (*ChangeEvent, error) {
	if err := s.fill(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return nil, nil
	}
	event := s.buffer[0]
	s.buffer = s.buffer[1:]
	return event, nil
}

func (s *ChangeStream) fill(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || len(s.buffer) > 0 {
		s.mu.Unlock()
		return nil
	}
	last := s.lastSeq
	s.mu.Unlock()

	rows := s.coll.logAfter(last)
	if len(rows) == 0 {
		return nil
	}
	var events []*ChangeEvent
	for _, row := range rows {
		last = row.Seq
		event := s.coll.transformRow(ctx, row, s.updateLookup)
		pass, err := s.matches(event)
		if err != nil {
			return err
		}
		if pass {
			events = append(events, event)
		}
	}
	s.mu.Lock()
	if last > s.lastSeq {
		s.lastSeq = last
		s.buffer = append(s.buffer, events...)
	}
	s.mu.Unlock()
	return nil
}

func (s *ChangeStream) matches(event *ChangeEvent) (bool, error) {
	if len(s.filters) == 0 {
		return true, nil
	}
	value := map[string]any{
		"_id":           event.ID,
		"operationType": event.OperationType,
		"documentKey":   event.DocumentKey,
		"ns": map[string]any{
			"db":   event.Namespace.Database,
			"coll": event.Namespace.Collection,
		},
	}
	if event.FullDocument != nil {
		value["fullDocument"] = event.FullDocument.Value()
	}
	if event.UpdateDescription != nil {
		removed := make([]any, 0, len(event.UpdateDescription.RemovedFields))
		for _, field := range event.UpdateDescription.RemovedFields {
			removed = append(removed, field)
		}
		value["updateDescription"] = map[string]any{
			"updatedFields": event.UpdateDescription.UpdatedFields,
			"removedFields": removed,
		}
	}
	for _, filter := range s.filters {
		pass, err := matchValue(value, filter)
		if err != nil {
			return false, err
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

func (s *ChangeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the stream. Closing is idempotent and safe to call
// concurrently with an in-flight poll, which it wakes promptly.
func (s *ChangeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}
